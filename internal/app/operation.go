package app

// Command tracks the CLI command being run. A command that changes
// documents or snapshots is marked mutating; when a mutating command
// finishes, the operations journal is copied to the vault.
type Command struct {
	Name       string
	Parameters string
	Mutating   bool
	Status     string // "success" or "error"
}

func NewCommand(name, parameters string) *Command {
	return &Command{Name: name, Parameters: parameters, Status: "success"}
}

// Mutate marks the command as one that changes state.
func (c *Command) Mutate() { c.Mutating = true }

// Fail marks the command as failed.
func (c *Command) Fail() { c.Status = "error" }
