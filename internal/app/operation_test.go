package app

import "testing"

func TestNewCommand(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		parameters string
	}{
		{name: "with parameters", command: "save", parameters: "trainer"},
		{name: "empty parameters", command: "status", parameters: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCommand(tt.command, tt.parameters)

			if c.Name != tt.command {
				t.Errorf("Name = %q, want %q", c.Name, tt.command)
			}
			if c.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", c.Parameters, tt.parameters)
			}
			if c.Status != "success" {
				t.Errorf("Status = %q, want %q", c.Status, "success")
			}
			if c.Mutating {
				t.Error("new command should not be mutating")
			}
		})
	}
}

func TestCommand_MutateAndFail(t *testing.T) {
	c := NewCommand("backup", "")
	c.Mutate()
	c.Fail()

	if !c.Mutating {
		t.Error("Mutate() did not mark the command")
	}
	if c.Status != "error" {
		t.Errorf("Status = %q, want error", c.Status)
	}
}
