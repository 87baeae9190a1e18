package sg

import (
	"errors"
	"fmt"
	"strings"

	"sg-go/internal/validate"
)

var (
	// ErrValidation marks a write refused because the document has Errors.
	ErrValidation = errors.New("validation failed")

	// ErrBackup marks a write refused because the pre-write backup failed.
	ErrBackup = errors.New("backup failed")

	// ErrIntegrity marks an artifact that failed a consistency check.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrNotFound is returned for unknown snapshot or option IDs.
	ErrNotFound = errors.New("not found")

	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrTransactionClosed  = errors.New("transaction already closed")

	// ErrNoVault is returned by mirror operations when no vault is configured.
	ErrNoVault = errors.New("no vault configured")
)

// ValidationError carries the result that blocked a write.
type ValidationError struct {
	Path   string
	Result validate.Result
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors()))
	for _, i := range e.Result.Errors() {
		msgs = append(msgs, i.Message)
	}
	if e.Path == "" {
		return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Path, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IOError describes a failed filesystem step and whether the destination
// file was changed before the failure.
type IOError struct {
	Op      string
	Path    string
	Changed bool
	Err     error
}

func (e *IOError) Error() string {
	state := "destination unchanged"
	if e.Changed {
		state = "destination modified"
	}
	return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.Path, e.Err, state)
}

func (e *IOError) Unwrap() error { return e.Err }

// FileFailure is one file that could not be restored.
type FileFailure struct {
	Path string
	Err  error
}

// RestoreError aggregates per-file failures of a multi-file restore or
// rollback. Files not listed were restored.
type RestoreError struct {
	Op       string
	Failures []FileFailure
}

func (e *RestoreError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Path, f.Err)
	}
	return fmt.Sprintf("%s failed for %d file(s): %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

// Paths returns the files that could not be restored.
func (e *RestoreError) Paths() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Path
	}
	return out
}

func (e *RestoreError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// RollbackError reports a transaction that was rolled back because its body
// failed. Incomplete is the *RestoreError of a partial rollback, or nil.
type RollbackError struct {
	Label      string
	Cause      error
	Incomplete error
}

func (e *RollbackError) Error() string {
	if e.Incomplete != nil {
		return fmt.Sprintf("transaction %s: %v; %v", e.Label, e.Cause, e.Incomplete)
	}
	return fmt.Sprintf("transaction %s rolled back: %v", e.Label, e.Cause)
}

func (e *RollbackError) Unwrap() []error {
	if e.Incomplete == nil {
		return []error{e.Cause}
	}
	return []error{e.Cause, e.Incomplete}
}
