package validate

import (
	"fmt"
	"path/filepath"
	"strings"

	"sg-go/internal/document"
)

// Severity grades an Issue. Only Error blocks a write.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Kind selects which document rules apply.
type Kind int

const (
	KindUnknown Kind = iota
	KindTrainer
	KindSlot
)

func (k Kind) String() string {
	switch k {
	case KindTrainer:
		return "trainer"
	case KindSlot:
		return "slot"
	default:
		return "unknown"
	}
}

// ParseKind parses "trainer" or "slot".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trainer":
		return KindTrainer, nil
	case "slot":
		return KindSlot, nil
	default:
		return KindUnknown, fmt.Errorf("unknown document kind %q (want trainer or slot)", s)
	}
}

// KindForPath infers the document kind from a save file name.
func KindForPath(path string) Kind {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(base, "trainer"):
		return KindTrainer
	case strings.HasPrefix(base, "slot"):
		return KindSlot
	default:
		return KindUnknown
	}
}

// Issue is a single finding about a document.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Path     string   `json:"path"`
	Field    string   `json:"field,omitempty"`
	Expected string   `json:"expected,omitempty"`
	Actual   string   `json:"actual,omitempty"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Severity, i.Message)
}

// Result is the outcome of validating one document. Valid is false exactly
// when at least one Issue has SeverityError.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Errors returns the Error issues in order.
func (r Result) Errors() []Issue { return r.filter(SeverityError) }

// Warnings returns the Warning issues in order.
func (r Result) Warnings() []Issue { return r.filter(SeverityWarning) }

// Infos returns the Info issues in order.
func (r Result) Infos() []Issue { return r.filter(SeverityInfo) }

func (r Result) filter(s Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == s {
			out = append(out, i)
		}
	}
	return out
}

// HasWarnings reports whether any Warning was raised.
func (r Result) HasWarnings() bool { return len(r.Warnings()) > 0 }

// Summary is a one-line description of the issue counts.
func (r Result) Summary() string {
	if len(r.Issues) == 0 {
		return "no issues"
	}
	return fmt.Sprintf("%d error(s), %d warning(s), %d info", len(r.Errors()), len(r.Warnings()), len(r.Infos()))
}

// report accumulates issues while a document is walked.
type report struct {
	issues []Issue
}

func (r *report) add(sev Severity, at document.Path, msg string, expected, actual string) {
	field := ""
	if last, ok := at.Last(); ok && !last.IsIndex {
		field = last.Key
	}
	r.issues = append(r.issues, Issue{
		Severity: sev,
		Message:  msg,
		Path:     pathText(at),
		Field:    field,
		Expected: expected,
		Actual:   actual,
	})
}

func (r *report) result() Result {
	res := Result{Valid: true, Issues: r.issues}
	for _, i := range r.issues {
		if i.Severity == SeverityError {
			res.Valid = false
			break
		}
	}
	if res.Issues == nil {
		res.Issues = []Issue{}
	}
	return res
}

// pathText renders the document root as "root".
func pathText(p document.Path) string {
	if len(p) == 0 {
		return "root"
	}
	return p.String()
}

// describe renders a value for the Actual field of an Issue.
func describe(v *document.Value) string {
	switch v.Kind() {
	case document.KindNumber:
		return v.NumberText()
	case document.KindString:
		s, _ := v.AsString()
		if len(s) > 40 {
			s = s[:40] + "..."
		}
		return fmt.Sprintf("%q", s)
	case document.KindBool:
		b, _ := v.AsBool()
		return fmt.Sprintf("%t", b)
	default:
		return v.Kind().String()
	}
}
