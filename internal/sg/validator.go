package sg

import (
	"sg-go/internal/document"
	"sg-go/internal/validate"
)

// Validator grades a document. *validate.Validator implements it.
type Validator interface {
	Validate(doc *document.Value, kind validate.Kind) validate.Result
}

var _ Validator = (*validate.Validator)(nil)
