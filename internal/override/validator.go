package override

import (
	"strings"

	"github.com/ashita-ai/kessai/internal/model"
)

// genericPhrases are justifications too vague to stand in an audit. The
// validator rejects them even when they clear the length floor.
var genericPhrases = []string{
	"business reasons",
	"needed for business",
	"management decision",
	"approved by manager",
	"urgent request",
	"because it is needed",
	"required for operations",
	"as discussed",
}

// Validator applies the justification-quality rules beyond the schema-level
// length floor.
type Validator struct {
	minLen int
}

// NewValidator creates a Validator with the standard length floor.
func NewValidator() *Validator {
	return &Validator{minLen: model.MinJustificationLen}
}

// ValidateJustification rejects short or generic justifications.
func (v *Validator) ValidateJustification(justification string) error {
	trimmed := strings.TrimSpace(justification)
	if len(trimmed) < v.minLen {
		return model.NewError(model.KindValidation,
			"override: justification must be at least %d characters", v.minLen)
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range genericPhrases {
		if lower == phrase {
			return model.NewError(model.KindValidation,
				"override: justification %q is too generic", trimmed)
		}
	}
	return nil
}
