package intake

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownField  = errors.New("unknown intake field")
	ErrSessionClosed = errors.New("intake session is closed")
	ErrNotAtReview   = errors.New("submission is only possible from the review step")
)

// FieldError describes one field that is missing or holds an unusable value.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// IncompleteError is returned by Submit when earlier steps no longer validate.
type IncompleteError struct {
	Step   Step
	Fields []FieldError
}

func (e *IncompleteError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return fmt.Sprintf("step %s is incomplete: %s", e.Step, strings.Join(names, ", "))
}
