package errors

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// withDetails attaches structured key/value details for API responses.
type withDetails struct {
	cause   error
	details map[string]any
}

func (w *withDetails) Error() string { return w.cause.Error() }
func (w *withDetails) Unwrap() error { return w.cause }

// FieldErrors carries field-scoped validation failures.
type FieldErrors struct {
	Fields map[string]string
}

func (f *FieldErrors) Error() string {
	keys := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f.Fields[k])
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}

// NewFieldError returns a validation error scoped to a single field.
func NewFieldError(field, message string) error {
	return NewFieldErrors(map[string]string{field: message})
}

// NewFieldErrors returns a validation error scoped to the given fields.
func NewFieldErrors(fields map[string]string) error {
	return WithError(&FieldErrors{Fields: fields}).
		WithHint("One or more fields are invalid").
		Mark(ErrValidation)
}

// Fields extracts field-scoped messages from err, if any.
func Fields(err error) map[string]string {
	var fe *FieldErrors
	if errors.As(err, &fe) {
		return fe.Fields
	}
	return nil
}

// Hint returns the innermost caller-facing hint attached to err.
func Hint(err error) string {
	hints := errors.GetAllHints(err)
	if len(hints) == 0 {
		return ""
	}
	return hints[0]
}

// Details merges every details map attached to err. Outer values win.
func Details(err error) map[string]any {
	out := map[string]any{}
	for c := err; c != nil; c = errors.UnwrapOnce(c) {
		w, ok := c.(*withDetails)
		if !ok {
			continue
		}
		for k, v := range w.details {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
