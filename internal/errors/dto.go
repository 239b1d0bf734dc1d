package errors

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Display string            `json:"message"`
	Kind    string            `json:"kind"`
	Fields  map[string]string `json:"fields,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

// NewErrorResponse renders err for API callers.
func NewErrorResponse(err error) ErrorResponse {
	display := Hint(err)
	if display == "" {
		display = err.Error()
	}
	return ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Display: display,
			Kind:    KindOf(err),
			Fields:  Fields(err),
			Details: Details(err),
		},
	}
}
