package models

// CmdError is an operator-facing command failure. It never changes controller state.
type CmdError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *CmdError) Error() string { return e.Message }

// Error constructors.
var (
	ErrUnknownCommand = func(msg string) *CmdError {
		return &CmdError{Code: "UNKNOWN_COMMAND", Message: msg, Status: 400}
	}
	ErrUsage = func(msg string) *CmdError {
		return &CmdError{Code: "USAGE", Message: msg, Status: 400}
	}
	ErrNotFound = func(msg string) *CmdError {
		return &CmdError{Code: "NOT_FOUND", Message: msg, Status: 404}
	}
	ErrInvalidURL = func(msg string) *CmdError {
		return &CmdError{Code: "INVALID_URL", Message: msg, Status: 400}
	}
	ErrInternal = func(msg string) *CmdError {
		return &CmdError{Code: "INTERNAL", Message: msg, Status: 500}
	}
)
