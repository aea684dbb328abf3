package user

import "errors"

// Error kinds returned (wrapped) by UserService. Callers classify with
// errors.Is; the wrapping error's message is safe to show to users.
var (
	ErrValidation = errors.New("invalid input")
	ErrConflict   = errors.New("email conflict")
	ErrNotFound   = errors.New("user not found")
	ErrStore      = errors.New("user store failure")
)

// ValidationError reports the first input field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// userError attaches a user-facing message to one of the error kinds.
type userError struct {
	kind error
	msg  string
}

func (e *userError) Error() string { return e.msg }

func (e *userError) Unwrap() error { return e.kind }

var (
	errEmailTaken      = &userError{kind: ErrConflict, msg: "a user with that email already exists"}
	errEmailTakenOther = &userError{kind: ErrConflict, msg: "another user already has that email"}
	errUserNotFound    = &userError{kind: ErrNotFound, msg: "user not found"}
)
