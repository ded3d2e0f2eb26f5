package generate

// validationError signals a rejected precondition (bad iteration count,
// empty prompt, server not healthy). Surfaced before any network activity.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

// ErrValidation constructs a validationError.
func ErrValidation(msg string) error { return validationError{msg: msg} }

// IsValidation reports whether err is a precondition failure.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// busyError signals that the admission gate could not grant a slot within
// the configured wait.
type busyError struct{}

func (busyError) Error() string {
	return "a generation is already in flight and the queue is full; try again shortly"
}

// ErrBusy constructs a busyError.
func ErrBusy() error { return busyError{} }

// IsBusy reports whether err is an admission rejection.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}
