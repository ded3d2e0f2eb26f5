package llamaclient

import "fmt"

// connectionRefusedError signals a socket-level failure reaching the
// inference server. Transient: callers may retry.
type connectionRefusedError struct {
	url string
	err error
}

func (e connectionRefusedError) Error() string {
	return fmt.Sprintf("cannot connect to the inference server at %s: %v (start it before generating)", e.url, e.err)
}

func (e connectionRefusedError) Unwrap() error { return e.err }

// ErrConnectionRefused constructs a connectionRefusedError.
func ErrConnectionRefused(url string, err error) error {
	return connectionRefusedError{url: url, err: err}
}

// IsConnectionRefused reports whether err indicates the server was unreachable.
func IsConnectionRefused(err error) bool {
	_, ok := err.(connectionRefusedError)
	return ok
}

// timeoutError signals that no data arrived within the bounded deadline.
// Transient: callers may retry.
type timeoutError struct{ url string }

func (e timeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out; the model may still be loading, or the prompt is too long", e.url)
}

// ErrTimeout constructs a timeoutError.
func ErrTimeout(url string) error { return timeoutError{url: url} }

// IsTimeout reports whether err indicates a request deadline expired.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}

// malformedResponseError signals an unusable response body or status.
// Structural: never retried.
type malformedResponseError struct{ msg string }

func (e malformedResponseError) Error() string {
	return "malformed server response: " + e.msg
}

// ErrMalformedResponse constructs a malformedResponseError.
func ErrMalformedResponse(msg string) error { return malformedResponseError{msg: msg} }

// IsMalformedResponse reports whether err indicates an unusable response.
func IsMalformedResponse(err error) bool {
	_, ok := err.(malformedResponseError)
	return ok
}

// IsTransient reports whether err is worth retrying (connection refused or
// timeout). Everything else is structural and surfaces immediately.
func IsTransient(err error) bool {
	return IsConnectionRefused(err) || IsTimeout(err)
}
