package supervisor

import (
	"fmt"
	"strings"
)

// binaryNotFoundError reports every location searched so the message is
// actionable without log spelunking.
type binaryNotFoundError struct{ searched []string }

func (e binaryNotFoundError) Error() string {
	return fmt.Sprintf(
		"llama-server binary not found; searched: %s (build llama.cpp or set server.binary_path in the config)",
		strings.Join(e.searched, ", "),
	)
}

// ErrBinaryNotFound constructs a binaryNotFoundError.
func ErrBinaryNotFound(searched []string) error {
	return binaryNotFoundError{searched: searched}
}

// IsBinaryNotFound reports whether err indicates a missing server binary.
func IsBinaryNotFound(err error) bool {
	_, ok := err.(binaryNotFoundError)
	return ok
}

// invalidModelFileError signals a model file that failed the structural
// header check (or is missing). Never retried.
type invalidModelFileError struct {
	path   string
	reason string
}

func (e invalidModelFileError) Error() string {
	return fmt.Sprintf("invalid model file %s: %s", e.path, e.reason)
}

// ErrInvalidModelFile constructs an invalidModelFileError.
func ErrInvalidModelFile(path, reason string) error {
	return invalidModelFileError{path: path, reason: reason}
}

// IsInvalidModelFile reports whether err indicates a rejected model file.
func IsInvalidModelFile(err error) bool {
	_, ok := err.(invalidModelFileError)
	return ok
}

// portInUseError signals that the configured server port is already bound.
type portInUseError struct {
	port int
	err  error
}

func (e portInUseError) Error() string {
	return fmt.Sprintf("port %d is already in use: %v; stop the conflicting process or change server.port", e.port, e.err)
}

// ErrPortInUse constructs a portInUseError.
func ErrPortInUse(port int, err error) error { return portInUseError{port: port, err: err} }

// IsPortInUse reports whether err indicates a port conflict.
func IsPortInUse(err error) bool {
	_, ok := err.(portInUseError)
	return ok
}

// IsStructural reports whether err belongs to the never-retried part of the
// taxonomy owned by this package.
func IsStructural(err error) bool {
	return IsBinaryNotFound(err) || IsInvalidModelFile(err) || IsPortInUse(err)
}
