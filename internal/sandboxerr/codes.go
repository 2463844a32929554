// Package sandboxerr defines the sandbox-visible error codes and the
// HTTP-layer error types returned by the core.
package sandboxerr

import "fmt"

// Code is a sandbox-visible status reported in an execution response.
// Zero means success; positive values are a failed command's exit code;
// negative values are reserved sandbox error codes.
type Code int

const (
	// Unknown marks an unclassified internal failure during a command run.
	Unknown Code = -1
	// Timeout marks a command that was killed after exceeding its clamped timeout.
	Timeout Code = -2
	// ResultNotFound marks a requested result file that did not exist in the container.
	ResultNotFound Code = -3
	// ResultNotUTF8 marks a result file whose content was not valid UTF-8.
	ResultNotUTF8 Code = -4
)

// BadRequestError is returned by the command list parser on any malformed
// or invalid request body. The HTTP layer maps it to 400.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return e.Reason }

// NewBadRequest builds a BadRequestError with a formatted reason.
func NewBadRequest(format string, args ...interface{}) *BadRequestError {
	return &BadRequestError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError marks a missing environment or file. The HTTP layer maps it to 404.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// NewNotFound builds a NotFoundError for the named resource.
func NewNotFound(what string) *NotFoundError {
	return &NotFoundError{What: what}
}

// UnavailableError marks pool exhaustion. The HTTP layer maps it to 503.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string { return e.Reason }

// ErrUnavailable is returned by Pool.Acquire when no slot became ready
// before the wait deadline elapsed.
var ErrUnavailable = &UnavailableError{Reason: "no sandbox became available before the wait deadline"}

// UnsafePathError marks a tar entry that attempted to escape its
// extraction root via an absolute path or ".." component.
type UnsafePathError struct {
	Path string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe path in archive entry: %q", e.Path)
}
