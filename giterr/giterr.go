// Package giterr defines the error taxonomy shared across gitserve's layers.
package giterr

import "github.com/pkg/errors"

// Kind classifies an error the way the wire-level handlers need to respond.
type Kind int

const (
	// Internal is an unexpected failure; respond 500, log details, hide cause.
	Internal Kind = iota
	// Protocol is a malformed pkt-line or unknown command.
	Protocol
	// Unpack is a structurally invalid packfile.
	Unpack
	// RefRejected is a precondition failure on a single ref update.
	RefRejected
	// NotFound covers missing repo/ref/object.
	NotFound
	// Unauthorized means the caller failed AuthZ.
	Unauthorized
)

// Error pairs a Kind with a message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches a kind and message to an underlying cause. The cause is
// wrapped with github.com/pkg/errors (which records a stack at this call)
// and stays reachable through Unwrap; Error() itself returns only msg.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, cause: errors.Wrap(cause, msg)}
}

// KindOf extracts the Kind of err, defaulting to Internal if err is not (or
// does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

var (
	// ErrNotFound is the sentinel used by stores/adapters for missing data;
	// compare with errors.Is, wrap with Wrap(NotFound, ...) at boundaries.
	ErrNotFound = errors.New("not found")
)
