// Package storageerr defines the error taxonomy a background daemon needs
// to tell its own failure classes apart without letting any one of them
// become fatal, per the error-handling design.
package storageerr

import "errors"

// Kind classifies a failure so callers can decide whether to log-and-absorb,
// surface to a caller, or treat it as fatal.
type Kind string

const (
	Storage          Kind = "storage"
	SourceFormat     Kind = "source_format"
	FilesystemWatch  Kind = "filesystem_watch"
	ProcessInventory Kind = "process_inventory"
	Socket           Kind = "socket"
	WebhookDelivery  Kind = "webhook_delivery"
)

// Error wraps an underlying error with a Kind for classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches a Kind to err. Wrap(Kind, nil) returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or something it wraps) is a storageerr.Error of
// the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
