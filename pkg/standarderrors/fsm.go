package standarderrors

import "errors"

var (
	// ErrInstanceRemoved is returned when an instance has been successfully removed
	ErrInstanceRemoved = errors.New("instance removed")

	// ErrRemovalPending is returned while the manager is still busy shutting
	// an instance down. Callers should treat it as a *retryable* error.
	ErrRemovalPending = errors.New("service removal still in progress")
)
