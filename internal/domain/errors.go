package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrInvalidEntry is returned when a position entry has no valid date or a non-positive position
	ErrInvalidEntry = errors.New("invalid position entry")

	// ErrHistoryNotFound is returned when no history exists for a product
	ErrHistoryNotFound = errors.New("position history not found")

	// ErrKeyNotFound is returned when a key is missing from the local store
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreUnavailable is returned when the local store cannot be reached
	ErrStoreUnavailable = errors.New("local store unavailable")

	// ErrQueueEmpty is returned when the sync queue has no items
	ErrQueueEmpty = errors.New("sync queue is empty")

	// ErrQueueItemNotFound is returned when a queue item id is unknown
	ErrQueueItemNotFound = errors.New("sync queue item not found")

	// ErrUnknownPlatform is returned when a marketplace platform is not registered
	ErrUnknownPlatform = errors.New("unknown marketplace platform")

	// ErrInvalidProductID is returned when a product id does not match its platform format
	ErrInvalidProductID = errors.New("invalid product id for platform")

	// ErrMalformedRemote is returned when the remote API answers with an unusable payload
	ErrMalformedRemote = errors.New("malformed remote payload")

	// ErrRemoteUnavailable marks a retryable remote failure (timeout, connection error, 5xx)
	ErrRemoteUnavailable = errors.New("remote persistence API unavailable")

	// ErrRemoteRejected marks a permanent remote failure (non-timeout 4xx)
	ErrRemoteRejected = errors.New("remote persistence API rejected request")

	// ErrInvalidConfig is returned when a component is constructed with impossible limits
	ErrInvalidConfig = errors.New("invalid component configuration")
)

// RemoteError describes a failed call to the remote persistence API.
// errors.Is matches it against ErrRemoteUnavailable or ErrRemoteRejected
// depending on Retryable, and against the underlying cause.
type RemoteError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() []error {
	kind := ErrRemoteRejected
	if e.Retryable {
		kind = ErrRemoteUnavailable
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// IsRetryable reports whether err is a remote failure worth queueing for later delivery.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}
