package driven

import (
	"context"
	"time"
)

// CancelSignal is a TTL-backed advisory flag keyed by job dedup key.
// Presence of an unexpired key means cancellation was requested.
type CancelSignal interface {
	// IsCancelled never fails: transport errors are logged and reported as
	// not cancelled.
	IsCancelled(ctx context.Context, jobKey string) bool
	// RequestCancellation sets the flag; repeated requests only refresh the expiry.
	RequestCancellation(ctx context.Context, jobKey string, ttl time.Duration) error
	// Clear removes the flag. Clearing an absent key is not an error.
	Clear(ctx context.Context, jobKey string) error
}
