package crawler

import (
	"context"
	"io"
	"time"
)

// ListingSource performs one listing request. It does not retry; the caller
// classifies the returned status. An error means no usable response was received.
type ListingSource interface {
	List(ctx context.Context, since Cursor) (ListingResponse, error)
}

// DetailSource performs one detail request for a login.
type DetailSource interface {
	Detail(ctx context.Context, login string) (DetailResponse, error)
}

// RateLimiter tracks upstream quota and suspends the caller when it is spent.
type RateLimiter interface {
	Observe(state RateState)
	ShouldWait(status int, remaining int) bool
	WaitUntil(ctx context.Context, reset time.Time) error
}

// Sleeper suspends the calling goroutine for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// UserStore persists curated entities in a queryable store.
type UserStore interface {
	UpsertUsers(ctx context.Context, users []CuratedEntity) (int, error)
}

// Hasher computes digests for snapshot integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
