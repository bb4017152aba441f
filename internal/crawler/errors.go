package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnrecoverableTransport marks a failure that aborts the crawl run.
	ErrUnrecoverableTransport = errors.New("unrecoverable transport failure")
	// ErrEmptyPage is returned when a successful listing page holds no records.
	ErrEmptyPage = fmt.Errorf("%w: empty listing page", ErrUnrecoverableTransport)
	// ErrCursorOrder is returned when a page is not ordered by ascending identity key.
	ErrCursorOrder = fmt.Errorf("%w: listing page out of order", ErrUnrecoverableTransport)
	// ErrMerge is returned when a listing record cannot be merged with its detail.
	ErrMerge = errors.New("merge listing and detail")
)

// StatusError reports a non-retryable upstream status.
type StatusError struct {
	Status int
	Cursor Cursor
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("listing since=%d: HTTP %d %s", e.Cursor, e.Status, http.StatusText(e.Status))
}

// Unwrap lets errors.Is match ErrUnrecoverableTransport.
func (e *StatusError) Unwrap() error {
	return ErrUnrecoverableTransport
}

// Class groups an upstream response by how the PageFetcher reacts to it.
type Class string

// Response classes. The three transient classes are retried on the same cursor.
const (
	ClassOK       Class = "ok"
	ClassQuota    Class = "quota"
	ClassThrottle Class = "throttle"
	ClassServer   Class = "server_error"
	ClassFatal    Class = "fatal"
)

// Transient reports whether the class is retried with a wait.
func (c Class) Transient() bool {
	return c == ClassQuota || c == ClassThrottle || c == ClassServer
}

// Classify maps a status and its quota signal to a Class. quotaSpent should
// come from RateLimiter.ShouldWait so the quota rule lives in one place.
func Classify(status int, quotaSpent bool) Class {
	switch {
	case quotaSpent:
		return ClassQuota
	case status == http.StatusTooManyRequests:
		return ClassThrottle
	case status >= http.StatusInternalServerError:
		return ClassServer
	case status >= 200 && status < 300:
		return ClassOK
	default:
		return ClassFatal
	}
}
