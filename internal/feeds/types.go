package feeds

import (
	"errors"
	"fmt"
	"time"
)

var ErrTooLarge = errors.New("feed body exceeds limit")

// EventUpdated is published when a feed body changed.
const EventUpdated = "feed.updated"

const (
	DefaultTimeout  = 15 * time.Second
	DefaultMaxBytes = 8 << 20
	DefaultAgent    = "feedgrid/1"
)

// Source describes one upstream endpoint.
type Source struct {
	URL         string
	Timeout     time.Duration
	MinInterval time.Duration // 0 means no spacing between fetches
	Headers     map[string]string
	MaxBytes    int64
}

type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	Sources   map[string]Source
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Feed string
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("%s: unexpected status %d", e.Feed, e.Code) }

// Updated is the payload of feed.updated events.
type Updated struct {
	Feed  string `json:"feed"`
	Bytes int    `json:"bytes"`
	Hash  uint64 `json:"hash"`
}

// Status is a point-in-time view of one feed.
type Status struct {
	Feed        string    `json:"feed"`
	URL         string    `json:"url"`
	LastAttempt time.Time `json:"last_attempt"`
	LastOK      time.Time `json:"last_ok"`
	LastChange  time.Time `json:"last_change"`
	LastError   string    `json:"last_error,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	Bytes       int       `json:"bytes"`
	Fetches     uint64    `json:"fetches"`
	NotModified uint64    `json:"not_modified"`
	Throttled   uint64    `json:"throttled"`
}
