package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// RunRetention bounds the run journal; 0 means DefaultRunRetention.
	RunRetention int
}

const DefaultRunRetention = 5000

// Snapshot is the last successfully fetched body of one feed.
type Snapshot struct {
	Feed        string    `json:"feed"`
	At          time.Time `json:"at"`
	ETag        string    `json:"etag,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Hash        uint64    `json:"hash"`
	Body        []byte    `json:"body"`
}

// Run records one finished task invocation.
// Keep it compact and schema-stable.
type Run struct {
	At       time.Time     `json:"at"`
	Task     string        `json:"task"`
	Trigger  string        `json:"trigger"`
	Batch    string        `json:"batch,omitempty"`
	Duration time.Duration `json:"dur"`
	OK       bool          `json:"ok"`
	Error    string        `json:"err,omitempty"`
}
