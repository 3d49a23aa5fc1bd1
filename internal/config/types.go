package config

// Config is the file-backed configuration. Durations are Go duration strings
// ("500ms", "10s", "5m"); refresh intervals also accept HH:MM and "@every 5m".
type Config struct {
	// Variant selects the site variant: "full" (default) or "tech".
	Variant string `json:"variant,omitempty" validate:"omitempty,oneof=full tech"`
	// Layers holds the per-layer enablement flags, keyed by layer id.
	Layers   map[string]bool `json:"layers,omitempty"`
	Features FeaturesConfig  `json:"features"`

	Logging LoggingConfig  `json:"logging"`
	Refresh RefreshConfig  `json:"refresh"`
	Feeds   FeedsConfig    `json:"feeds"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Ops     OpsConfig      `json:"ops"`
}

type FeaturesConfig struct {
	// CyberLayer enables the cyber threat intel layer; it still needs
	// layers.cyberThreats.
	CyberLayer bool `json:"cyber_layer,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// RefreshConfig controls the periodic refresh scheduler.
//
// Enabled and InitialLoad are pointers so an omitted key keeps the default
// (true) while an explicit false disables.
type RefreshConfig struct {
	Enabled     *bool `json:"enabled,omitempty"`
	InitialLoad *bool `json:"initial_load,omitempty"`
	// Intervals overrides the nominal interval per task name.
	Intervals map[string]string `json:"intervals,omitempty"`
	// IdleAfter marks attention as reduced when no viewer heartbeat arrived
	// for this long. "0s" or empty disables idle detection.
	IdleAfter string `json:"idle_after,omitempty"`
}

func (r RefreshConfig) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }
func (r RefreshConfig) InitialLoadOn() bool { return r.InitialLoad == nil || *r.InitialLoad }

type FeedsConfig struct {
	UserAgent string                `json:"user_agent,omitempty"`
	Timeout   string                `json:"timeout,omitempty"`
	MaxBytes  int64                 `json:"max_bytes,omitempty" validate:"gte=0"`
	Sources   map[string]FeedSource `json:"sources,omitempty" validate:"omitempty,dive"`
}

type FeedSource struct {
	URL         string            `json:"url" validate:"required,url"`
	Timeout     string            `json:"timeout,omitempty"`
	MinInterval string            `json:"min_interval,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	MaxBytes    int64             `json:"max_bytes,omitempty" validate:"gte=0"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/feedgrid.db" }
type StorageConfig struct {
	Driver       string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	RunRetention int    `json:"run_retention,omitempty" validate:"gte=0"`
}

// OpsConfig controls the operational HTTP server (health, metrics, API).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8089").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8089"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
