package app

import (
	"fmt"
	"strings"
	"time"

	"feedgrid/internal/config"
	"feedgrid/internal/feature"
	"feedgrid/internal/feeds"
	"feedgrid/internal/ops"
	"feedgrid/internal/storage"
	"feedgrid/internal/task/scheduler"
	"feedgrid/pkg/logx"
)

// The map* helpers convert a validated file config into component configs.
// They still return errors so a config that bypassed Validate is rejected
// instead of half-applied.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	out := storage.Config{Driver: driver, Path: path, RunRetention: sc.RunRetention}
	switch driver {
	case "file":
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, true, nil
}

func mapFeedsConfig(cfg *config.Config) (feeds.Config, error) {
	fc := cfg.Feeds
	timeout, err := config.ParseDurationField("feeds.timeout", fc.Timeout)
	if err != nil {
		return feeds.Config{}, err
	}
	out := feeds.Config{
		UserAgent: strings.TrimSpace(fc.UserAgent),
		Timeout:   timeout,
		MaxBytes:  fc.MaxBytes,
		Sources:   make(map[string]feeds.Source, len(fc.Sources)),
	}
	for name, src := range fc.Sources {
		to, err := config.ParseDurationField("feeds.sources."+name+".timeout", src.Timeout)
		if err != nil {
			return feeds.Config{}, err
		}
		mi, err := config.ParseDurationField("feeds.sources."+name+".min_interval", src.MinInterval)
		if err != nil {
			return feeds.Config{}, err
		}
		out.Sources[name] = feeds.Source{
			URL:         strings.TrimSpace(src.URL),
			Timeout:     to,
			MinInterval: mi,
			Headers:     src.Headers,
			MaxBytes:    src.MaxBytes,
		}
	}
	return out, nil
}

func mapFlags(cfg *config.Config) (feature.Flags, error) {
	v, err := feature.ParseVariant(cfg.Variant)
	if err != nil {
		return feature.Flags{}, fmt.Errorf("variant: %w", err)
	}
	f := feature.Flags{
		Variant:    v,
		Layers:     make(map[feature.Layer]bool, len(cfg.Layers)),
		CyberLayer: cfg.Features.CyberLayer,
	}
	for name, on := range cfg.Layers {
		l, ok := feature.ParseLayer(name)
		if !ok {
			return feature.Flags{}, fmt.Errorf("layers.%s: unknown layer", name)
		}
		f.Layers[l] = on
	}
	return f, nil
}

// mapIntervals parses refresh.intervals into scheduler overrides.
func mapIntervals(cfg *config.Config) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(cfg.Refresh.Intervals))
	for name, raw := range cfg.Refresh.Intervals {
		d, err := scheduler.ParseInterval(raw)
		if err != nil {
			return nil, fmt.Errorf("refresh.intervals.%s: %w", name, err)
		}
		out[name] = d
	}
	return out, nil
}

func mapIdleAfter(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationField("refresh.idle_after", cfg.Refresh.IdleAfter)
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 2*time.Minute)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 120*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          config.OpsAddr(oc),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
