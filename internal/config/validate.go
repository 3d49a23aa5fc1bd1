package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"feedgrid/internal/feature"
	"feedgrid/internal/loadplan"
	"feedgrid/internal/task/scheduler"
	"feedgrid/pkg/netx"
)

const DefaultOpsAddr = "127.0.0.1:8089"

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report json key names so errors match the file.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate runs the struct tag rules and the cross-field checks. All
// problems are reported together.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		for _, fe := range ve {
			errs = append(errs, fieldError(fe))
		}
	}

	for _, name := range sortedKeys(cfg.Layers) {
		if _, ok := feature.ParseLayer(name); !ok {
			errs = append(errs, fmt.Errorf("layers.%s: unknown layer", name))
		}
	}

	for _, name := range sortedKeys(cfg.Refresh.Intervals) {
		if _, ok := loadplan.DefaultIntervals[name]; !ok {
			errs = append(errs, fmt.Errorf("refresh.intervals.%s: unknown refresh task", name))
			continue
		}
		if _, err := scheduler.ParseInterval(cfg.Refresh.Intervals[name]); err != nil {
			errs = append(errs, fmt.Errorf("refresh.intervals.%s: %w", name, err))
		}
	}

	durations := map[string]string{
		"refresh.idle_after": cfg.Refresh.IdleAfter,
		"feeds.timeout":      cfg.Feeds.Timeout,
		"ops.read_timeout":   cfg.Ops.ReadTimeout,
		"ops.write_timeout":  cfg.Ops.WriteTimeout,
		"ops.idle_timeout":   cfg.Ops.IdleTimeout,
	}
	for name, src := range cfg.Feeds.Sources {
		durations["feeds.sources."+name+".timeout"] = src.Timeout
		durations["feeds.sources."+name+".min_interval"] = src.MinInterval
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	for _, path := range sortedKeys(durations) {
		if _, err := ParseDurationField(path, durations[path]); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Storage != nil {
		d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
		if d != "" && d != "none" && strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", d))
		}
	}

	if cfg.Ops.Enabled {
		addr := OpsAddr(cfg.Ops)
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("ops.addr: invalid %q (expected host:port): %w", addr, err))
		} else if !cfg.Ops.AllowInsecure && strings.TrimSpace(cfg.Ops.Token) == "" && !netx.IsLoopbackAddr(addr) {
			errs = append(errs, errors.New("ops: binding to non-loopback addr requires token or allow_insecure=true"))
		}
	}
	return errors.Join(errs...)
}

// OpsAddr returns the configured ops address or the loopback default.
func OpsAddr(o OpsConfig) string {
	if a := strings.TrimSpace(o.Addr); a != "" {
		return a
	}
	return DefaultOpsAddr
}

func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.feeds.sources[name].url"; drop the root type.
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s: required", path)
	case "required_if":
		return fmt.Errorf("%s: required when %s", path, fe.Param())
	case "oneof":
		return fmt.Errorf("%s: %q is not one of [%s]", path, fe.Value(), fe.Param())
	case "url":
		return fmt.Errorf("%s: %q is not a valid url", path, fe.Value())
	default:
		return fmt.Errorf("%s: failed %s=%s", path, fe.Tag(), fe.Param())
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
