package config

import (
	"reflect"
	"sort"
	"strings"

	"feedgrid/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens and header values are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Variant) != strings.TrimSpace(newCfg.Variant) {
		changed = append(changed, "variant")
		attrs = append(attrs, logx.String("variant", strings.TrimSpace(newCfg.Variant)))
	}

	if toggled := diffLayers(oldCfg.Layers, newCfg.Layers); len(toggled) > 0 || oldCfg.Features != newCfg.Features {
		changed = append(changed, "layers")
		attrs = append(attrs,
			logx.Strings("layers.toggled", toggled),
			logx.Bool("features.cyber_layer", newCfg.Features.CyberLayer),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Refresh.IsEnabled() != newCfg.Refresh.IsEnabled() ||
		oldCfg.Refresh.InitialLoadOn() != newCfg.Refresh.InitialLoadOn() ||
		strings.TrimSpace(oldCfg.Refresh.IdleAfter) != strings.TrimSpace(newCfg.Refresh.IdleAfter) ||
		!reflect.DeepEqual(oldCfg.Refresh.Intervals, newCfg.Refresh.Intervals) {
		changed = append(changed, "refresh")
		attrs = append(attrs,
			logx.Bool("refresh.enabled", newCfg.Refresh.IsEnabled()),
			logx.String("refresh.idle_after", strings.TrimSpace(newCfg.Refresh.IdleAfter)),
			logx.Int("refresh.overrides", len(newCfg.Refresh.Intervals)),
		)
	}

	if feeds := diffSources(oldCfg.Feeds.Sources, newCfg.Feeds.Sources); len(feeds) > 0 ||
		oldCfg.Feeds.UserAgent != newCfg.Feeds.UserAgent ||
		oldCfg.Feeds.Timeout != newCfg.Feeds.Timeout ||
		oldCfg.Feeds.MaxBytes != newCfg.Feeds.MaxBytes {
		changed = append(changed, "feeds")
		attrs = append(attrs,
			logx.Int("feeds.sources", len(newCfg.Feeds.Sources)),
			logx.Strings("feeds.changed", feeds),
		)
	}

	// Nil storage means disabled. Restart-only; reported so operators know.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.restart_required", true),
		)
	}

	o, n := oldCfg.Ops, newCfg.Ops
	tokenChanged := o.Token != n.Token
	o.Token, n.Token = "", ""
	if o != n || tokenChanged {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", n.Enabled),
			logx.String("ops.addr", OpsAddr(n)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.pprof", n.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func diffLayers(oldM, newM map[string]bool) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	var out []string
	for k := range set {
		if oldM[k] != newM[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func diffSources(oldM, newM map[string]FeedSource) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	var out []string
	for k := range set {
		o, oOK := oldM[k]
		n, nOK := newM[k]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
