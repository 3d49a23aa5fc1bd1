package app

import (
	"time"

	"feedgrid/internal/config"
	"feedgrid/internal/feature"
	"feedgrid/internal/feeds"
	"feedgrid/internal/loadplan"
)

// PlanView describes what a config would load and refresh.
type PlanView struct {
	Variant  feature.Variant `json:"variant"`
	Layers   []feature.Layer `json:"layers"`
	Bulk     []string        `json:"bulk"`
	Refresh  []RefreshView   `json:"refresh"`
	Disabled bool            `json:"refresh_disabled,omitempty"`
}

type RefreshView struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	// Active is the gating condition evaluated against the config as-is.
	Active bool `json:"active"`
	// Feed reports whether a source is configured for the task.
	Feed bool `json:"feed"`
}

// DescribePlan builds the load and refresh plans for cfg without running
// anything.
func DescribePlan(cfg *config.Config) (PlanView, error) {
	flags, err := mapFlags(cfg)
	if err != nil {
		return PlanView{}, err
	}
	fc, err := mapFeedsConfig(cfg)
	if err != nil {
		return PlanView{}, err
	}
	overrides, err := mapIntervals(cfg)
	if err != nil {
		return PlanView{}, err
	}
	loaders := feeds.New(fc).Loaders()

	plan, err := loadplan.Build(flags, loaders)
	if err != nil {
		return PlanView{}, err
	}
	v := PlanView{
		Variant:  flags.Variant,
		Layers:   flags.EnabledLayers(),
		Bulk:     plan.Names(),
		Disabled: !cfg.Refresh.IsEnabled(),
	}
	for _, r := range loadplan.Refreshes(feature.Static(flags), loaders, overrides) {
		_, configured := fc.Sources[r.Name]
		v.Refresh = append(v.Refresh, RefreshView{
			Name:     r.Name,
			Interval: r.Interval,
			Active:   r.Condition == nil || r.Condition(),
			Feed:     configured,
		})
	}
	return v, nil
}
