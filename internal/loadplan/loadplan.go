// Package loadplan derives, from the current feature flags, the bulk load
// plan and the periodic refresh plan. Both are rebuilt on every call.
package loadplan

import (
	"time"

	"feedgrid/internal/feature"
	"feedgrid/internal/task"
)

// Task names. On-demand layer loads reuse these so every trigger path shares
// one in-flight key per loader.
const (
	News          = "news"
	Markets       = "markets"
	Predictions   = "predictions"
	PizzInt       = "pizzint"
	FRED          = "fred"
	Oil           = "oil"
	Spending      = "spending"
	Intelligence  = "intelligence"
	Firms         = "firms"
	Natural       = "natural"
	Weather       = "weather"
	AIS           = "ais"
	Cables        = "cables"
	Flights       = "flights"
	CyberThreats  = "cyberThreats"
	TechEvents    = "techEvents"
	TechReadiness = "techReadiness"
	Conflicts     = "ucdpEvents"
	Displacement  = "displacement"
	Climate       = "climate"
)

// Loaders holds one action per data source. A nil field means the source is
// not wired and its task is left out.
type Loaders struct {
	News          task.Action
	Markets       task.Action
	Predictions   task.Action
	PizzInt       task.Action
	FRED          task.Action
	Oil           task.Action
	Spending      task.Action
	Intelligence  task.Action
	Firms         task.Action
	Natural       task.Action
	Weather       task.Action
	AIS           task.Action
	Cables        task.Action
	Flights       task.Action
	CyberThreats  task.Action
	TechEvents    task.Action
	TechReadiness task.Action
	Conflicts     task.Action
	Displacement  task.Action
	Climate       task.Action
}

// Build returns the bulk load plan for flags. Order is fixed for readable
// logs; the runner executes the tasks concurrently.
func Build(flags feature.Flags, l Loaders) (task.Plan, error) {
	var b builder
	b.add(News, l.News)
	b.add(Markets, l.Markets)
	b.add(Predictions, l.Predictions)
	b.add(PizzInt, l.PizzInt)
	b.add(FRED, l.FRED)
	b.add(Oil, l.Oil)
	b.add(Spending, l.Spending)

	if flags.Variant == feature.VariantFull {
		b.add(Intelligence, l.Intelligence)
		b.add(Firms, l.Firms)
	}
	if flags.Enabled(feature.LayerNatural) {
		b.add(Natural, l.Natural)
	}
	if flags.Enabled(feature.LayerWeather) {
		b.add(Weather, l.Weather)
	}
	if flags.Enabled(feature.LayerAIS) {
		b.add(AIS, l.AIS)
	}
	if flags.Enabled(feature.LayerCables) {
		b.add(Cables, l.Cables)
	}
	if flags.Enabled(feature.LayerFlights) {
		b.add(Flights, l.Flights)
	}
	if flags.CyberLayer && flags.Enabled(feature.LayerCyberThreats) {
		b.add(CyberThreats, l.CyberThreats)
	}
	if flags.Variant == feature.VariantTech || flags.Enabled(feature.LayerTechEvents) {
		b.add(TechEvents, l.TechEvents)
	}
	if flags.Variant == feature.VariantTech {
		b.add(TechReadiness, l.TechReadiness)
	}
	return task.NewPlan(b.tasks...)
}

type builder struct {
	tasks []task.Task
}

func (b *builder) add(name string, a task.Action) {
	if a == nil {
		return
	}
	b.tasks = append(b.tasks, task.Task{Name: name, Action: a})
}

// DefaultIntervals are the nominal refresh intervals per task.
var DefaultIntervals = map[string]time.Duration{
	News:         5 * time.Minute,
	Markets:      4 * time.Minute,
	Predictions:  5 * time.Minute,
	PizzInt:      10 * time.Minute,
	Natural:      5 * time.Minute,
	Weather:      10 * time.Minute,
	FRED:         30 * time.Minute,
	Oil:          30 * time.Minute,
	Spending:     60 * time.Minute,
	Intelligence: 5 * time.Minute,
	Firms:        30 * time.Minute,
	AIS:          10 * time.Minute,
	Cables:       30 * time.Minute,
	Flights:      10 * time.Minute,
	CyberThreats: 10 * time.Minute,
}

// Refresh is one periodic registration for the scheduler.
type Refresh struct {
	Name      string
	Action    task.Action
	Interval  time.Duration
	Condition func() bool
}

// Refreshes returns the periodic plan. Conditions close over src and read it
// on every call, so flag changes apply on the next cycle without
// re-registration. overrides replaces DefaultIntervals per name.
func Refreshes(src feature.Source, l Loaders, overrides map[string]time.Duration) []Refresh {
	variant := func(v feature.Variant) func() bool {
		return func() bool { return src.Current().Variant == v }
	}
	layer := func(ly feature.Layer) func() bool {
		return func() bool { return src.Current().Enabled(ly) }
	}
	cyber := func() bool {
		f := src.Current()
		return f.CyberLayer && f.Enabled(feature.LayerCyberThreats)
	}

	var out []Refresh
	add := func(name string, a task.Action, cond func() bool) {
		if a == nil {
			return
		}
		iv := DefaultIntervals[name]
		if d, ok := overrides[name]; ok && d > 0 {
			iv = d
		}
		out = append(out, Refresh{Name: name, Action: a, Interval: iv, Condition: cond})
	}
	add(News, l.News, nil)
	add(Markets, l.Markets, nil)
	add(Predictions, l.Predictions, nil)
	add(PizzInt, l.PizzInt, nil)
	add(Natural, l.Natural, layer(feature.LayerNatural))
	add(Weather, l.Weather, layer(feature.LayerWeather))
	add(FRED, l.FRED, nil)
	add(Oil, l.Oil, nil)
	add(Spending, l.Spending, nil)
	add(Intelligence, l.Intelligence, variant(feature.VariantFull))
	add(Firms, l.Firms, variant(feature.VariantFull))
	add(AIS, l.AIS, layer(feature.LayerAIS))
	add(Cables, l.Cables, layer(feature.LayerCables))
	add(Flights, l.Flights, layer(feature.LayerFlights))
	add(CyberThreats, l.CyberThreats, cyber)
	return out
}
