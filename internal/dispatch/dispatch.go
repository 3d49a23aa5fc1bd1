// Package dispatch routes an on-demand layer load to exactly one loader.
//
// Routing is pure: no concurrency guard, no loading-state bookkeeping. Layers
// without a route (static overlays or identifiers from a newer client) are a
// no-op.
package dispatch

import (
	"context"

	"feedgrid/internal/feature"
	"feedgrid/internal/loadplan"
	"feedgrid/internal/task"
)

type route struct {
	name string
	pick func(l loadplan.Loaders) task.Action
}

// Several layers alias the combined intelligence loader.
var routes = map[feature.Layer]route{
	feature.LayerNatural:      {loadplan.Natural, func(l loadplan.Loaders) task.Action { return l.Natural }},
	feature.LayerFires:        {loadplan.Firms, func(l loadplan.Loaders) task.Action { return l.Firms }},
	feature.LayerWeather:      {loadplan.Weather, func(l loadplan.Loaders) task.Action { return l.Weather }},
	feature.LayerOutages:      {loadplan.Intelligence, func(l loadplan.Loaders) task.Action { return l.Intelligence }},
	feature.LayerProtests:     {loadplan.Intelligence, func(l loadplan.Loaders) task.Action { return l.Intelligence }},
	feature.LayerMilitary:     {loadplan.Intelligence, func(l loadplan.Loaders) task.Action { return l.Intelligence }},
	feature.LayerCyberThreats: {loadplan.CyberThreats, func(l loadplan.Loaders) task.Action { return l.CyberThreats }},
	feature.LayerAIS:          {loadplan.AIS, func(l loadplan.Loaders) task.Action { return l.AIS }},
	feature.LayerCables:       {loadplan.Cables, func(l loadplan.Loaders) task.Action { return l.Cables }},
	feature.LayerFlights:      {loadplan.Flights, func(l loadplan.Loaders) task.Action { return l.Flights }},
	feature.LayerTechEvents:   {loadplan.TechEvents, func(l loadplan.Loaders) task.Action { return l.TechEvents }},
	feature.LayerUCDPEvents:   {loadplan.Conflicts, func(l loadplan.Loaders) task.Action { return l.Conflicts }},
	feature.LayerDisplacement: {loadplan.Displacement, func(l loadplan.Loaders) task.Action { return l.Displacement }},
	feature.LayerClimate:      {loadplan.Climate, func(l loadplan.Loaders) task.Action { return l.Climate }},
}

// Route returns the loader task name backing layer.
func Route(layer feature.Layer) (string, bool) {
	r, ok := routes[layer]
	return r.name, ok
}

// Resolve returns the loader action for layer, or nil when unrouted or unwired.
func Resolve(layer feature.Layer, l loadplan.Loaders) task.Action {
	r, ok := routes[layer]
	if !ok {
		return nil
	}
	return r.pick(l)
}

// Dispatch invokes the loader for layer and returns its error. Unknown,
// static and unwired layers return nil without invoking anything.
func Dispatch(ctx context.Context, layer feature.Layer, l loadplan.Loaders) error {
	a := Resolve(layer, l)
	if a == nil {
		return nil
	}
	return a(ctx)
}
