// Package feature holds the site variant and per-layer enablement flags that
// the load plan and every gating condition read fresh.
package feature

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type Variant string

const (
	VariantFull Variant = "full"
	VariantTech Variant = "tech"
)

func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return VariantFull, nil
	case VariantFull, VariantTech:
		return v, nil
	default:
		return "", fmt.Errorf("unknown variant %q (want full or tech)", s)
	}
}

// Layer identifies a map overlay.
type Layer string

// Dynamic layers are backed by a loader.
const (
	LayerNatural      Layer = "natural"
	LayerFires        Layer = "fires"
	LayerWeather      Layer = "weather"
	LayerOutages      Layer = "outages"
	LayerCyberThreats Layer = "cyberThreats"
	LayerAIS          Layer = "ais"
	LayerCables       Layer = "cables"
	LayerProtests     Layer = "protests"
	LayerFlights      Layer = "flights"
	LayerMilitary     Layer = "military"
	LayerTechEvents   Layer = "techEvents"
	LayerUCDPEvents   Layer = "ucdpEvents"
	LayerDisplacement Layer = "displacement"
	LayerClimate      Layer = "climate"
)

// Static layers render bundled data and have no loader.
const (
	LayerConflicts   Layer = "conflicts"
	LayerBases       Layer = "bases"
	LayerHotspots    Layer = "hotspots"
	LayerNuclear     Layer = "nuclear"
	LayerPipelines   Layer = "pipelines"
	LayerDatacenters Layer = "datacenters"
	LayerEconomic    Layer = "economic"
)

var dynamicLayers = []Layer{
	LayerNatural, LayerFires, LayerWeather, LayerOutages, LayerCyberThreats,
	LayerAIS, LayerCables, LayerProtests, LayerFlights, LayerMilitary,
	LayerTechEvents, LayerUCDPEvents, LayerDisplacement, LayerClimate,
}

var staticLayers = []Layer{
	LayerConflicts, LayerBases, LayerHotspots, LayerNuclear,
	LayerPipelines, LayerDatacenters, LayerEconomic,
}

var layerKind = func() map[Layer]bool {
	m := make(map[Layer]bool, len(dynamicLayers)+len(staticLayers))
	for _, l := range dynamicLayers {
		m[l] = true
	}
	for _, l := range staticLayers {
		m[l] = false
	}
	return m
}()

// Layers returns every known layer, dynamic first.
func Layers() []Layer {
	out := make([]Layer, 0, len(layerKind))
	out = append(out, dynamicLayers...)
	return append(out, staticLayers...)
}

// Known reports whether l belongs to the closed layer set.
func (l Layer) Known() bool {
	_, ok := layerKind[l]
	return ok
}

// Dynamic reports whether l is backed by a loader.
func (l Layer) Dynamic() bool { return layerKind[l] }

// ParseLayer matches s against the known layers, ignoring case.
func ParseLayer(s string) (Layer, bool) {
	s = strings.TrimSpace(s)
	for l := range layerKind {
		if strings.EqualFold(string(l), s) {
			return l, true
		}
	}
	return Layer(s), false
}

// Flags is an immutable view of the feature configuration.
type Flags struct {
	Variant Variant
	Layers  map[Layer]bool
	// CyberLayer is the build-level feature switch for threat intel; the
	// cyberThreats layer needs it and its own layer flag.
	CyberLayer bool
}

func (f Flags) Enabled(l Layer) bool { return f.Layers[l] }

// EnabledLayers returns the enabled layers, sorted.
func (f Flags) EnabledLayers() []Layer {
	out := make([]Layer, 0, len(f.Layers))
	for l, on := range f.Layers {
		if on {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f Flags) clone() Flags {
	c := f
	c.Layers = make(map[Layer]bool, len(f.Layers))
	for k, v := range f.Layers {
		c.Layers[k] = v
	}
	return c
}

// Source yields the current flags. Implementations must be cheap; callers
// read on every cycle.
type Source interface {
	Current() Flags
}

// Static is a fixed Source.
type Static Flags

func (s Static) Current() Flags { return Flags(s) }

// Store is a Source whose flags can be swapped at runtime by config reloads
// and ops toggles. Reads are lock-free.
type Store struct {
	wmu sync.Mutex
	cur atomic.Pointer[Flags]
}

func NewStore(f Flags) *Store {
	s := &Store{}
	s.Set(f)
	return s
}

func (s *Store) Current() Flags {
	if p := s.cur.Load(); p != nil {
		return *p
	}
	return Flags{Variant: VariantFull}
}

// Set replaces the flags. The map is copied.
func (s *Store) Set(f Flags) {
	c := f.clone()
	if c.Variant == "" {
		c.Variant = VariantFull
	}
	s.wmu.Lock()
	s.cur.Store(&c)
	s.wmu.Unlock()
}

// SetLayer toggles one layer and returns the previous value.
func (s *Store) SetLayer(l Layer, enabled bool) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	next := s.Current().clone()
	prev := next.Layers[l]
	next.Layers[l] = enabled
	s.cur.Store(&next)
	return prev
}
