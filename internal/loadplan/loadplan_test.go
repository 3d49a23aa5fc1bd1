package loadplan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedgrid/internal/feature"
)

func nop(context.Context) error { return nil }

func allLoaders() Loaders {
	return Loaders{
		News: nop, Markets: nop, Predictions: nop, PizzInt: nop, FRED: nop, Oil: nop, Spending: nop,
		Intelligence: nop, Firms: nop, Natural: nop, Weather: nop, AIS: nop, Cables: nop, Flights: nop,
		CyberThreats: nop, TechEvents: nop, TechReadiness: nop, Conflicts: nop, Displacement: nop, Climate: nop,
	}
}

var essentials = []string{News, Markets, Predictions, PizzInt, FRED, Oil, Spending}

func TestBuild(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		flags feature.Flags
		want  []string
	}{
		{
			name:  "full without layers",
			flags: feature.Flags{Variant: feature.VariantFull},
			want:  append(append([]string{}, essentials...), Intelligence, Firms),
		},
		{
			name:  "tech",
			flags: feature.Flags{Variant: feature.VariantTech},
			want:  append(append([]string{}, essentials...), TechEvents, TechReadiness),
		},
		{
			name: "full with layers",
			flags: feature.Flags{Variant: feature.VariantFull, Layers: map[feature.Layer]bool{
				feature.LayerAIS: true, feature.LayerNatural: true, feature.LayerTechEvents: true,
			}},
			want: append(append([]string{}, essentials...), Intelligence, Firms, Natural, AIS, TechEvents),
		},
		{
			name: "cyber layer needs the feature switch",
			flags: feature.Flags{Variant: feature.VariantTech, Layers: map[feature.Layer]bool{
				feature.LayerCyberThreats: true,
			}},
			want: append(append([]string{}, essentials...), TechEvents, TechReadiness),
		},
		{
			name: "cyber layer with switch",
			flags: feature.Flags{Variant: feature.VariantTech, CyberLayer: true, Layers: map[feature.Layer]bool{
				feature.LayerCyberThreats: true, feature.LayerCables: true, feature.LayerFlights: true,
			}},
			want: append(append([]string{}, essentials...), Cables, Flights, CyberThreats, TechEvents, TechReadiness),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := Build(tt.flags, allLoaders())
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Names())
		})
	}
}

func TestBuildTechWeatherFlip(t *testing.T) {
	t.Parallel()
	store := feature.NewStore(feature.Flags{
		Variant: feature.VariantTech,
		Layers:  map[feature.Layer]bool{feature.LayerWeather: false},
	})

	p, err := Build(store.Current(), allLoaders())
	require.NoError(t, err)
	assert.False(t, p.Has(Weather))
	assert.True(t, p.Has(TechEvents))

	store.SetLayer(feature.LayerWeather, true)
	p, err = Build(store.Current(), allLoaders())
	require.NoError(t, err)
	assert.True(t, p.Has(Weather))
}

func TestBuildIsPureAndSkipsUnwired(t *testing.T) {
	t.Parallel()
	flags := feature.Flags{Variant: feature.VariantFull, Layers: map[feature.Layer]bool{feature.LayerWeather: true}}
	l := allLoaders()
	a, err := Build(flags, l)
	require.NoError(t, err)
	b, err := Build(flags, l)
	require.NoError(t, err)
	assert.Equal(t, a.Names(), b.Names())

	l.Weather = nil
	l.Oil = nil
	c, err := Build(flags, l)
	require.NoError(t, err)
	assert.False(t, c.Has(Weather))
	assert.False(t, c.Has(Oil))
	assert.Equal(t, a.Len()-2, c.Len())
}

func TestRefreshes(t *testing.T) {
	t.Parallel()
	store := feature.NewStore(feature.Flags{Variant: feature.VariantTech})
	rs := Refreshes(store, allLoaders(), map[string]time.Duration{News: time.Minute, Oil: 0})

	byName := map[string]Refresh{}
	for _, r := range rs {
		byName[r.Name] = r
	}
	require.Len(t, byName, len(DefaultIntervals))
	assert.Equal(t, time.Minute, byName[News].Interval)
	assert.Equal(t, 30*time.Minute, byName[Oil].Interval, "non-positive overrides are ignored")
	assert.Nil(t, byName[Markets].Condition)

	weather := byName[Weather].Condition
	require.NotNil(t, weather)
	assert.False(t, weather())
	store.SetLayer(feature.LayerWeather, true)
	assert.True(t, weather(), "conditions read the source on every call")

	intel := byName[Intelligence].Condition
	assert.False(t, intel())
	store.Set(feature.Flags{Variant: feature.VariantFull})
	assert.True(t, intel())

	cyber := byName[CyberThreats].Condition
	store.SetLayer(feature.LayerCyberThreats, true)
	assert.False(t, cyber())
	store.Set(feature.Flags{CyberLayer: true, Layers: map[feature.Layer]bool{feature.LayerCyberThreats: true}})
	assert.True(t, cyber())
}

func TestRefreshesSkipsUnwired(t *testing.T) {
	t.Parallel()
	rs := Refreshes(feature.Static{}, Loaders{News: nop}, nil)
	require.Len(t, rs, 1)
	assert.Equal(t, News, rs[0].Name)
	assert.Equal(t, 5*time.Minute, rs[0].Interval)
}
