package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedgrid/internal/eventbus"
	"feedgrid/internal/task"
)

func TestParseVariant(t *testing.T) {
	t.Parallel()
	v, err := ParseVariant(" Tech ")
	require.NoError(t, err)
	assert.Equal(t, VariantTech, v)

	v, err = ParseVariant("")
	require.NoError(t, err)
	assert.Equal(t, VariantFull, v)

	_, err = ParseVariant("finance")
	assert.Error(t, err)
}

func TestLayerClassification(t *testing.T) {
	t.Parallel()
	assert.True(t, LayerWeather.Dynamic())
	assert.True(t, LayerBases.Known())
	assert.False(t, LayerBases.Dynamic())
	assert.False(t, Layer("satellites").Known())

	l, ok := ParseLayer("CYBERTHREATS")
	assert.True(t, ok)
	assert.Equal(t, LayerCyberThreats, l)
	assert.Len(t, Layers(), 21)
}

func TestStoreCopiesAndToggles(t *testing.T) {
	t.Parallel()
	layers := map[Layer]bool{LayerWeather: false}
	s := NewStore(Flags{Variant: VariantTech, Layers: layers})
	layers[LayerWeather] = true
	assert.False(t, s.Current().Enabled(LayerWeather), "Set copies the map")

	before := s.Current()
	prev := s.SetLayer(LayerWeather, true)
	assert.False(t, prev)
	assert.True(t, s.Current().Enabled(LayerWeather))
	assert.False(t, before.Enabled(LayerWeather), "earlier views are immutable")
	assert.Equal(t, []Layer{LayerWeather}, s.Current().EnabledLayers())
}

func TestZeroStoreDefaultsToFull(t *testing.T) {
	t.Parallel()
	var s Store
	assert.Equal(t, VariantFull, s.Current().Variant)
	s.SetLayer(LayerAIS, true)
	assert.True(t, s.Current().Enabled(LayerAIS))
}

func TestLoadingStatePublishes(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, task.EventLayerLoading)
	defer unsub()

	ls := NewLoadingState(bus)
	ls.SetLoading("ais", true)
	assert.True(t, ls.IsLoading("ais"))
	assert.Equal(t, []string{"ais"}, ls.Loading())
	ls.SetLoading("ais", false)
	assert.False(t, ls.IsLoading("ais"))

	require.Len(t, ch, 2)
	assert.Equal(t, LayerLoading{Layer: "ais", Loading: true}, (<-ch).Data)
	assert.Equal(t, LayerLoading{Layer: "ais", Loading: false}, (<-ch).Data)
}
