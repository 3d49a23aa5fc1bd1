package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedgrid/internal/feature"
	"feedgrid/internal/loadplan"
	"feedgrid/internal/task"
)

type recorder struct{ calls []string }

func (r *recorder) action(name string) task.Action {
	return func(context.Context) error {
		r.calls = append(r.calls, name)
		return nil
	}
}

func (r *recorder) loaders() loadplan.Loaders {
	return loadplan.Loaders{
		Natural: r.action("natural"), Firms: r.action("firms"), Weather: r.action("weather"),
		Intelligence: r.action("intelligence"), CyberThreats: r.action("cyber"), AIS: r.action("ais"),
		Cables: r.action("cables"), Flights: r.action("flights"), TechEvents: r.action("tech"),
		Conflicts: r.action("ucdp"), Displacement: r.action("displacement"), Climate: r.action("climate"),
		News: r.action("news"),
	}
}

func TestDispatchRoutes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		layer feature.Layer
		want  string
	}{
		{feature.LayerNatural, "natural"},
		{feature.LayerFires, "firms"},
		{feature.LayerWeather, "weather"},
		{feature.LayerOutages, "intelligence"},
		{feature.LayerProtests, "intelligence"},
		{feature.LayerMilitary, "intelligence"},
		{feature.LayerCyberThreats, "cyber"},
		{feature.LayerAIS, "ais"},
		{feature.LayerCables, "cables"},
		{feature.LayerFlights, "flights"},
		{feature.LayerTechEvents, "tech"},
		{feature.LayerUCDPEvents, "ucdp"},
		{feature.LayerDisplacement, "displacement"},
		{feature.LayerClimate, "climate"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.layer), func(t *testing.T) {
			t.Parallel()
			r := &recorder{}
			require.NoError(t, Dispatch(context.Background(), tt.layer, r.loaders()))
			assert.Equal(t, []string{tt.want}, r.calls)
		})
	}
}

func TestEveryDynamicLayerIsRouted(t *testing.T) {
	t.Parallel()
	for _, l := range feature.Layers() {
		_, ok := Route(l)
		assert.Equal(t, l.Dynamic(), ok, string(l))
	}
}

func TestDispatchNoop(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	for _, l := range []feature.Layer{"satellites", "", feature.LayerBases, feature.LayerEconomic} {
		assert.NoError(t, Dispatch(context.Background(), l, r.loaders()))
	}
	assert.NoError(t, Dispatch(context.Background(), feature.LayerAIS, loadplan.Loaders{}), "unwired loader")
	assert.Empty(t, r.calls)
}

func TestDispatchReturnsLoaderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("ais relay down")
	err := Dispatch(context.Background(), feature.LayerAIS, loadplan.Loaders{AIS: func(context.Context) error { return boom }})
	assert.ErrorIs(t, err, boom)
}

func TestRouteAliases(t *testing.T) {
	t.Parallel()
	for _, l := range []feature.Layer{feature.LayerOutages, feature.LayerProtests, feature.LayerMilitary} {
		name, ok := Route(l)
		require.True(t, ok)
		assert.Equal(t, loadplan.Intelligence, name)
	}
}
