package feature

import (
	"sort"
	"sync"

	"feedgrid/internal/eventbus"
	"feedgrid/internal/task"
)

// LayerLoading is the payload of layer.loading events.
type LayerLoading struct {
	Layer   string `json:"layer"`
	Loading bool   `json:"loading"`
}

// LoadingState records which layers show a loading indicator and announces
// every transition on the bus.
type LoadingState struct {
	mu      sync.Mutex
	loading map[string]struct{}
	bus     eventbus.Bus
}

func NewLoadingState(bus eventbus.Bus) *LoadingState {
	return &LoadingState{loading: map[string]struct{}{}, bus: bus}
}

func (s *LoadingState) SetLoading(layer string, loading bool) {
	s.mu.Lock()
	if loading {
		s.loading[layer] = struct{}{}
	} else {
		delete(s.loading, layer)
	}
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: task.EventLayerLoading, Data: LayerLoading{Layer: layer, Loading: loading}})
	}
}

func (s *LoadingState) IsLoading(layer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loading[layer]
	return ok
}

// Loading returns the layers currently loading, sorted.
func (s *LoadingState) Loading() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.loading))
	for l := range s.loading {
		out = append(out, l)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}
