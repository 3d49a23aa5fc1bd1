// Package inflight tracks which task names are currently executing.
//
// One Set is created per application session and passed explicitly to the
// runner, the refresh scheduler and the orchestrator, so a name is never run
// twice concurrently regardless of which path triggered it.
package inflight

import (
	"sort"
	"strings"
	"sync"
)

// Set is a mutex-guarded set of task names. The zero value is ready to use.
type Set struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func New() *Set { return &Set{names: map[string]struct{}{}} }

// TryAcquire marks name as in-flight. It returns false if the name is already
// present; check and mark happen in one critical section.
func (s *Set) TryAcquire(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names == nil {
		s.names = map[string]struct{}{}
	}
	if _, busy := s.names[name]; busy {
		return false
	}
	s.names[name] = struct{}{}
	return true
}

// Release removes name. Releasing an absent name is a no-op.
func (s *Set) Release(name string) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	delete(s.names, name)
	s.mu.Unlock()
}

// Has reports whether name is currently in-flight.
func (s *Set) Has(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	_, ok := s.names[name]
	s.mu.Unlock()
	return ok
}

func (s *Set) Len() int {
	s.mu.Lock()
	n := len(s.names)
	s.mu.Unlock()
	return n
}

// Names returns the in-flight names, sorted.
func (s *Set) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}
