package scheduler

import (
	"sort"

	"feedgrid/internal/task"
)

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	items := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		it := EntryInfo{
			Name:     e.name,
			Interval: e.interval,
			Gated:    e.cond != nil,
			Next:     e.next,
			Delay:    e.delay,
			Running:  e.running,
			Runs:     e.runs,
			Failures: e.failures,
			LastRun:  e.lastRun,
			LastErr:  e.lastErr,
		}
		if len(e.skips) > 0 {
			it.Skips = make(map[task.SkipReason]uint64, len(e.skips))
			for k, v := range e.skips {
				it.Skips[k] = v
			}
		}
		items = append(items, it)
	}
	closed := s.closed
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return Snapshot{Closed: closed, InFlight: s.set.Names(), Entries: items}
}

// Entry returns the info for one name.
func (s *Scheduler) Entry(name string) (EntryInfo, bool) {
	for _, e := range s.Snapshot().Entries {
		if e.Name == name {
			return e, true
		}
	}
	return EntryInfo{}, false
}
