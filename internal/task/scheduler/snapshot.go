package scheduler

import (
	"cmp"
	"slices"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Shutdown:   s.shutdown,
		Terminated: s.terminated,
		Timezone:   s.loc.String(),
		Pending:    s.q.Len(),
		InFlight:   s.inflight,
		Entries:    make([]EntryInfo, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		it := EntryInfo{
			ID:    e.id,
			Name:  e.name,
			Kind:  e.kind.String(),
			Spec:  e.spec,
			State: e.fut.state.String(),
			Runs:  e.fut.runs,
		}
		if e.item.Queued() {
			it.Next = s.wallTime(e.item.Due)
		}
		snap.Entries = append(snap.Entries, it)
	}
	s.mu.Unlock()

	slices.SortFunc(snap.Entries, func(a, b EntryInfo) int { return cmp.Compare(a.ID, b.ID) })
	snap.Engine = s.eng.Snapshot()
	return snap
}
