package scheduler

import "sort"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.c != nil}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	snap.Timezone = loc.String()

	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Kind: d.kind, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	for name, d := range s.once {
		snap.Schedules = append(snap.Schedules, ScheduleInfo{Name: name, Kind: KindOnce, Next: d.at})
	}
	for name, d := range s.adaptive {
		info := ScheduleInfo{Name: name, Kind: KindAdaptive, Prev: d.prev, Interval: d.interval, Pending: d.pending}
		if d.timer != nil {
			info.Next = d.next
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()

	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
