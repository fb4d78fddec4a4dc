package chat

import (
	"cmp"
	"slices"
	"time"
)

// RoomStat describes one room in a published snapshot.
type RoomStat struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
	Closed  bool   `json:"closed"`
}

// Stats is an immutable view of the engine published once per tick. Readers
// on other goroutines get the pointer atomically and must not modify it.
type Stats struct {
	Users     int        `json:"users"`
	Rooms     int        `json:"rooms"`
	Ticks     uint64     `json:"ticks"`
	LastTick  time.Time  `json:"last_tick"`
	Occupancy []RoomStat `json:"occupancy"`
}

// Snapshot returns the most recently published view, or nil before the
// first tick completes.
func (e *Engine) Snapshot() *Stats {
	return e.stats.Load()
}

func (e *Engine) publishStats(now time.Time) {
	occupancy := make([]RoomStat, 0, len(e.rooms))
	for _, r := range e.rooms {
		occupancy = append(occupancy, RoomStat{
			ID:      uint64(r.ID()),
			Name:    r.Name(),
			Members: len(r.Members()),
			Closed:  r.Closed(),
		})
	}
	slices.SortFunc(occupancy, func(a, b RoomStat) int { return cmp.Compare(a.ID, b.ID) })

	e.stats.Store(&Stats{
		Users:     len(e.users),
		Rooms:     len(e.rooms),
		Ticks:     e.ticks,
		LastTick:  now,
		Occupancy: occupancy,
	})
}
