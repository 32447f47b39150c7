// Package budget tracks per-room consumption of completion-provider units.
//
// State is process-local and lives for the lifetime of the Tracker. Each room
// owns an atomic usage counter and an atomic "announced" flag; the flag's
// compare-and-swap is what makes the limit notice fire once per room.
package budget

import (
	"sync"
	"sync/atomic"

	"botchat/internal/observability"
)

// Reservation is the result of a pre-call budget check
type Reservation struct {
	Allowed          bool
	CurrentUsage     int64
	Limit            int64
	LimitJustCrossed bool
}

// Commitment is the result of charging units to a room
type Commitment struct {
	UpdatedUsage     int64
	LimitReached     bool
	LimitJustCrossed bool
}

// Snapshot is a read-only view of a room's budget
type Snapshot struct {
	RoomID    string `json:"room_id"`
	Usage     int64  `json:"usage"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	Announced bool   `json:"limit_announced"`
}

type roomBudget struct {
	usage     atomic.Int64
	announced atomic.Bool
}

// Tracker holds budget state for every room it has seen
type Tracker struct {
	limit int64
	rooms sync.Map // room id -> *roomBudget
	count atomic.Int64
}

// NewTracker creates a tracker with the given per-room limit
func NewTracker(limit int64) *Tracker {
	if limit < 0 {
		limit = 0
	}
	return &Tracker{limit: limit}
}

// Limit returns the configured per-room limit
func (t *Tracker) Limit() int64 {
	return t.limit
}

func (t *Tracker) room(roomID string) *roomBudget {
	if rb, ok := t.rooms.Load(roomID); ok {
		return rb.(*roomBudget)
	}
	rb, loaded := t.rooms.LoadOrStore(roomID, &roomBudget{})
	if !loaded {
		observability.BudgetRoomsTracked.Set(float64(t.count.Add(1)))
	}
	return rb.(*roomBudget)
}

// CheckAndReserve reports whether a provider call may proceed for roomID.
// It never changes usage.
func (t *Tracker) CheckAndReserve(roomID string) Reservation {
	rb := t.room(roomID)
	usage := rb.usage.Load()

	res := Reservation{
		Allowed:      usage < t.limit,
		CurrentUsage: usage,
		Limit:        t.limit,
	}
	if !res.Allowed {
		res.LimitJustCrossed = t.announce(rb)
		observability.BudgetDenied.Inc()
	}
	return res
}

// Commit charges units to roomID after a successful provider call.
// Units below 1 are charged as 1.
func (t *Tracker) Commit(roomID string, units int64) Commitment {
	if units < 1 {
		units = 1
	}
	rb := t.room(roomID)
	updated := rb.usage.Add(units)
	observability.BudgetUnitsCommitted.Add(float64(units))

	c := Commitment{
		UpdatedUsage: updated,
		LimitReached: updated >= t.limit,
	}
	if c.LimitReached {
		c.LimitJustCrossed = t.announce(rb)
	}
	return c
}

// Usage returns the current state of roomID without creating it
func (t *Tracker) Usage(roomID string) Snapshot {
	s := Snapshot{RoomID: roomID, Limit: t.limit, Remaining: t.limit}
	if v, ok := t.rooms.Load(roomID); ok {
		rb := v.(*roomBudget)
		s.Usage = rb.usage.Load()
		s.Announced = rb.announced.Load()
		s.Remaining = max(t.limit-s.Usage, 0)
	}
	return s
}

func (t *Tracker) announce(rb *roomBudget) bool {
	if rb.announced.CompareAndSwap(false, true) {
		observability.BudgetLimitCrossed.Inc()
		return true
	}
	return false
}
