package budget

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_CheckAndReserve(t *testing.T) {
	t.Run("fresh_room_is_allowed", func(t *testing.T) {
		tr := NewTracker(10)
		res := tr.CheckAndReserve("room-1")

		assert.True(t, res.Allowed)
		assert.Equal(t, int64(0), res.CurrentUsage)
		assert.Equal(t, int64(10), res.Limit)
		assert.False(t, res.LimitJustCrossed)
	})

	t.Run("does_not_mutate_usage", func(t *testing.T) {
		tr := NewTracker(10)
		tr.Commit("room-1", 4)

		for i := 0; i < 5; i++ {
			tr.CheckAndReserve("room-1")
		}
		assert.Equal(t, int64(4), tr.Usage("room-1").Usage)
	})

	t.Run("exhausted_room_announces_once", func(t *testing.T) {
		tr := NewTracker(5)
		// Reach the limit through a path that does not announce
		tr.room("room-1").usage.Store(5)

		first := tr.CheckAndReserve("room-1")
		second := tr.CheckAndReserve("room-1")

		assert.False(t, first.Allowed)
		assert.True(t, first.LimitJustCrossed)
		assert.False(t, second.Allowed)
		assert.False(t, second.LimitJustCrossed)
	})

	t.Run("zero_limit_denies_everything", func(t *testing.T) {
		tr := NewTracker(0)
		res := tr.CheckAndReserve("room-1")
		assert.False(t, res.Allowed)
		assert.True(t, res.LimitJustCrossed)
	})
}

func TestTracker_Commit(t *testing.T) {
	t.Run("accumulates_usage", func(t *testing.T) {
		tr := NewTracker(100)
		tr.Commit("room-1", 3)
		c := tr.Commit("room-1", 7)

		assert.Equal(t, int64(10), c.UpdatedUsage)
		assert.False(t, c.LimitReached)
		assert.False(t, c.LimitJustCrossed)
	})

	t.Run("clamps_to_one_unit", func(t *testing.T) {
		tr := NewTracker(100)
		assert.Equal(t, int64(1), tr.Commit("room-1", 0).UpdatedUsage)
		assert.Equal(t, int64(2), tr.Commit("room-1", -4).UpdatedUsage)
	})

	t.Run("rooms_are_independent", func(t *testing.T) {
		tr := NewTracker(10)
		tr.Commit("room-1", 10)

		assert.Equal(t, int64(0), tr.Usage("room-2").Usage)
		assert.True(t, tr.CheckAndReserve("room-2").Allowed)
	})

	t.Run("crossing_after_commit_suppresses_check_notice", func(t *testing.T) {
		tr := NewTracker(10)
		c := tr.Commit("room-1", 12)
		require.True(t, c.LimitJustCrossed)

		res := tr.CheckAndReserve("room-1")
		assert.False(t, res.Allowed)
		assert.False(t, res.LimitJustCrossed)
	})
}

func TestTracker_LimitCrossedExactlyOnce(t *testing.T) {
	chunkings := [][]int64{
		{10},
		{1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		{3, 3, 4},
		{9, 1},
		{5, 5},
	}

	for _, chunks := range chunkings {
		t.Run(fmt.Sprintf("sequential_%v", chunks), func(t *testing.T) {
			tr := NewTracker(10)
			crossed := 0
			var last Commitment
			for _, units := range chunks {
				last = tr.Commit("room", units)
				if last.LimitJustCrossed {
					crossed++
				}
			}
			assert.Equal(t, 1, crossed)
			assert.True(t, last.LimitReached)
			assert.Equal(t, int64(10), last.UpdatedUsage)
		})
	}

	t.Run("concurrent_commits", func(t *testing.T) {
		for run := 0; run < 50; run++ {
			tr := NewTracker(10)
			var crossed atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if tr.Commit("room", 1).LimitJustCrossed {
						crossed.Add(1)
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int32(1), crossed.Load())
			require.Equal(t, int64(10), tr.Usage("room").Usage)
		}
	})

	t.Run("concurrent_checks_and_commits", func(t *testing.T) {
		tr := NewTracker(10)
		tr.Commit("room", 10)

		var crossed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if tr.CheckAndReserve("room").LimitJustCrossed {
					crossed.Add(1)
				}
			}()
		}
		wg.Wait()

		// The commit that reached the limit already announced it.
		assert.Equal(t, int32(0), crossed.Load())
	})
}

func TestTracker_Usage(t *testing.T) {
	tr := NewTracker(20)
	tr.Commit("room-1", 8)

	s := tr.Usage("room-1")
	assert.Equal(t, "room-1", s.RoomID)
	assert.Equal(t, int64(8), s.Usage)
	assert.Equal(t, int64(12), s.Remaining)
	assert.False(t, s.Announced)

	empty := tr.Usage("unknown")
	assert.Equal(t, int64(0), empty.Usage)
	assert.Equal(t, int64(20), empty.Remaining)
}
