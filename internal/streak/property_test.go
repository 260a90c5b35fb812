package streak

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

const (
	opCreate = iota
	opUpdate
	opDelete
)

// habitModel 模拟一个习惯的打卡集合（每天至多一条）以及增量维护的计数
type habitModel struct {
	engine   *Engine
	entries  map[int]bool
	counters Counters
}

func (m *habitModel) snapshot() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for n, completed := range m.entries {
		out = append(out, Entry{Date: dayN(n), Completed: completed})
	}
	return out
}

// apply 按 upsert 语义执行一次变更，删除不存在的日期时不做任何事
func (m *habitModel) apply(op, n int, completed bool, asOf time.Time) {
	prevValue, exists := m.entries[n]

	switch {
	case op == opDelete && exists:
		delete(m.entries, n)
		m.counters = m.engine.OnEntryDeleted(m.counters, m.snapshot(), Entry{Date: dayN(n), Completed: prevValue}, asOf)
	case op == opDelete:
		return
	case exists:
		m.entries[n] = completed
		before := Entry{Date: dayN(n), Completed: prevValue}
		after := Entry{Date: dayN(n), Completed: completed}
		m.counters = m.engine.OnEntryUpdated(m.counters, m.snapshot(), before, after, asOf)
	default:
		m.entries[n] = completed
		m.counters = m.engine.OnEntryCreated(m.counters, m.snapshot(), Entry{Date: dayN(n), Completed: completed}, asOf)
	}
}

func TestIncrementalMatchesFromScratch(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		grace := rapid.Bool().Draw(t, "grace")
		m := &habitModel{engine: New(WithTodayGrace(grace)), entries: make(map[int]bool)}
		asOf := dayN(rapid.IntRange(1, 21).Draw(t, "asOf"))

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(opCreate, opDelete).Draw(t, "op")
			n := rapid.IntRange(1, 20).Draw(t, "day")
			completed := rapid.Bool().Draw(t, "completed")

			prevLongest := m.counters.LongestStreak
			m.apply(op, n, completed, asOf)

			rebuilt := m.engine.FromScratch(m.snapshot(), asOf)
			if m.counters.TotalCompletions != rebuilt.TotalCompletions {
				t.Fatalf("step %d: delta total %d != rescan total %d", i, m.counters.TotalCompletions, rebuilt.TotalCompletions)
			}
			if m.counters.CurrentStreak != rebuilt.CurrentStreak {
				t.Fatalf("step %d: current %d != rescan current %d", i, m.counters.CurrentStreak, rebuilt.CurrentStreak)
			}
			if m.counters.LongestStreak < rebuilt.LongestStreak {
				t.Fatalf("step %d: longest %d below rescan longest %d", i, m.counters.LongestStreak, rebuilt.LongestStreak)
			}
			if m.counters.LongestStreak < prevLongest {
				t.Fatalf("step %d: longest decreased from %d to %d", i, prevLongest, m.counters.LongestStreak)
			}
			if m.counters.TotalCompletions < 0 {
				t.Fatalf("step %d: negative total %d", i, m.counters.TotalCompletions)
			}
		}
	})
}

func TestRecomputeIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := New(WithWindow(rapid.IntRange(0, 40).Draw(t, "window")))
		count := rapid.IntRange(0, 30).Draw(t, "count")

		entries := make([]Entry, 0, count)
		for i := 0; i < count; i++ {
			entries = append(entries, Entry{
				Date:      dayN(rapid.IntRange(1, 30).Draw(t, "day")),
				Completed: rapid.Bool().Draw(t, "completed"),
			})
		}
		asOf := dayN(rapid.IntRange(1, 30).Draw(t, "asOf"))

		first := e.Recompute(Counters{}, entries, asOf)
		second := e.Recompute(first, entries, asOf)
		if first != second {
			t.Fatalf("recompute not idempotent: %+v then %+v", first, second)
		}
	})
}
