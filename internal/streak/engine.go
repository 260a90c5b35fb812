// Package streak 根据单个习惯的打卡记录计算连续天数与完成次数。
//
// 习惯上缓存的三个计数（当前连续、最长连续、累计完成）都只是打卡集合的派生值：
// FromScratch 可以随时从集合重建它们，OnEntryCreated/OnEntryUpdated/OnEntryDeleted
// 则在每次变更后增量维护，两条路径的结果必须一致。
package streak

import (
	"cmp"
	"slices"
	"time"
)

// Entry 是引擎关心的打卡视图：日期与是否完成
type Entry struct {
	Date      time.Time
	Completed bool
}

// Counters 对应 Habit 上缓存的三个派生计数
type Counters struct {
	CurrentStreak    int
	LongestStreak    int
	TotalCompletions int
}

// Engine 为纯计算对象，不做任何 I/O，可在多个请求间共享
type Engine struct {
	window     int
	todayGrace bool
}

// Option 调整 Engine 行为
type Option func(*Engine)

// WithWindow 仅使用最近 n 条记录计算；n<=0 表示扫描完整历史。
// 窗口之外的记录不参与计算，超过窗口长度的连续天数会被截断。
func WithWindow(n int) Option {
	return func(e *Engine) {
		if n < 0 {
			n = 0
		}
		e.window = n
	}
}

// WithTodayGrace 为 true 时，参考日当天尚无记录不会中断连续（当天视为进行中）；
// 当天存在未完成记录仍然中断。
func WithTodayGrace(enabled bool) Option {
	return func(e *Engine) {
		e.todayGrace = enabled
	}
}

// New 构造 Engine，默认扫描完整历史且参考日无记录时连续为 0
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Window 返回当前窗口大小，0 表示不限
func (e *Engine) Window() int {
	return e.window
}

// Day 将任意时刻归一化为所在时区的日历日期，统一存为 UTC 零点，避免夏令时影响天数差
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today 返回 loc 时区下 now 对应的日历日期
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Day(now.In(loc))
}

// CurrentStreak 从 asOf 开始按日期倒序扫描，遇到缺口或未完成记录即停止。
// 日期晚于游标的记录（未来日期或重复日期）直接跳过。
func (e *Engine) CurrentStreak(entries []Entry, asOf time.Time) int {
	sorted := e.prepare(entries)
	cursor := Day(asOf)

	if e.todayGrace && !hasDate(sorted, cursor) {
		cursor = cursor.AddDate(0, 0, -1)
	}

	count := 0
	for _, entry := range sorted {
		if entry.Date.After(cursor) {
			continue
		}
		if !entry.Date.Equal(cursor) || !entry.Completed {
			break
		}
		count++
		cursor = cursor.AddDate(0, 0, -1)
	}

	return count
}

// LongestRun 返回窗口内任意位置的最长连续完成天数
func (e *Engine) LongestRun(entries []Entry) int {
	sorted := e.prepare(entries)

	longest, run := 0, 0
	var prev time.Time
	for _, entry := range sorted {
		if !entry.Completed {
			run = 0
			continue
		}
		switch {
		case run > 0 && entry.Date.Equal(prev):
			continue
		case run > 0 && entry.Date.Equal(prev.AddDate(0, 0, -1)):
			run++
		default:
			run = 1
		}
		prev = entry.Date
		longest = max(longest, run)
	}

	return longest
}

// Recompute 重新计算当前连续并更新最长连续，累计完成数保持不变
// 最长连续同时参考集合内的历史最长段，补录的旧记录立即计入
func (e *Engine) Recompute(prev Counters, entries []Entry, asOf time.Time) Counters {
	current := e.CurrentStreak(entries, asOf)
	return Counters{
		CurrentStreak:    current,
		LongestStreak:    max(prev.LongestStreak, current, e.LongestRun(entries)),
		TotalCompletions: prev.TotalCompletions,
	}
}

// FromScratch 完全基于打卡集合重建计数，不依赖任何历史缓存
func (e *Engine) FromScratch(entries []Entry, asOf time.Time) Counters {
	current := e.CurrentStreak(entries, asOf)
	return Counters{
		CurrentStreak:    current,
		LongestStreak:    max(current, e.LongestRun(entries)),
		TotalCompletions: CountCompleted(entries),
	}
}

// OnEntryCreated 在新增打卡后调用，entries 为变更后的完整集合
func (e *Engine) OnEntryCreated(prev Counters, entries []Entry, created Entry, asOf time.Time) Counters {
	next := e.Recompute(prev, entries, asOf)
	next.TotalCompletions = applyDelta(prev.TotalCompletions, CompletionDelta(nil, &created))
	return next
}

// OnEntryUpdated 在打卡更新后调用，before/after 为同一记录变更前后的状态
func (e *Engine) OnEntryUpdated(prev Counters, entries []Entry, before, after Entry, asOf time.Time) Counters {
	next := e.Recompute(prev, entries, asOf)
	next.TotalCompletions = applyDelta(prev.TotalCompletions, CompletionDelta(&before, &after))
	return next
}

// OnEntryDeleted 在删除打卡后调用，entries 已不包含 deleted
func (e *Engine) OnEntryDeleted(prev Counters, entries []Entry, deleted Entry, asOf time.Time) Counters {
	next := e.Recompute(prev, entries, asOf)
	next.TotalCompletions = applyDelta(prev.TotalCompletions, CompletionDelta(&deleted, nil))
	return next
}

// CompletionDelta 比较变更前后的完成状态；nil 表示记录不存在
func CompletionDelta(before, after *Entry) int {
	was := before != nil && before.Completed
	is := after != nil && after.Completed

	switch {
	case is && !was:
		return 1
	case was && !is:
		return -1
	default:
		return 0
	}
}

// CountCompleted 全量统计已完成记录数
func CountCompleted(entries []Entry) int {
	total := 0
	for _, entry := range entries {
		if entry.Completed {
			total++
		}
	}
	return total
}

// applyDelta 累计值不允许出现负数
func applyDelta(total, delta int) int {
	return max(0, total+delta)
}

// prepare 复制并按日期倒序排列，调用方传入的切片不会被修改
func (e *Engine) prepare(entries []Entry) []Entry {
	sorted := make([]Entry, len(entries))
	for i, entry := range entries {
		sorted[i] = Entry{Date: Day(entry.Date), Completed: entry.Completed}
	}

	slices.SortStableFunc(sorted, func(a, b Entry) int {
		return cmp.Compare(b.Date.Unix(), a.Date.Unix())
	})

	if e.window > 0 && len(sorted) > e.window {
		sorted = sorted[:e.window]
	}
	return sorted
}

func hasDate(sorted []Entry, day time.Time) bool {
	for _, entry := range sorted {
		if entry.Date.Equal(day) {
			return true
		}
		if entry.Date.Before(day) {
			return false
		}
	}
	return false
}
