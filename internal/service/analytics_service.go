package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/streak"
	"gorm.io/gorm"
)

// AnalyticsService 负责读侧统计：仪表盘、习惯分析、日历与进度。
// 连续天数直接读取 Habit 上的缓存计数，不触发重算。
type AnalyticsService struct {
	db     *gorm.DB
	engine *streak.Engine
}

// DashboardStats 汇总用户当天的打卡概况
type DashboardStats struct {
	TotalHabits      int
	ActiveHabits     int
	TodayCompleted   int
	TodayTotal       int
	CurrentStreak    int
	TotalCompletions int
}

// HabitAnalytics 描述单个习惯在统计窗口内的表现
type HabitAnalytics struct {
	HabitID        uint
	HabitName      string
	TotalDays      int
	CompletedDays  int
	CompletionRate float64
	CurrentStreak  int
	LongestStreak  int
	AverageValue   *float64
}

// CalendarDay 为日历热力图中的单日数据
type CalendarDay struct {
	Completed bool
	Value     *float64
	Notes     string
}

// HabitCalendar 为某个习惯一整年的打卡
type HabitCalendar struct {
	Habit db.Habit
	Year  int
	Days  map[string]CalendarDay
}

// ProgressPoint 为进度曲线上的一个点
type ProgressPoint struct {
	Date      time.Time
	Completed bool
	Value     *float64
	Target    float64
}

// HabitProgress 为某个习惯最近若干天的进度
type HabitProgress struct {
	Habit  db.Habit
	Points []ProgressPoint
}

// HabitHeatmapEntry 表示热力图中的单日打卡数据
type HabitHeatmapEntry struct {
	EntryDate time.Time
	HabitID   uint
	HabitName string
	HabitType string
	Color     string
}

// HabitStats 汇总区间内的基础统计数据
type HabitStats struct {
	RangeStart     time.Time
	RangeEnd       time.Time
	CompletedCount int
	TargetCount    int
	CompletionRate float64
	CurrentStreak  int
	LongestStreak  int
	RangeLongest   int
}

// NewAnalyticsService 构造 AnalyticsService
func NewAnalyticsService(gdb *gorm.DB, engine *streak.Engine) *AnalyticsService {
	if engine == nil {
		engine = streak.New()
	}
	return &AnalyticsService{db: gdb, engine: engine}
}

// Dashboard 返回用户在 today 的概况；CurrentStreak 取所有习惯中的最大当前连续
func (s *AnalyticsService) Dashboard(userID uint, today time.Time) (*DashboardStats, error) {
	var habits []db.Habit
	if err := s.db.Where("user_id = ?", userID).Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	stats := &DashboardStats{TotalHabits: len(habits)}
	for _, habit := range habits {
		if habit.Status == "active" {
			stats.ActiveHabits++
		}
		stats.CurrentStreak = max(stats.CurrentStreak, habit.CurrentStreak)
		stats.TotalCompletions += habit.TotalCompletions
	}

	var entries []db.HabitEntry
	if err := s.db.Select("id", "completed").
		Where("user_id = ? AND entry_date = ?", userID, streak.Day(today)).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list today entries: %w", err)
	}

	stats.TodayTotal = len(entries)
	for _, entry := range entries {
		if entry.Completed {
			stats.TodayCompleted++
		}
	}

	return stats, nil
}

// HabitAnalytics 统计每个习惯最近 days 天（含 today）的完成情况
func (s *AnalyticsService) HabitAnalytics(userID uint, days int, today time.Time) ([]HabitAnalytics, error) {
	if days <= 0 {
		days = 30
	}

	var habits []db.Habit
	if err := s.db.Where("user_id = ?", userID).Order("id ASC").Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	end := streak.Day(today)
	start := end.AddDate(0, 0, -(days - 1))

	items := make([]HabitAnalytics, 0, len(habits))
	for _, habit := range habits {
		var entries []db.HabitEntry
		if err := s.db.Where("habit_id = ?", habit.ID).
			Where("entry_date BETWEEN ? AND ?", start, end).
			Find(&entries).Error; err != nil {
			return nil, fmt.Errorf("list habit entries: %w", err)
		}

		item := HabitAnalytics{
			HabitID:       habit.ID,
			HabitName:     habit.Name,
			TotalDays:     days,
			CurrentStreak: habit.CurrentStreak,
			LongestStreak: habit.LongestStreak,
		}
		for _, entry := range entries {
			if entry.Completed {
				item.CompletedDays++
			}
		}
		item.CompletionRate = float64(item.CompletedDays) / float64(days) * 100

		if habit.HabitType == HabitTypeCount || habit.HabitType == HabitTypeDuration {
			item.AverageValue = averageValue(entries)
		}

		items = append(items, item)
	}

	return items, nil
}

// Calendar 返回某个习惯在 year 年的全部打卡，按日期字符串索引
func (s *AnalyticsService) Calendar(userID, habitID uint, year int) (*HabitCalendar, error) {
	habit, err := findOwnedHabit(s.db, userID, habitID)
	if err != nil {
		return nil, err
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)

	var entries []db.HabitEntry
	if err := s.db.Where("habit_id = ?", habit.ID).
		Where("entry_date BETWEEN ? AND ?", start, end).
		Order("entry_date ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list calendar entries: %w", err)
	}

	calendar := &HabitCalendar{Habit: *habit, Year: year, Days: make(map[string]CalendarDay, len(entries))}
	for _, entry := range entries {
		calendar.Days[entry.EntryDate.Format(time.DateOnly)] = CalendarDay{
			Completed: entry.Completed,
			Value:     entry.Value,
			Notes:     entry.Notes,
		}
	}
	return calendar, nil
}

// Progress 返回最近 days 天（含 today）有记录的日期序列，按日期升序
func (s *AnalyticsService) Progress(userID, habitID uint, days int, today time.Time) (*HabitProgress, error) {
	if days <= 0 {
		days = 30
	}

	habit, err := findOwnedHabit(s.db, userID, habitID)
	if err != nil {
		return nil, err
	}

	end := streak.Day(today)
	start := end.AddDate(0, 0, -(days - 1))

	var entries []db.HabitEntry
	if err := s.db.Where("habit_id = ?", habit.ID).
		Where("entry_date BETWEEN ? AND ?", start, end).
		Order("entry_date ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list progress entries: %w", err)
	}

	progress := &HabitProgress{Habit: *habit, Points: make([]ProgressPoint, 0, len(entries))}
	for _, entry := range entries {
		progress.Points = append(progress.Points, ProgressPoint{
			Date:      entry.EntryDate,
			Completed: entry.Completed,
			Value:     entry.Value,
			Target:    habit.TargetValue,
		})
	}
	return progress, nil
}

// Heatmap 返回用户在区间内所有习惯的已完成打卡
func (s *AnalyticsService) Heatmap(userID uint, start, end time.Time) ([]HabitHeatmapEntry, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end before start")
	}

	normalizedStart := streak.Day(start)
	normalizedEnd := streak.Day(end)

	var rows []HabitHeatmapEntry
	if err := s.db.Model(&db.HabitEntry{}).
		Select("habit_entries.entry_date AS entry_date, habit_entries.habit_id AS habit_id, habits.name AS habit_name, habits.habit_type AS habit_type, habits.color AS color").
		Joins("JOIN habits ON habits.id = habit_entries.habit_id").
		Where("habits.user_id = ?", userID).
		Where("habit_entries.completed = ?", true).
		Where("habit_entries.entry_date BETWEEN ? AND ?", normalizedStart, normalizedEnd).
		Order("habit_entries.entry_date ASC, habits.name ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list heatmap entries: %w", err)
	}

	return rows, nil
}

// StatsBetween 计算区间内的完成数、目标完成数及区间内最长连续
func (s *AnalyticsService) StatsBetween(userID uint, filter EntryFilter) (*HabitStats, error) {
	habit, err := findOwnedHabit(s.db, userID, filter.HabitID)
	if err != nil {
		return nil, err
	}

	start := streak.Day(filter.Start)
	end := streak.Day(filter.End)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end before start", ErrInvalidEntry)
	}

	var entries []db.HabitEntry
	if err := s.db.Where("habit_id = ?", habit.ID).
		Where("entry_date BETWEEN ? AND ?", start, end).
		Order("entry_date ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list habit entries: %w", err)
	}

	stats := &HabitStats{
		RangeStart:    start,
		RangeEnd:      end,
		CurrentStreak: habit.CurrentStreak,
		LongestStreak: habit.LongestStreak,
	}

	streakEntries := make([]streak.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Completed {
			stats.CompletedCount++
		}
		streakEntries = append(streakEntries, toStreakEntry(entry))
	}

	stats.TargetCount = expectedCount(*habit, start, end)
	if stats.TargetCount <= 0 {
		stats.TargetCount = stats.CompletedCount
	}
	if stats.TargetCount > 0 {
		stats.CompletionRate = float64(stats.CompletedCount) / float64(stats.TargetCount)
	}
	stats.RangeLongest = s.engine.LongestRun(streakEntries)

	return stats, nil
}

func averageValue(entries []db.HabitEntry) *float64 {
	sum, count := 0.0, 0
	for _, entry := range entries {
		if entry.Value == nil {
			continue
		}
		sum += *entry.Value
		count++
	}

	avg := 0.0
	if count > 0 {
		avg = sum / float64(count)
	}
	return &avg
}

func expectedCount(habit db.Habit, start, end time.Time) int {
	if end.Before(start) {
		return 0
	}

	days := int(end.Sub(start).Hours()/24) + 1

	switch strings.ToLower(habit.FrequencyUnit) {
	case "weekly":
		weeks := days / 7
		if weeks == 0 {
			weeks = 1
		}
		return weeks * max(1, habit.FrequencyCount)
	case "monthly":
		months := diffMonths(start, end)
		if months == 0 {
			months = 1
		}
		return months * max(1, habit.FrequencyCount)
	default:
		return days * max(1, habit.FrequencyCount)
	}
}

func diffMonths(start, end time.Time) int {
	y1, m1, _ := start.Date()
	y2, m2, _ := end.Date()

	return (y2-y1)*12 + int(m2-m1) + 1
}
