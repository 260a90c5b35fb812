package handler

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/service"
)

const (
	defaultAnalyticsDays = 30
	heatmapDays          = 365
)

type heatmapHabit struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"habit_type"`
	Color string `json:"color"`
}

type heatmapDay struct {
	Date   string         `json:"date"`
	Habits []heatmapHabit `json:"habits"`
}

type heatmapRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type heatmapSummary struct {
	TotalEntries int `json:"total_entries"`
	ActiveDays   int `json:"active_days"`
	HabitCount   int `json:"habit_count"`
}

type habitHeatmapPayload struct {
	Range       heatmapRange   `json:"range"`
	Days        []heatmapDay   `json:"days"`
	Habits      []heatmapHabit `json:"habits"`
	Summary     heatmapSummary `json:"summary"`
	GeneratedAt string         `json:"generated_at"`
}

// GetDashboard 返回今天的打卡概况
func (a *API) GetDashboard(c *gin.Context) {
	today := a.today(c)
	stats, err := a.analytics.Dashboard(currentUserID(c), today)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取概况失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":              today.Format(dateFormat),
		"total_habits":      stats.TotalHabits,
		"active_habits":     stats.ActiveHabits,
		"today_completed":   stats.TodayCompleted,
		"today_total":       stats.TodayTotal,
		"current_streak":    stats.CurrentStreak,
		"total_completions": stats.TotalCompletions,
	})
}

// GetHabitAnalytics 返回每个习惯最近 days 天的完成率
func (a *API) GetHabitAnalytics(c *gin.Context) {
	days := parseIntQuery(c, "days", defaultAnalyticsDays)
	if days == 0 {
		days = defaultAnalyticsDays
	}

	items, err := a.analytics.HabitAnalytics(currentUserID(c), days, a.today(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取习惯统计失败")
		return
	}

	payload := make([]gin.H, 0, len(items))
	for _, item := range items {
		entry := gin.H{
			"habit_id":        item.HabitID,
			"habit_name":      item.HabitName,
			"total_days":      item.TotalDays,
			"completed_days":  item.CompletedDays,
			"completion_rate": item.CompletionRate,
			"current_streak":  item.CurrentStreak,
			"longest_streak":  item.LongestStreak,
		}
		if item.AverageValue != nil {
			entry["average_value"] = *item.AverageValue
		}
		payload = append(payload, entry)
	}

	c.JSON(http.StatusOK, gin.H{"days": days, "habits": payload})
}

// GetHabitCalendar 返回某个习惯全年的打卡日历
func (a *API) GetHabitCalendar(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	year := a.today(c).Year()
	if raw := strings.TrimSpace(c.Query("year")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1970 || parsed > 9999 {
			respondError(c, http.StatusBadRequest, "无效的年份")
			return
		}
		year = parsed
	}

	calendar, err := a.analytics.Calendar(currentUserID(c), habitID, year)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	days := make(gin.H, len(calendar.Days))
	for date, day := range calendar.Days {
		item := gin.H{"completed": day.Completed, "notes": day.Notes}
		if day.Value != nil {
			item["value"] = *day.Value
		}
		days[date] = item
	}

	c.JSON(http.StatusOK, gin.H{
		"habit": habitToPayload(calendar.Habit),
		"year":  calendar.Year,
		"days":  days,
	})
}

// GetHabitProgress 返回最近 days 天的进度曲线
func (a *API) GetHabitProgress(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	days := parseIntQuery(c, "days", defaultAnalyticsDays)
	progress, err := a.analytics.Progress(currentUserID(c), habitID, days, a.today(c))
	if err != nil {
		handleHabitError(c, err)
		return
	}

	points := make([]gin.H, 0, len(progress.Points))
	for _, point := range progress.Points {
		item := gin.H{
			"date":      point.Date.Format(dateFormat),
			"completed": point.Completed,
			"target":    point.Target,
		}
		if point.Value != nil {
			item["value"] = *point.Value
		}
		points = append(points, item)
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(progress.Habit), "progress": points})
}

// GetHabitHeatmap 返回区间内（默认过去一年）所有习惯的打卡热力图
func (a *API) GetHabitHeatmap(c *gin.Context) {
	end := a.today(c)
	start := end.AddDate(0, 0, -(heatmapDays - 1))

	if raw := c.Query("start"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的开始日期")
			return
		}
		start = parsed
	}
	if raw := c.Query("end"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的结束日期")
			return
		}
		end = parsed
	}
	if end.Before(start) {
		respondError(c, http.StatusBadRequest, "结束日期早于开始日期")
		return
	}

	entries, err := a.analytics.Heatmap(currentUserID(c), start, end)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取热力图数据失败")
		return
	}

	payload := buildHabitHeatmapPayload(entries, start, end, a.now())
	c.JSON(http.StatusOK, payload)
}

func buildHabitHeatmapPayload(entries []service.HabitHeatmapEntry, start, end, generatedAt time.Time) habitHeatmapPayload {
	dayMap := make(map[string][]heatmapHabit)
	legendMap := make(map[uint]heatmapHabit)

	for _, entry := range entries {
		habit := heatmapHabit{ID: entry.HabitID, Name: entry.HabitName, Type: entry.HabitType, Color: entry.Color}
		key := entry.EntryDate.Format(dateFormat)
		dayMap[key] = append(dayMap[key], habit)
		if _, exists := legendMap[habit.ID]; !exists {
			legendMap[habit.ID] = habit
		}
	}

	days := make([]heatmapDay, 0, len(dayMap))
	for date, habits := range dayMap {
		slices.SortFunc(habits, func(a, b heatmapHabit) int {
			return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		})
		days = append(days, heatmapDay{Date: date, Habits: habits})
	}

	slices.SortFunc(days, func(a, b heatmapDay) int {
		return cmp.Compare(a.Date, b.Date)
	})

	legend := make([]heatmapHabit, 0, len(legendMap))
	for _, item := range legendMap {
		legend = append(legend, item)
	}

	slices.SortFunc(legend, func(a, b heatmapHabit) int {
		if diff := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); diff != 0 {
			return diff
		}
		return cmp.Compare(a.ID, b.ID)
	})

	payload := habitHeatmapPayload{
		Range: heatmapRange{
			Start: start.Format(dateFormat),
			End:   end.Format(dateFormat),
		},
		Days:    days,
		Habits:  legend,
		Summary: heatmapSummary{TotalEntries: len(entries), ActiveDays: len(dayMap), HabitCount: len(legend)},
	}

	if !generatedAt.IsZero() {
		payload.GeneratedAt = generatedAt.Format(time.RFC3339)
	}

	return payload
}
