package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/service"
)

const (
	defaultHabitView  = "monthly"
	defaultEntryLimit = 50
	maxEntryPageLimit = 500
)

type habitPayload struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	HabitType       string  `json:"habit_type"`
	FrequencyUnit   string  `json:"frequency_unit"`
	FrequencyCount  int     `json:"frequency_count"`
	TargetValue     float64 `json:"target_value"`
	Unit            string  `json:"unit"`
	Icon            string  `json:"icon"`
	Color           string  `json:"color"`
	TypeTag         string  `json:"type_tag"`
	Status          string  `json:"status"`
	ReminderEnabled bool    `json:"reminder_enabled"`
	ReminderTime    string  `json:"reminder_time"`
}

type habitUpdatePayload struct {
	Name            *string  `json:"name"`
	Description     *string  `json:"description"`
	HabitType       *string  `json:"habit_type"`
	FrequencyUnit   *string  `json:"frequency_unit"`
	FrequencyCount  *int     `json:"frequency_count"`
	TargetValue     *float64 `json:"target_value"`
	Unit            *string  `json:"unit"`
	Icon            *string  `json:"icon"`
	Color           *string  `json:"color"`
	TypeTag         *string  `json:"type_tag"`
	Status          *string  `json:"status"`
	ReminderEnabled *bool    `json:"reminder_enabled"`
	ReminderTime    *string  `json:"reminder_time"`
}

// ListHabits 返回当前用户的习惯列表 JSON
func (a *API) ListHabits(c *gin.Context) {
	filter := service.HabitFilter{
		Status:     c.Query("status"),
		TypeTag:    c.Query("type_tag"),
		Search:     c.Query("search"),
		ActiveOnly: c.Query("active_only") == "true",
		Offset:     parseIntQuery(c, "offset", 0),
		Limit:      parseIntQuery(c, "limit", 0),
	}

	habits, err := a.habits.List(currentUserID(c), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取习惯列表失败")
		return
	}

	items := make([]gin.H, 0, len(habits))
	for _, habit := range habits {
		items = append(items, habitToPayload(habit))
	}

	c.JSON(http.StatusOK, gin.H{"habits": items})
}

// GetHabit 返回单个习惯详情
func (a *API) GetHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.Get(currentUserID(c), id)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// CreateHabit 创建习惯
func (a *API) CreateHabit(c *gin.Context) {
	var payload habitPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	habit, err := a.habits.Create(currentUserID(c), service.HabitInput{
		Name:            payload.Name,
		Description:     payload.Description,
		HabitType:       payload.HabitType,
		FrequencyUnit:   payload.FrequencyUnit,
		FrequencyCount:  payload.FrequencyCount,
		TargetValue:     payload.TargetValue,
		Unit:            payload.Unit,
		Icon:            payload.Icon,
		Color:           payload.Color,
		TypeTag:         payload.TypeTag,
		Status:          payload.Status,
		ReminderEnabled: payload.ReminderEnabled,
		ReminderTime:    payload.ReminderTime,
	})
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"habit": habitToPayload(*habit)})
}

// UpdateHabit 部分更新习惯，未提供的字段保持原值
func (a *API) UpdateHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	var payload habitUpdatePayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	habit, err := a.habits.Update(currentUserID(c), id, service.HabitUpdate{
		Name:            payload.Name,
		Description:     payload.Description,
		HabitType:       payload.HabitType,
		FrequencyUnit:   payload.FrequencyUnit,
		FrequencyCount:  payload.FrequencyCount,
		TargetValue:     payload.TargetValue,
		Unit:            payload.Unit,
		Icon:            payload.Icon,
		Color:           payload.Color,
		TypeTag:         payload.TypeTag,
		Status:          payload.Status,
		ReminderEnabled: payload.ReminderEnabled,
		ReminderTime:    payload.ReminderTime,
	})
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// DeleteHabit 删除习惯及其全部打卡
func (a *API) DeleteHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	if err := a.habits.Delete(currentUserID(c), id); err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// RebuildHabit 全量重算习惯的连续与完成计数
func (a *API) RebuildHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.Rebuild(currentUserID(c), id)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// ListHabitEntries 分页返回习惯的打卡；提供 start/end 时按日期区间查询
func (a *API) ListHabitEntries(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	userID := currentUserID(c)
	startRaw, endRaw := c.Query("start"), c.Query("end")

	var entries []db.HabitEntry
	if startRaw != "" || endRaw != "" {
		start, err := parseDate(startRaw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的开始日期")
			return
		}
		end, err := parseDate(endRaw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的结束日期")
			return
		}
		if _, err := a.habits.Get(userID, habitID); err != nil {
			handleHabitError(c, err)
			return
		}
		entries, err = a.entries.ListBetween(service.EntryFilter{HabitID: habitID, Start: start, End: end})
		if err != nil {
			handleEntryError(c, err)
			return
		}
	} else {
		limit := min(parseIntQuery(c, "limit", defaultEntryLimit), maxEntryPageLimit)
		entries, err = a.entries.ListByHabit(userID, habitID, parseIntQuery(c, "offset", 0), limit)
		if err != nil {
			handleEntryError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"entries": serializeEntries(entries)})
}

// GetHabitStats 返回周/月视图内的完成统计
func (a *API) GetHabitStats(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	anchor, ok := parseOptionalDate(c.Query("start"))
	if !ok {
		respondError(c, http.StatusBadRequest, "无效的开始日期")
		return
	}

	view := c.DefaultQuery("view", defaultHabitView)
	start, end := resolveRange(anchor, a.today(c), view)

	stats, err := a.analytics.StatsBetween(currentUserID(c), service.EntryFilter{HabitID: habitID, Start: start, End: end})
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": serializeHabitStats(stats),
		"range": gin.H{"start": start.Format(dateFormat), "end": end.Format(dateFormat), "view": view},
	})
}

func habitToPayload(habit db.Habit) gin.H {
	item := gin.H{
		"id":                habit.ID,
		"name":              habit.Name,
		"description":       habit.Description,
		"habit_type":        habit.HabitType,
		"frequency_unit":    habit.FrequencyUnit,
		"frequency_count":   habit.FrequencyCount,
		"target_value":      habit.TargetValue,
		"unit":              habit.Unit,
		"icon":              habit.Icon,
		"color":             habit.Color,
		"type_tag":          habit.TypeTag,
		"status":            habit.Status,
		"reminder_enabled":  habit.ReminderEnabled,
		"reminder_time":     habit.ReminderTime,
		"current_streak":    habit.CurrentStreak,
		"longest_streak":    habit.LongestStreak,
		"total_completions": habit.TotalCompletions,
		"created_at":        habit.CreatedAt.Format(time.RFC3339),
		"updated_at":        habit.UpdatedAt.Format(time.RFC3339),
	}

	// 渲染失败时只返回原始 markdown
	if rendered, err := renderMarkdown(habit.Description); err == nil {
		item["description_html"] = rendered
	}

	return item
}

func serializeHabitStats(stats *service.HabitStats) gin.H {
	return gin.H{
		"range_start":     stats.RangeStart.Format(dateFormat),
		"range_end":       stats.RangeEnd.Format(dateFormat),
		"completed_count": stats.CompletedCount,
		"target_count":    stats.TargetCount,
		"completion_rate": stats.CompletionRate,
		"current_streak":  stats.CurrentStreak,
		"longest_streak":  stats.LongestStreak,
		"range_longest":   stats.RangeLongest,
	}
}

// resolveRange 以 anchor（缺省为 today）所在的周或月作为统计区间
func resolveRange(anchor *time.Time, today time.Time, view string) (time.Time, time.Time) {
	start := today
	if anchor != nil {
		start = *anchor
	}

	switch strings.ToLower(view) {
	case "weekly":
		weekday := int(start.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = start.AddDate(0, 0, -weekday+1)
		end := start.AddDate(0, 0, 6)
		return start, end
	default:
		start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
		end := start.AddDate(0, 1, -1)
		return start, end
	}
}

func handleHabitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrHabitForbidden):
		respondError(c, http.StatusForbidden, "无权访问该习惯")
	case errors.Is(err, service.ErrHabitInvalidFrequency):
		respondError(c, http.StatusBadRequest, "频率配置无效")
	case errors.Is(err, service.ErrInvalidHabit), errors.Is(err, service.ErrInvalidEntry):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
