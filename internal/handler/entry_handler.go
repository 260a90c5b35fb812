package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/service"
)

type entryPayload struct {
	HabitID   uint     `json:"habit_id"`
	EntryDate string   `json:"entry_date"` // 2006-01-02，缺省为用户时区的今天
	Completed *bool    `json:"completed"`
	Value     *float64 `json:"value"`
	Notes     string   `json:"notes"`
	Source    string   `json:"source"`
}

type entryUpdatePayload struct {
	Completed *bool    `json:"completed"`
	Value     *float64 `json:"value"`
	Notes     *string  `json:"notes"`
}

// CreateEntry 创建或覆盖某天的打卡，响应携带习惯最新计数
func (a *API) CreateEntry(c *gin.Context) {
	var payload entryPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	if payload.HabitID == 0 {
		respondError(c, http.StatusBadRequest, "请选择习惯")
		return
	}

	entryDate := a.today(c)
	if payload.EntryDate != "" {
		parsed, err := parseDate(payload.EntryDate)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的打卡日期")
			return
		}
		entryDate = parsed
	}

	completed := true
	if payload.Completed != nil {
		completed = *payload.Completed
	}

	source := payload.Source
	if source == "" {
		source = "api"
	}

	result, err := a.entries.Create(currentUserID(c), service.EntryInput{
		HabitID:   payload.HabitID,
		EntryDate: entryDate,
		Completed: completed,
		Value:     payload.Value,
		Notes:     payload.Notes,
		Source:    source,
	})
	if err != nil {
		handleEntryError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, entryResultPayload(result))
}

// GetEntry 返回单条打卡
func (a *API) GetEntry(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡记录ID")
		return
	}

	entry, err := a.entries.Get(currentUserID(c), id)
	if err != nil {
		handleEntryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entry": serializeEntry(*entry)})
}

// UpdateEntry 部分更新打卡
func (a *API) UpdateEntry(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡记录ID")
		return
	}

	var payload entryUpdatePayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	result, err := a.entries.Update(currentUserID(c), id, service.EntryUpdate{
		Completed: payload.Completed,
		Value:     payload.Value,
		Notes:     payload.Notes,
	})
	if err != nil {
		handleEntryError(c, err)
		return
	}

	c.JSON(http.StatusOK, entryResultPayload(result))
}

// DeleteEntry 删除单条打卡
func (a *API) DeleteEntry(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡记录ID")
		return
	}

	result, err := a.entries.Delete(currentUserID(c), id)
	if err != nil {
		handleEntryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted":  true,
		"entry_id": result.Entry.ID,
		"habit":    habitToPayload(result.Habit),
	})
}

// ListEntriesByDate 返回当前用户某一天的全部打卡
func (a *API) ListEntriesByDate(c *gin.Context) {
	date, err := parseDate(c.Param("date"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日期")
		return
	}

	entries, err := a.entries.ListByDate(currentUserID(c), date)
	if err != nil {
		handleEntryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"date": date.Format(dateFormat), "entries": serializeEntries(entries)})
}

func entryResultPayload(result *service.EntryResult) gin.H {
	return gin.H{
		"entry":   serializeEntry(result.Entry),
		"habit":   habitToPayload(result.Habit),
		"created": result.Created,
	}
}

func serializeEntries(entries []db.HabitEntry) []gin.H {
	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, serializeEntry(entry))
	}
	return items
}

func serializeEntry(entry db.HabitEntry) gin.H {
	payload := gin.H{
		"id":         entry.ID,
		"habit_id":   entry.HabitID,
		"entry_date": entry.EntryDate.Format(dateFormat),
		"completed":  entry.Completed,
		"notes":      entry.Notes,
		"source":     entry.Source,
		"updated_at": entry.UpdatedAt.Format(time.RFC3339),
	}
	if entry.Value != nil {
		payload["value"] = *entry.Value
	}
	return payload
}

func handleEntryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEntryNotFound):
		respondError(c, http.StatusNotFound, "打卡记录不存在")
	case errors.Is(err, service.ErrEntryForbidden):
		respondError(c, http.StatusForbidden, "无权访问该打卡记录")
	case errors.Is(err, service.ErrInvalidEntry):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		handleHabitError(c, err)
	}
}
