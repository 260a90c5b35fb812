package service

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/streak"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return testNow
}

func setupHabitTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), logger.Silent)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db.DB = gdb

	return gdb, func() {
		sqlDB.Close()
	}
}

func seedUser(t *testing.T, gdb *gorm.DB, username string) db.User {
	t.Helper()
	user := db.User{Username: username, Email: username + "@example.com", Password: "hashed", Timezone: "UTC", IsActive: true}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func TestHabitServiceCreateAndList(t *testing.T) {
	gdb, cleanup := setupHabitTestDB(t)
	defer cleanup()

	user := seedUser(t, gdb, "runner")
	svc := NewHabitService(gdb, streak.New())

	habit, err := svc.Create(user.ID, HabitInput{
		Name:           "晨跑",
		Description:    "每天 5 公里",
		FrequencyUnit:  "daily",
		FrequencyCount: 1,
		TypeTag:        "健康",
		Status:         "active",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if habit.ID == 0 {
		t.Fatal("expected habit to have ID")
	}
	if habit.Status != "active" || habit.HabitType != HabitTypeBoolean {
		t.Fatalf("unexpected defaults: status=%s type=%s", habit.Status, habit.HabitType)
	}
	if habit.CurrentStreak != 0 || habit.LongestStreak != 0 || habit.TotalCompletions != 0 {
		t.Fatalf("expected zero counters, got %+v", habit)
	}
	if habit.Icon != defaultHabitIcon || habit.Color != defaultHabitColor {
		t.Fatalf("expected default icon/color, got %s %s", habit.Icon, habit.Color)
	}

	habits, err := svc.List(user.ID, HabitFilter{Status: "active"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(habits) != 1 {
		t.Fatalf("expected 1 habit, got %d", len(habits))
	}

	other := seedUser(t, gdb, "other")
	habits, err = svc.List(other.ID, HabitFilter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(habits) != 0 {
		t.Fatalf("expected other user to see no habits, got %d", len(habits))
	}

	// 不合法频率
	if _, err := svc.Create(user.ID, HabitInput{Name: "阅读", FrequencyUnit: "yearly", FrequencyCount: 1}); !errors.Is(err, ErrHabitInvalidFrequency) {
		t.Fatalf("expected invalid frequency error, got %v", err)
	}
}

func TestHabitServiceValidation(t *testing.T) {
	gdb, cleanup := setupHabitTestDB(t)
	defer cleanup()

	user := seedUser(t, gdb, "validator")
	svc := NewHabitService(gdb, nil)

	tests := []struct {
		name  string
		input HabitInput
	}{
		{name: "missing name", input: HabitInput{}},
		{name: "bad type", input: HabitInput{Name: "x", HabitType: "ratio"}},
		{name: "bad color", input: HabitInput{Name: "x", Color: "blue"}},
		{name: "bad reminder", input: HabitInput{Name: "x", ReminderTime: "25:00"}},
		{name: "negative target", input: HabitInput{Name: "x", TargetValue: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(user.ID, tt.input); !errors.Is(err, ErrInvalidHabit) {
				t.Fatalf("expected ErrInvalidHabit, got %v", err)
			}
		})
	}
}

func TestHabitServiceUpdate(t *testing.T) {
	gdb, cleanup := setupHabitTestDB(t)
	defer cleanup()

	user := seedUser(t, gdb, "meditator")
	svc := NewHabitService(gdb, nil)
	habit, err := svc.Create(user.ID, HabitInput{Name: "冥想", FrequencyUnit: "daily", FrequencyCount: 1})
	if err != nil {
		t.Fatalf("failed to create habit: %v", err)
	}

	// 模拟引擎已写入的计数，普通更新不得覆盖
	if err := gdb.Model(&db.Habit{}).Where("id = ?", habit.ID).Updates(map[string]any{
		"current_streak": 4, "longest_streak": 9, "total_completions": 12,
	}).Error; err != nil {
		t.Fatalf("failed to seed counters: %v", err)
	}

	name := "冥想训练"
	unit := "weekly"
	count := 3
	status := "inactive"
	updated, err := svc.Update(user.ID, habit.ID, HabitUpdate{
		Name:           &name,
		FrequencyUnit:  &unit,
		FrequencyCount: &count,
		Status:         &status,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if updated.Name != "冥想训练" || updated.Status != "inactive" || updated.FrequencyCount != 3 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	reloaded, err := svc.Get(user.ID, habit.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if reloaded.CurrentStreak != 4 || reloaded.LongestStreak != 9 || reloaded.TotalCompletions != 12 {
		t.Fatalf("expected counters untouched, got %d/%d/%d", reloaded.CurrentStreak, reloaded.LongestStreak, reloaded.TotalCompletions)
	}
	if reloaded.Description != "" {
		t.Fatalf("expected nil fields to keep value, got description %q", reloaded.Description)
	}
}

func TestHabitServiceOwnership(t *testing.T) {
	gdb, cleanup := setupHabitTestDB(t)
	defer cleanup()

	owner := seedUser(t, gdb, "owner")
	intruder := seedUser(t, gdb, "intruder")
	svc := NewHabitService(gdb, nil)

	habit, err := svc.Create(owner.ID, HabitInput{Name: "写日记"})
	if err != nil {
		t.Fatalf("failed to create habit: %v", err)
	}

	if _, err := svc.Get(intruder.ID, habit.ID); !errors.Is(err, ErrHabitForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Get(owner.ID, habit.ID+100); !errors.Is(err, ErrHabitNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.Delete(intruder.ID, habit.ID); !errors.Is(err, ErrHabitForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
}

func TestHabitServiceDeleteCascadesEntries(t *testing.T) {
	gdb, cleanup := setupHabitTestDB(t)
	defer cleanup()

	user := seedUser(t, gdb, "cascade")
	habits := NewHabitService(gdb, nil)
	entries := NewEntryService(gdb, nil).WithClock(fixedClock)

	habit, err := habits.Create(user.ID, HabitInput{Name: "喝水"})
	if err != nil {
		t.Fatalf("failed to create habit: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := entries.Create(user.ID, EntryInput{HabitID: habit.ID, EntryDate: testNow.AddDate(0, 0, -i), Completed: true}); err != nil {
			t.Fatalf("failed to create entry: %v", err)
		}
	}

	if err := habits.Delete(user.ID, habit.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	var remaining int64
	if err := gdb.Unscoped().Model(&db.HabitEntry{}).Where("habit_id = ?", habit.ID).Count(&remaining).Error; err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected entries to be deleted, got %d", remaining)
	}
	if _, err := habits.Get(user.ID, habit.ID); !errors.Is(err, ErrHabitNotFound) {
		t.Fatalf("expected habit to be gone, got %v", err)
	}
}

func TestHabitServiceRebuildRepairsCounters(t *testing.T) {
	gdb, cleanup := setupHabitTestDB(t)
	defer cleanup()

	user := seedUser(t, gdb, "rebuild")
	habits := NewHabitService(gdb, nil).WithClock(fixedClock)
	entries := NewEntryService(gdb, nil).WithClock(fixedClock)

	habit, err := habits.Create(user.ID, HabitInput{Name: "俯卧撑"})
	if err != nil {
		t.Fatalf("failed to create habit: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := entries.Create(user.ID, EntryInput{HabitID: habit.ID, EntryDate: testNow.AddDate(0, 0, -i), Completed: true}); err != nil {
			t.Fatalf("failed to create entry: %v", err)
		}
	}

	// 人为破坏缓存
	if err := gdb.Model(&db.Habit{}).Where("id = ?", habit.ID).Updates(map[string]any{
		"current_streak": 0, "longest_streak": 2, "total_completions": 99,
	}).Error; err != nil {
		t.Fatalf("failed to corrupt counters: %v", err)
	}

	rebuilt, err := habits.Rebuild(user.ID, habit.ID)
	if err != nil {
		t.Fatalf("Rebuild returned error: %v", err)
	}

	if rebuilt.CurrentStreak != 4 || rebuilt.LongestStreak != 4 || rebuilt.TotalCompletions != 4 {
		t.Fatalf("unexpected rebuilt counters: %d/%d/%d", rebuilt.CurrentStreak, rebuilt.LongestStreak, rebuilt.TotalCompletions)
	}
}

func TestHabitUpdateApply(t *testing.T) {
	habit := db.Habit{Name: "old", Color: "#000000", ReminderEnabled: false, CurrentStreak: 3}
	name := "  new  "
	enabled := true
	HabitUpdate{Name: &name, ReminderEnabled: &enabled}.Apply(&habit)

	if habit.Name != "new" || !habit.ReminderEnabled || habit.Color != "#000000" || habit.CurrentStreak != 3 {
		t.Fatalf("unexpected merge result: %+v", habit)
	}
}
