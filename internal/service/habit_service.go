package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/metrics"
	"github.com/habitflow/internal/streak"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrHabitNotFound 在指定习惯不存在时返回
	ErrHabitNotFound = errors.New("habit not found")
	// ErrHabitForbidden 习惯存在但属于其他用户
	ErrHabitForbidden = errors.New("habit belongs to another user")
	// ErrHabitInvalidFrequency 当频率配置异常时返回
	ErrHabitInvalidFrequency = errors.New("invalid habit frequency configuration")
	// ErrInvalidHabit 习惯字段校验失败
	ErrInvalidHabit = errors.New("invalid habit")
)

const (
	HabitTypeBoolean  = "boolean"
	HabitTypeCount    = "count"
	HabitTypeDuration = "duration"

	defaultHabitIcon  = "🎯"
	defaultHabitColor = "#3B82F6"
)

var (
	hexColorPattern     = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	reminderTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

	// 派生计数只能由 streak 引擎写入，普通更新必须排除
	habitUpdateOmits = []string{clause.Associations, "user_id", "current_streak", "longest_streak", "total_completions"}
)

// HabitService 负责 Habit 数据的增删改查
// 所有操作都以 userID 校验归属；FrequencyUnit 支持 daily/weekly/monthly，FrequencyCount>0
// Status 仅使用 active/inactive，默认 active
type HabitService struct {
	db     *gorm.DB
	engine *streak.Engine
	loc    *time.Location
	now    func() time.Time
	log    logrus.FieldLogger
}

// HabitFilter 描述列表过滤条件
type HabitFilter struct {
	Status     string
	TypeTag    string
	Search     string
	ActiveOnly bool
	Offset     int
	Limit      int
}

// HabitInput 定义创建习惯时可配置字段
type HabitInput struct {
	Name            string
	Description     string
	HabitType       string
	FrequencyUnit   string
	FrequencyCount  int
	TargetValue     float64
	Unit            string
	Icon            string
	Color           string
	TypeTag         string
	Status          string
	ReminderEnabled bool
	ReminderTime    string
}

// HabitUpdate 为部分更新请求，nil 字段保持原值
type HabitUpdate struct {
	Name            *string
	Description     *string
	HabitType       *string
	FrequencyUnit   *string
	FrequencyCount  *int
	TargetValue     *float64
	Unit            *string
	Icon            *string
	Color           *string
	TypeTag         *string
	Status          *string
	ReminderEnabled *bool
	ReminderTime    *string
}

// Apply 将非 nil 字段合并到 habit，不会触碰派生计数
func (u HabitUpdate) Apply(habit *db.Habit) {
	if u.Name != nil {
		habit.Name = strings.TrimSpace(*u.Name)
	}
	if u.Description != nil {
		habit.Description = strings.TrimSpace(*u.Description)
	}
	if u.HabitType != nil {
		habit.HabitType = normalizeHabitType(*u.HabitType)
	}
	if u.FrequencyUnit != nil {
		habit.FrequencyUnit = strings.ToLower(strings.TrimSpace(*u.FrequencyUnit))
	}
	if u.FrequencyCount != nil {
		habit.FrequencyCount = *u.FrequencyCount
	}
	if u.TargetValue != nil {
		habit.TargetValue = *u.TargetValue
	}
	if u.Unit != nil {
		habit.Unit = strings.TrimSpace(*u.Unit)
	}
	if u.Icon != nil {
		habit.Icon = strings.TrimSpace(*u.Icon)
	}
	if u.Color != nil {
		habit.Color = strings.TrimSpace(*u.Color)
	}
	if u.TypeTag != nil {
		habit.TypeTag = strings.TrimSpace(*u.TypeTag)
	}
	if u.Status != nil {
		habit.Status = normalizeStatus(*u.Status)
	}
	if u.ReminderEnabled != nil {
		habit.ReminderEnabled = *u.ReminderEnabled
	}
	if u.ReminderTime != nil {
		habit.ReminderTime = strings.TrimSpace(*u.ReminderTime)
	}
}

// NewHabitService 构造 HabitService
func NewHabitService(gdb *gorm.DB, engine *streak.Engine) *HabitService {
	if engine == nil {
		engine = streak.New()
	}
	return &HabitService{
		db:     gdb,
		engine: engine,
		loc:    time.UTC,
		now:    time.Now,
		log:    logrus.StandardLogger(),
	}
}

// WithLocation 设置用户未配置时区时使用的默认时区
func (s *HabitService) WithLocation(loc *time.Location) *HabitService {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithClock 允许在测试中固定当前时间
func (s *HabitService) WithClock(now func() time.Time) *HabitService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithLogger 替换默认的 logrus 实例
func (s *HabitService) WithLogger(log logrus.FieldLogger) *HabitService {
	if log != nil {
		s.log = log
	}
	return s
}

// List 返回用户的习惯集合，支持基本筛选
func (s *HabitService) List(userID uint, filter HabitFilter) ([]db.Habit, error) {
	var habits []db.Habit

	query := s.db.Model(&db.Habit{}).Where("user_id = ?", userID)

	if filter.ActiveOnly {
		query = query.Where("status = ?", "active")
	} else if filter.Status != "" {
		query = query.Where("status = ?", normalizeStatus(filter.Status))
	}
	if filter.TypeTag != "" {
		query = query.Where("type_tag = ?", filter.TypeTag)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := fmt.Sprintf("%%%s%%", search)
		query = query.Where("name LIKE ? OR description LIKE ?", like, like)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Order("created_at DESC").Order("id DESC").Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	return habits, nil
}

// Get 根据 ID 获取习惯，并校验归属
func (s *HabitService) Get(userID, id uint) (*db.Habit, error) {
	return findOwnedHabit(s.db, userID, id)
}

// Create 新建习惯，计数从 0 开始
func (s *HabitService) Create(userID uint, input HabitInput) (*db.Habit, error) {
	habit := db.Habit{
		UserID:          userID,
		Name:            strings.TrimSpace(input.Name),
		Description:     strings.TrimSpace(input.Description),
		HabitType:       normalizeHabitType(input.HabitType),
		FrequencyUnit:   strings.ToLower(strings.TrimSpace(input.FrequencyUnit)),
		FrequencyCount:  input.FrequencyCount,
		TargetValue:     input.TargetValue,
		Unit:            strings.TrimSpace(input.Unit),
		Icon:            strings.TrimSpace(input.Icon),
		Color:           strings.TrimSpace(input.Color),
		TypeTag:         strings.TrimSpace(input.TypeTag),
		Status:          normalizeStatus(input.Status),
		ReminderEnabled: input.ReminderEnabled,
		ReminderTime:    strings.TrimSpace(input.ReminderTime),
	}
	applyHabitDefaults(&habit)

	if err := validateHabit(habit); err != nil {
		return nil, err
	}

	if err := s.db.Create(&habit).Error; err != nil {
		return nil, fmt.Errorf("create habit: %w", err)
	}
	return &habit, nil
}

// Update 按 HabitUpdate 合并字段后保存；派生计数不参与更新
func (s *HabitService) Update(userID, id uint, update HabitUpdate) (*db.Habit, error) {
	unlock := habitMutexes.Lock(id)
	defer unlock()

	var habit *db.Habit
	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := lockOwnedHabit(tx, userID, id)
		if err != nil {
			return err
		}

		update.Apply(existing)
		if err := validateHabit(*existing); err != nil {
			return err
		}

		if err := tx.Omit(habitUpdateOmits...).Save(existing).Error; err != nil {
			return fmt.Errorf("update habit: %w", err)
		}
		habit = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return habit, nil
}

// Delete 删除习惯及其全部打卡记录
func (s *HabitService) Delete(userID, id uint) error {
	unlock := habitMutexes.Lock(id)
	defer unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		habit, err := lockOwnedHabit(tx, userID, id)
		if err != nil {
			return err
		}

		if err := tx.Unscoped().Where("habit_id = ?", habit.ID).Delete(&db.HabitEntry{}).Error; err != nil {
			return fmt.Errorf("delete habit entries: %w", err)
		}
		if err := tx.Unscoped().Delete(&db.Habit{}, habit.ID).Error; err != nil {
			return fmt.Errorf("delete habit: %w", err)
		}
		return nil
	})
}

// Rebuild 基于全部打卡记录重建派生计数，用于修复缓存不一致。
// 最长连续取历史缓存与重建结果中的较大值，保证不回退。
func (s *HabitService) Rebuild(userID, id uint) (*db.Habit, error) {
	unlock := habitMutexes.Lock(id)
	defer unlock()

	var habit *db.Habit
	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := lockOwnedHabit(tx, userID, id)
		if err != nil {
			return err
		}

		entries, err := loadStreakEntries(tx, existing.ID, 0)
		if err != nil {
			return err
		}

		asOf := streak.Today(s.now(), userLocation(tx, userID, s.loc))
		rebuilt := s.engine.FromScratch(entries, asOf)
		rebuilt.LongestStreak = max(rebuilt.LongestStreak, existing.LongestStreak)

		if err := saveCounters(tx, existing, rebuilt); err != nil {
			return err
		}
		habit = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordRecompute("rebuild")
	s.log.WithFields(logrus.Fields{
		"habit_id":          habit.ID,
		"current_streak":    habit.CurrentStreak,
		"longest_streak":    habit.LongestStreak,
		"total_completions": habit.TotalCompletions,
	}).Info("habit counters rebuilt")

	return habit, nil
}

// findOwnedHabit 区分不存在与无权访问两种情况
func findOwnedHabit(tx *gorm.DB, userID, id uint) (*db.Habit, error) {
	var habit db.Habit
	if err := tx.First(&habit, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHabitNotFound
		}
		return nil, fmt.Errorf("get habit: %w", err)
	}
	if habit.UserID != userID {
		return nil, ErrHabitForbidden
	}
	return &habit, nil
}

// lockOwnedHabit 在事务内以 FOR UPDATE 读取习惯行
func lockOwnedHabit(tx *gorm.DB, userID, id uint) (*db.Habit, error) {
	return findOwnedHabit(tx.Clauses(clause.Locking{Strength: "UPDATE"}), userID, id)
}

// loadStreakEntries 按日期倒序读取打卡；window>0 时只取最近 window 条
func loadStreakEntries(tx *gorm.DB, habitID uint, window int) ([]streak.Entry, error) {
	var rows []db.HabitEntry
	query := tx.Select("entry_date", "completed").
		Where("habit_id = ?", habitID).
		Order("entry_date DESC")
	if window > 0 {
		query = query.Limit(window)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load habit entries: %w", err)
	}

	entries := make([]streak.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toStreakEntry(row))
	}
	return entries, nil
}

// saveCounters 写回三个派生计数，使用 map 以便 0 值也能落库
func saveCounters(tx *gorm.DB, habit *db.Habit, counters streak.Counters) error {
	if err := tx.Model(&db.Habit{}).Where("id = ?", habit.ID).Updates(map[string]any{
		"current_streak":    counters.CurrentStreak,
		"longest_streak":    counters.LongestStreak,
		"total_completions": counters.TotalCompletions,
	}).Error; err != nil {
		return fmt.Errorf("save habit counters: %w", err)
	}

	habit.CurrentStreak = counters.CurrentStreak
	habit.LongestStreak = counters.LongestStreak
	habit.TotalCompletions = counters.TotalCompletions
	return nil
}

// userLocation 读取用户时区，未设置或无法解析时使用 fallback
func userLocation(tx *gorm.DB, userID uint, fallback *time.Location) *time.Location {
	var user db.User
	if err := tx.Select("id", "timezone").First(&user, userID).Error; err != nil {
		return fallback
	}
	return parseLocation(user.Timezone, fallback)
}

func parseLocation(name string, fallback *time.Location) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

func countersOf(habit *db.Habit) streak.Counters {
	return streak.Counters{
		CurrentStreak:    habit.CurrentStreak,
		LongestStreak:    habit.LongestStreak,
		TotalCompletions: habit.TotalCompletions,
	}
}

func applyHabitDefaults(habit *db.Habit) {
	if habit.HabitType == "" {
		habit.HabitType = HabitTypeBoolean
	}
	if habit.FrequencyUnit == "" {
		habit.FrequencyUnit = "daily"
	}
	if habit.FrequencyCount == 0 {
		habit.FrequencyCount = 1
	}
	if habit.TargetValue == 0 {
		habit.TargetValue = 1
	}
	if habit.Icon == "" {
		habit.Icon = defaultHabitIcon
	}
	if habit.Color == "" {
		habit.Color = defaultHabitColor
	}
}

func validateHabit(habit db.Habit) error {
	unit := strings.TrimSpace(strings.ToLower(habit.FrequencyUnit))
	if unit != "daily" && unit != "weekly" && unit != "monthly" {
		return fmt.Errorf("%w: unsupported unit %s", ErrHabitInvalidFrequency, habit.FrequencyUnit)
	}

	if habit.FrequencyCount <= 0 {
		return fmt.Errorf("%w: count must be positive", ErrHabitInvalidFrequency)
	}

	if strings.TrimSpace(habit.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidHabit)
	}
	if len(habit.Name) > 255 {
		return fmt.Errorf("%w: name is too long", ErrInvalidHabit)
	}

	switch habit.HabitType {
	case HabitTypeBoolean, HabitTypeCount, HabitTypeDuration:
	default:
		return fmt.Errorf("%w: unsupported type %s", ErrInvalidHabit, habit.HabitType)
	}

	if habit.TargetValue <= 0 {
		return fmt.Errorf("%w: target value must be positive", ErrInvalidHabit)
	}

	if habit.Color != "" && !hexColorPattern.MatchString(habit.Color) {
		return fmt.Errorf("%w: color must be in #RRGGBB format", ErrInvalidHabit)
	}

	if habit.ReminderTime != "" && !reminderTimePattern.MatchString(habit.ReminderTime) {
		return fmt.Errorf("%w: reminder time must be in HH:MM format", ErrInvalidHabit)
	}

	return nil
}

func normalizeHabitType(habitType string) string {
	return strings.TrimSpace(strings.ToLower(habitType))
}

func normalizeStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	if status != "inactive" {
		return "active"
	}
	return "inactive"
}
