package service

import (
	"errors"
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/metrics"
	"github.com/habitflow/internal/streak"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrEntryNotFound 打卡记录不存在
	ErrEntryNotFound = errors.New("habit entry not found")
	// ErrEntryForbidden 打卡记录属于其他用户
	ErrEntryForbidden = errors.New("habit entry belongs to another user")
	// ErrInvalidEntry 打卡字段校验失败
	ErrInvalidEntry = errors.New("invalid habit entry")
)

const maxEntryNotesLength = 2000

var notesPolicy = bluemonday.StrictPolicy()

// EntryService 负责打卡记录的读写，每次变更都会在同一事务内重算习惯计数
type EntryService struct {
	db     *gorm.DB
	engine *streak.Engine
	loc    *time.Location
	now    func() time.Time
	log    logrus.FieldLogger
}

// EntryInput 定义创建打卡时的输入；同一习惯同一天重复提交视为更新
type EntryInput struct {
	HabitID   uint
	EntryDate time.Time
	Completed bool
	Value     *float64
	Notes     string
	Source    string
}

// EntryUpdate 为部分更新请求，nil 字段保持原值
type EntryUpdate struct {
	Completed *bool
	Value     *float64
	Notes     *string
}

// Apply 将非 nil 字段合并到打卡记录
func (u EntryUpdate) Apply(entry *db.HabitEntry) {
	if u.Completed != nil {
		entry.Completed = *u.Completed
	}
	if u.Value != nil {
		value := *u.Value
		entry.Value = &value
	}
	if u.Notes != nil {
		entry.Notes = sanitizeNotes(*u.Notes)
	}
}

// EntryFilter 指定查询区间
type EntryFilter struct {
	HabitID uint
	Start   time.Time
	End     time.Time
}

// EntryResult 携带变更后的打卡及习惯最新计数
type EntryResult struct {
	Entry   db.HabitEntry
	Habit   db.Habit
	Created bool
}

// NewEntryService 构造 EntryService
func NewEntryService(gdb *gorm.DB, engine *streak.Engine) *EntryService {
	if engine == nil {
		engine = streak.New()
	}
	return &EntryService{
		db:     gdb,
		engine: engine,
		loc:    time.UTC,
		now:    time.Now,
		log:    logrus.StandardLogger(),
	}
}

// WithLocation 设置用户未配置时区时使用的默认时区
func (s *EntryService) WithLocation(loc *time.Location) *EntryService {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithClock 允许在测试中固定当前时间
func (s *EntryService) WithClock(now func() time.Time) *EntryService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithLogger 替换默认的 logrus 实例
func (s *EntryService) WithLogger(log logrus.FieldLogger) *EntryService {
	if log != nil {
		s.log = log
	}
	return s
}

// Create 处理幂等打卡：同日已存在记录时按更新处理，否则新建
func (s *EntryService) Create(userID uint, input EntryInput) (*EntryResult, error) {
	if err := validateEntryValue(input.Value); err != nil {
		return nil, err
	}
	if input.EntryDate.IsZero() {
		return nil, fmt.Errorf("%w: entry date is required", ErrInvalidEntry)
	}

	entryDate := streak.Day(input.EntryDate)
	unlock := habitMutexes.Lock(input.HabitID)
	defer unlock()

	var result EntryResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		habit, err := lockOwnedHabit(tx, userID, input.HabitID)
		if err != nil {
			return err
		}

		var existing db.HabitEntry
		lookup := tx.Where("habit_id = ? AND entry_date = ?", habit.ID, entryDate).First(&existing)
		switch {
		case lookup.Error == nil:
			before := toStreakEntry(existing)
			existing.Completed = input.Completed
			existing.Value = input.Value
			existing.Notes = sanitizeNotes(input.Notes)
			if source := strings.TrimSpace(input.Source); source != "" {
				existing.Source = source
			}
			if err := tx.Omit("Habit").Save(&existing).Error; err != nil {
				return fmt.Errorf("update habit entry: %w", err)
			}

			counters, err := s.recompute(tx, userID, habit, func(prev streak.Counters, entries []streak.Entry, asOf time.Time) streak.Counters {
				return s.engine.OnEntryUpdated(prev, entries, before, toStreakEntry(existing), asOf)
			})
			if err != nil {
				return err
			}
			result = EntryResult{Entry: existing, Habit: *habit}
			s.logMutation("update", existing, counters)

		case errors.Is(lookup.Error, gorm.ErrRecordNotFound):
			record := db.HabitEntry{
				HabitID:   habit.ID,
				UserID:    userID,
				EntryDate: entryDate,
				Completed: input.Completed,
				Value:     input.Value,
				Notes:     sanitizeNotes(input.Notes),
				Source:    strings.TrimSpace(input.Source),
			}
			if err := tx.Omit("Habit").Create(&record).Error; err != nil {
				return fmt.Errorf("create habit entry: %w", err)
			}

			counters, err := s.recompute(tx, userID, habit, func(prev streak.Counters, entries []streak.Entry, asOf time.Time) streak.Counters {
				return s.engine.OnEntryCreated(prev, entries, toStreakEntry(record), asOf)
			})
			if err != nil {
				return err
			}
			result = EntryResult{Entry: record, Habit: *habit, Created: true}
			s.logMutation("create", record, counters)

		default:
			return fmt.Errorf("find habit entry: %w", lookup.Error)
		}
		return nil
	})

	op := "create"
	if err == nil && !result.Created {
		op = "upsert"
	}
	metrics.RecordEntryMutation(op, err)
	if err != nil {
		return nil, err
	}
	metrics.RecordRecompute(op)
	return &result, nil
}

// Get 根据 ID 获取打卡记录，并校验归属
func (s *EntryService) Get(userID, id uint) (*db.HabitEntry, error) {
	return findOwnedEntry(s.db, userID, id)
}

// Update 合并字段并重算计数
func (s *EntryService) Update(userID, id uint, update EntryUpdate) (*EntryResult, error) {
	if err := validateEntryValue(update.Value); err != nil {
		return nil, err
	}

	entry, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	unlock := habitMutexes.Lock(entry.HabitID)
	defer unlock()

	var result EntryResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 拿到锁之后重新读取，避免使用等待期间被修改的旧状态
		current, err := findOwnedEntry(tx, userID, id)
		if err != nil {
			return err
		}
		habit, err := lockOwnedHabit(tx, userID, current.HabitID)
		if err != nil {
			return err
		}

		before := toStreakEntry(*current)
		update.Apply(current)
		if err := tx.Omit("Habit").Save(current).Error; err != nil {
			return fmt.Errorf("update habit entry: %w", err)
		}

		counters, err := s.recompute(tx, userID, habit, func(prev streak.Counters, entries []streak.Entry, asOf time.Time) streak.Counters {
			return s.engine.OnEntryUpdated(prev, entries, before, toStreakEntry(*current), asOf)
		})
		if err != nil {
			return err
		}

		result = EntryResult{Entry: *current, Habit: *habit}
		s.logMutation("update", *current, counters)
		return nil
	})

	metrics.RecordEntryMutation("update", err)
	if err != nil {
		return nil, err
	}
	metrics.RecordRecompute("update")
	return &result, nil
}

// Delete 删除打卡记录并重算计数，返回删除前的记录与习惯最新计数
func (s *EntryService) Delete(userID, id uint) (*EntryResult, error) {
	entry, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	unlock := habitMutexes.Lock(entry.HabitID)
	defer unlock()

	var result EntryResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		current, err := findOwnedEntry(tx, userID, id)
		if err != nil {
			return err
		}
		habit, err := lockOwnedHabit(tx, userID, current.HabitID)
		if err != nil {
			return err
		}

		if err := tx.Unscoped().Delete(&db.HabitEntry{}, current.ID).Error; err != nil {
			return fmt.Errorf("delete habit entry: %w", err)
		}

		deleted := toStreakEntry(*current)
		counters, err := s.recompute(tx, userID, habit, func(prev streak.Counters, entries []streak.Entry, asOf time.Time) streak.Counters {
			return s.engine.OnEntryDeleted(prev, entries, deleted, asOf)
		})
		if err != nil {
			return err
		}

		result = EntryResult{Entry: *current, Habit: *habit}
		s.logMutation("delete", *current, counters)
		return nil
	})

	metrics.RecordEntryMutation("delete", err)
	if err != nil {
		return nil, err
	}
	metrics.RecordRecompute("delete")
	return &result, nil
}

// ListByHabit 按日期倒序分页返回某个习惯的打卡
func (s *EntryService) ListByHabit(userID, habitID uint, offset, limit int) ([]db.HabitEntry, error) {
	if _, err := findOwnedHabit(s.db, userID, habitID); err != nil {
		return nil, err
	}

	query := s.db.Where("habit_id = ?", habitID).Order("entry_date DESC")
	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []db.HabitEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list habit entries: %w", err)
	}
	return entries, nil
}

// ListBetween 返回指定区间内的打卡记录，按日期升序
func (s *EntryService) ListBetween(filter EntryFilter) ([]db.HabitEntry, error) {
	var entries []db.HabitEntry

	if filter.HabitID == 0 {
		return nil, fmt.Errorf("%w: habit id is required", ErrInvalidEntry)
	}

	start := streak.Day(filter.Start)
	end := streak.Day(filter.End)

	if err := s.db.Where("habit_id = ?", filter.HabitID).
		Where("entry_date BETWEEN ? AND ?", start, end).
		Order("entry_date ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list habit entries: %w", err)
	}

	return entries, nil
}

// ListByDate 返回用户在某一天的全部打卡
func (s *EntryService) ListByDate(userID uint, date time.Time) ([]db.HabitEntry, error) {
	var entries []db.HabitEntry
	if err := s.db.Where("user_id = ? AND entry_date = ?", userID, streak.Day(date)).
		Order("habit_id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list entries by date: %w", err)
	}
	return entries, nil
}

type counterHook func(prev streak.Counters, entries []streak.Entry, asOf time.Time) streak.Counters

// recompute 读取变更后的打卡集合，调用引擎钩子并在同一事务内写回计数
func (s *EntryService) recompute(tx *gorm.DB, userID uint, habit *db.Habit, hook counterHook) (streak.Counters, error) {
	entries, err := loadStreakEntries(tx, habit.ID, s.engine.Window())
	if err != nil {
		return streak.Counters{}, err
	}

	asOf := streak.Today(s.now(), userLocation(tx, userID, s.loc))
	counters := hook(countersOf(habit), entries, asOf)

	if err := saveCounters(tx, habit, counters); err != nil {
		return streak.Counters{}, err
	}
	return counters, nil
}

func (s *EntryService) logMutation(op string, entry db.HabitEntry, counters streak.Counters) {
	s.log.WithFields(logrus.Fields{
		"op":                op,
		"habit_id":          entry.HabitID,
		"entry_id":          entry.ID,
		"entry_date":        entry.EntryDate.Format(time.DateOnly),
		"completed":         entry.Completed,
		"current_streak":    counters.CurrentStreak,
		"longest_streak":    counters.LongestStreak,
		"total_completions": counters.TotalCompletions,
	}).Debug("habit entry mutated")
}

func findOwnedEntry(tx *gorm.DB, userID, id uint) (*db.HabitEntry, error) {
	var entry db.HabitEntry
	if err := tx.First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get habit entry: %w", err)
	}
	if entry.UserID != userID {
		return nil, ErrEntryForbidden
	}
	return &entry, nil
}

func toStreakEntry(entry db.HabitEntry) streak.Entry {
	return streak.Entry{Date: entry.EntryDate, Completed: entry.Completed}
}

func validateEntryValue(value *float64) error {
	if value == nil {
		return nil
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) || *value < 0 {
		return fmt.Errorf("%w: value must be a non-negative number", ErrInvalidEntry)
	}
	return nil
}

// sanitizeNotes 去除备注中的 HTML 标记并限制长度，备注按纯文本保存
func sanitizeNotes(notes string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(notesPolicy.Sanitize(notes)))
	if runes := []rune(cleaned); len(runes) > maxEntryNotesLength {
		cleaned = string(runes[:maxEntryNotesLength])
	}
	return cleaned
}
