package db

import (
	"time"

	"gorm.io/gorm"
)

// Habit 定义了习惯模型
// 频率通过 FrequencyUnit/FrequencyCount 描述，例如 unit=daily/count=1
// HabitType 区分打卡型(boolean)与计数/时长型(count/duration)，后两者使用 TargetValue/Unit
// TypeTag 用于区分习惯类别，便于统计/筛选
// CurrentStreak/LongestStreak/TotalCompletions 为打卡记录的派生缓存，只能由 streak 引擎写入
type Habit struct {
	gorm.Model
	UserID           uint   `gorm:"index;not null"`
	User             User   `gorm:"constraint:OnDelete:CASCADE"`
	Name             string `gorm:"size:255;not null"`
	Description      string
	HabitType        string  `gorm:"size:20;default:boolean"`
	FrequencyUnit    string  `gorm:"size:20;default:daily"`
	FrequencyCount   int     `gorm:"default:1"`
	TargetValue      float64 `gorm:"default:1"`
	Unit             string  `gorm:"size:50"`
	Icon             string  `gorm:"size:100"`
	Color            string  `gorm:"size:7"`
	TypeTag          string  `gorm:"size:100"`
	Status           string  `gorm:"size:20;index"`
	ReminderEnabled  bool
	ReminderTime     string `gorm:"size:5"`
	CurrentStreak    int    `gorm:"not null;default:0"`
	LongestStreak    int    `gorm:"not null;default:0"`
	TotalCompletions int    `gorm:"not null;default:0"`
}

// HabitEntry 记录习惯某一天的打卡
// Habit + EntryDate 采用唯一索引，同一天重复提交视为更新；EntryDate 统一存储为 UTC 零点
// Value 仅计数/时长型习惯使用，Source 标记打卡来源（web/api 等）
type HabitEntry struct {
	gorm.Model
	HabitID   uint      `gorm:"index;index:idx_habit_entry_unique,unique"`
	Habit     Habit     `gorm:"constraint:OnDelete:CASCADE"`
	UserID    uint      `gorm:"index"`
	EntryDate time.Time `gorm:"index:idx_habit_entry_unique,unique"`
	Completed bool      `gorm:"not null;default:false"`
	Value     *float64
	Notes     string
	Source    string `gorm:"size:50"`
}

// TableName 重写确保唯一索引作用到 habit_id + entry_date
func (HabitEntry) TableName() string {
	return "habit_entries"
}
