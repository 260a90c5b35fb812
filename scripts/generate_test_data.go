package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/habitflow/internal/config"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/service"
	"github.com/habitflow/internal/streak"
	"gorm.io/gorm"
)

const (
	demoUsername = "demo"
	demoPassword = "demo12345"
	demoDays     = 60
)

type demoHabit struct {
	input service.HabitInput
	// skip 返回 true 表示第 n 天（0 为今天）未完成
	skip  func(n int) bool
	value func(n int) *float64
}

// 测试数据生成器
func main() {
	// 初始化数据库
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败:", err)
	}
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成测试数据...")

	engine := streak.New(streak.WithWindow(cfg.StreakWindow), streak.WithTodayGrace(cfg.StreakTodayGrace))
	if err := seedDemoData(db.DB, engine, time.Now()); err != nil {
		log.Fatal("生成测试数据失败:", err)
	}

	fmt.Println("测试数据生成完成！")
	fmt.Printf("用户: %s (密码: %s)\n", demoUsername, demoPassword)
	fmt.Printf("习惯: %d 个，最近 %d 天打卡\n", len(demoHabits()), demoDays)
}

func demoHabits() []demoHabit {
	return []demoHabit{
		{
			input: service.HabitInput{Name: "晨跑", Description: "每天 **3 公里**", Icon: "🏃", Color: "#10B981", TypeTag: "健康"},
			skip:  func(n int) bool { return n%9 == 8 },
		},
		{
			input: service.HabitInput{Name: "阅读", HabitType: service.HabitTypeCount, TargetValue: 30, Unit: "页", Icon: "📚", TypeTag: "学习"},
			skip:  func(n int) bool { return n%5 == 4 },
			value: func(n int) *float64 {
				pages := float64(20 + n%4*5)
				return &pages
			},
		},
		{
			input: service.HabitInput{Name: "冥想", HabitType: service.HabitTypeDuration, TargetValue: 15, Unit: "分钟", Icon: "🧘", Color: "#8B5CF6", TypeTag: "健康"},
			skip:  func(n int) bool { return n > 20 && n%3 == 0 },
			value: func(n int) *float64 {
				minutes := float64(10 + n%3*5)
				return &minutes
			},
		},
	}
}

// seedDemoData 创建演示用户与习惯，并通过 EntryService 写入打卡，保证计数由引擎维护；重复执行是幂等的
func seedDemoData(gdb *gorm.DB, engine *streak.Engine, now time.Time) error {
	users := service.NewUserService(gdb)
	user, err := users.Register(service.RegisterInput{
		Username: demoUsername,
		Email:    demoUsername + "@example.com",
		Password: demoPassword,
		FullName: "Demo User",
	})
	switch {
	case errors.Is(err, service.ErrUserExists):
		user, err = users.Authenticate(demoUsername, demoPassword)
		if err != nil {
			return fmt.Errorf("load demo user: %w", err)
		}
		fmt.Println("用户已存在，复用演示账号")
	case err != nil:
		return fmt.Errorf("create demo user: %w", err)
	}

	habits := service.NewHabitService(gdb, engine).WithClock(func() time.Time { return now })
	entries := service.NewEntryService(gdb, engine).WithClock(func() time.Time { return now })
	today := streak.Today(now, users.Location(user, time.UTC))

	for _, spec := range demoHabits() {
		habit, err := findOrCreateHabit(habits, user.ID, spec.input)
		if err != nil {
			return err
		}

		// 从最早的日期开始写入，模拟真实的打卡顺序
		for n := demoDays - 1; n >= 0; n-- {
			input := service.EntryInput{
				HabitID:   habit.ID,
				EntryDate: today.AddDate(0, 0, -n),
				Completed: !spec.skip(n),
				Source:    "seed",
			}
			if spec.value != nil {
				input.Value = spec.value(n)
			}
			if _, err := entries.Create(user.ID, input); err != nil {
				return fmt.Errorf("seed entry for %s: %w", habit.Name, err)
			}
		}

		rebuilt, err := habits.Rebuild(user.ID, habit.ID)
		if err != nil {
			return fmt.Errorf("rebuild %s: %w", habit.Name, err)
		}
		fmt.Printf("✅ %s：当前连续 %d 天，最长 %d 天，累计 %d 次\n", rebuilt.Name, rebuilt.CurrentStreak, rebuilt.LongestStreak, rebuilt.TotalCompletions)
	}

	return nil
}

func findOrCreateHabit(habits *service.HabitService, userID uint, input service.HabitInput) (*db.Habit, error) {
	existing, err := habits.List(userID, service.HabitFilter{Search: input.Name})
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	for i := range existing {
		if existing[i].Name == input.Name {
			return &existing[i], nil
		}
	}

	habit, err := habits.Create(userID, input)
	if err != nil {
		return nil, fmt.Errorf("create habit %s: %w", input.Name, err)
	}
	return habit, nil
}
