package db

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 定义了用户模型
// Timezone 决定“今天”的参考时钟，连续天数按用户所在时区计算
type User struct {
	gorm.Model
	Username string `gorm:"unique;not null"`
	Email    string `gorm:"uniqueIndex;size:255"`
	Password string `gorm:"not null"`
	FullName string
	Timezone string `gorm:"size:50;default:UTC"`
	Theme    string `gorm:"size:20;default:light"`
	IsActive bool   `gorm:"not null;default:true"`
	// IsSuperuser 可查看任意用户资料，启动时创建的超级账号默认拥有
	IsSuperuser bool `gorm:"not null;default:false"`
}

// EnsureUser 存在性检查：若提供的用户名与密码均非空且不存在对应账号，则创建一个 bcrypt 哈希的用户。
func EnsureUser(username, password string) error {
	trimmedUser := strings.TrimSpace(username)
	trimmedPassword := strings.TrimSpace(password)
	if trimmedUser == "" || trimmedPassword == "" {
		return nil
	}

	if DB == nil {
		return errors.New("database not initialized")
	}

	var existing User
	if err := DB.Where("username = ?", trimmedUser).First(&existing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(trimmedPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		return DB.Create(&User{
			Username:    trimmedUser,
			Email:       trimmedUser + "@localhost",
			Password:    string(hashed),
			Timezone:    "UTC",
			IsActive:    true,
			IsSuperuser: true,
		}).Error
	}

	return nil
}
