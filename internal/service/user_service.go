package service

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/habitflow/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists 用户名或邮箱已被注册
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials 用户名/邮箱或密码错误
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserInactive 账号已停用
	ErrUserInactive = errors.New("user is inactive")
	// ErrUserForbidden 无权查看其他用户
	ErrUserForbidden = errors.New("user access forbidden")
	// ErrInvalidUser 注册或资料字段校验失败
	ErrInvalidUser = errors.New("invalid user")
)

const minPasswordLength = 8

// UserService 负责注册、登录校验与个人资料维护
type UserService struct {
	db *gorm.DB
}

// RegisterInput 定义注册字段
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Timezone string
	Theme    string
}

// UserUpdate 为资料部分更新请求，nil 字段保持原值
type UserUpdate struct {
	Email    *string
	FullName *string
	Timezone *string
	Theme    *string
	Password *string
}

// NewUserService 构造 UserService
func NewUserService(gdb *gorm.DB) *UserService {
	return &UserService{db: gdb}
}

// Register 创建新用户，密码以 bcrypt 哈希保存
func (s *UserService) Register(input RegisterInput) (*db.User, error) {
	user := db.User{
		Username: strings.TrimSpace(input.Username),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		FullName: strings.TrimSpace(input.FullName),
		Timezone: strings.TrimSpace(input.Timezone),
		Theme:    normalizeTheme(input.Theme),
		IsActive: true,
	}
	if user.Timezone == "" {
		user.Timezone = "UTC"
	}

	if user.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidUser)
	}
	if err := validateEmail(user.Email); err != nil {
		return nil, err
	}
	if err := validateTimezone(user.Timezone); err != nil {
		return nil, err
	}

	hashed, err := hashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user.Password = hashed

	var count int64
	if err := s.db.Model(&db.User{}).
		Where("username = ? OR email = ?", user.Username, user.Email).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	if err := s.db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// Authenticate 使用用户名或邮箱登录
func (s *UserService) Authenticate(login, password string) (*db.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user db.User
	if err := s.db.Where("username = ? OR email = ?", login, strings.ToLower(login)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return &user, nil
}

// Get 根据 ID 获取用户
func (s *UserService) Get(id uint) (*db.User, error) {
	var user db.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetVisible 返回 requester 可见的用户：本人或超级用户
func (s *UserService) GetVisible(requesterID, id uint) (*db.User, error) {
	if requesterID == id {
		return s.Get(id)
	}

	requester, err := s.Get(requesterID)
	if err != nil {
		return nil, err
	}
	if !requester.IsSuperuser {
		return nil, ErrUserForbidden
	}
	return s.Get(id)
}

// Deactivate 停用账号，已签发的令牌与会话随之失效
func (s *UserService) Deactivate(id uint) (*db.User, error) {
	user, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return user, nil
	}

	if err := s.db.Model(user).Update("is_active", false).Error; err != nil {
		return nil, fmt.Errorf("deactivate user: %w", err)
	}
	user.IsActive = false
	return user, nil
}

// Update 合并资料字段；提供新密码时重新哈希
func (s *UserService) Update(id uint, update UserUpdate) (*db.User, error) {
	user, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if update.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*update.Email))
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		var count int64
		if err := s.db.Model(&db.User{}).Where("email = ? AND id <> ?", email, id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("check email: %w", err)
		}
		if count > 0 {
			return nil, ErrUserExists
		}
		user.Email = email
	}
	if update.FullName != nil {
		user.FullName = strings.TrimSpace(*update.FullName)
	}
	if update.Timezone != nil {
		timezone := strings.TrimSpace(*update.Timezone)
		if err := validateTimezone(timezone); err != nil {
			return nil, err
		}
		user.Timezone = timezone
	}
	if update.Theme != nil {
		user.Theme = normalizeTheme(*update.Theme)
	}
	if update.Password != nil {
		hashed, err := hashPassword(*update.Password)
		if err != nil {
			return nil, err
		}
		user.Password = hashed
	}

	if err := s.db.Save(user).Error; err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// Location 返回用户所在时区，无法解析时回退到 fallback
func (s *UserService) Location(user *db.User, fallback *time.Location) *time.Location {
	if user == nil {
		return fallback
	}
	return parseLocation(user.Timezone, fallback)
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidUser, minPasswordLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrInvalidUser)
	}
	return nil
}

func validateTimezone(name string) error {
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("%w: unknown timezone %s", ErrInvalidUser, name)
	}
	return nil
}

func normalizeTheme(theme string) string {
	switch theme = strings.TrimSpace(strings.ToLower(theme)); theme {
	case "dark", "auto":
		return theme
	default:
		return "light"
	}
}
