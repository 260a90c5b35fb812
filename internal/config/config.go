package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultSessionSecret 仅供本地开发使用的默认密钥
const DefaultSessionSecret = "habitflow-dev-secret"

// ErrDefaultSecret 发布模式下仍在使用默认密钥
var ErrDefaultSecret = errors.New("default secret in use: set JWT_SECRET and SESSION_SECRET")

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string        `env:"LISTEN_ADDR"`
	Port              string        `env:"PORT" envDefault:"8080"`
	DatabasePath      string        `env:"DATABASE_PATH" envDefault:"habitflow.db"`
	SessionSecret     string        `env:"SESSION_SECRET" envDefault:"habitflow-dev-secret"`
	JWTSecret         string        `env:"JWT_SECRET"`
	TokenTTL          time.Duration `env:"TOKEN_TTL" envDefault:"192h"`
	GinMode           string        `env:"GIN_MODE" envDefault:"release"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string        `env:"LOG_FORMAT" envDefault:"json"`
	Timezone          string        `env:"APP_TIMEZONE" envDefault:"UTC"`
	StreakWindow      int           `env:"STREAK_WINDOW" envDefault:"0"`
	StreakTodayGrace  bool          `env:"STREAK_TODAY_GRACE" envDefault:"false"`
	SuperRootUserName string        `env:"SUPER_ROOT_USER_NAME"`
	SuperRootPassword string        `env:"SUPER_ROOT_PASSWORD"`
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Port = strings.TrimSpace(cfg.Port)
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%s", cfg.Port)
	}

	// 未单独配置时与会话共用密钥，便于本地开发
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.SessionSecret
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 8 * 24 * time.Hour
	}
	if cfg.StreakWindow < 0 {
		cfg.StreakWindow = 0
	}

	cfg.SuperRootUserName = strings.TrimSpace(cfg.SuperRootUserName)
	cfg.SuperRootPassword = strings.TrimSpace(cfg.SuperRootPassword)

	return cfg, nil
}

// UsesDefaultSecret 判断令牌或会话是否仍使用公开的默认密钥
func (c AppConfig) UsesDefaultSecret() bool {
	return c.JWTSecret == DefaultSessionSecret || c.SessionSecret == DefaultSessionSecret
}

// Validate 拒绝在 release 模式下使用默认密钥启动
func (c AppConfig) Validate() error {
	if c.GinMode == "release" && c.UsesDefaultSecret() {
		return ErrDefaultSecret
	}
	return nil
}

// Location 解析 APP_TIMEZONE，无法识别时回退到 UTC
func (c AppConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
