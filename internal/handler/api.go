package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/service"
	"github.com/habitflow/internal/streak"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultTokenTTL = 8 * 24 * time.Hour

// Options 配置 API 的身份认证与时间相关参数
type Options struct {
	JWTSecret string
	TokenTTL  time.Duration
	Location  *time.Location
	Engine    *streak.Engine
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	users     *service.UserService
	habits    *service.HabitService
	entries   *service.EntryService
	analytics *service.AnalyticsService
	jwtSecret []byte
	tokenTTL  time.Duration
	loc       *time.Location
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewAPI constructs a handler set with shared services.
func NewAPI(db *gorm.DB, opts Options) *API {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Engine == nil {
		opts.Engine = streak.New()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &API{
		db:    db,
		users: service.NewUserService(db),
		habits: service.NewHabitService(db, opts.Engine).
			WithLocation(opts.Location).
			WithClock(opts.Now).
			WithLogger(opts.Logger),
		entries: service.NewEntryService(db, opts.Engine).
			WithLocation(opts.Location).
			WithClock(opts.Now).
			WithLogger(opts.Logger),
		analytics: service.NewAnalyticsService(db, opts.Engine),
		jwtSecret: []byte(opts.JWTSecret),
		tokenTTL:  opts.TokenTTL,
		loc:       opts.Location,
		now:       opts.Now,
		log:       opts.Logger,
	}
}

// today 返回当前用户时区下的今天（UTC 零点表示）
func (a *API) today(c *gin.Context) time.Time {
	loc := a.loc
	if user, err := a.users.Get(currentUserID(c)); err == nil {
		loc = a.users.Location(user, a.loc)
	}
	return streak.Today(a.now(), loc)
}

// Ping 健康检查，同时确认数据库可用
func (a *API) Ping(c *gin.Context) {
	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		a.log.WithError(err).Warn("database ping failed")
		respondError(c, http.StatusServiceUnavailable, "数据库不可用")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
