package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/config"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/handler"
	"github.com/habitflow/internal/router"
	"github.com/habitflow/internal/streak"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	log := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("refusing to start with default secret")
	}
	if cfg.UsesDefaultSecret() {
		log.WithField("gin_mode", cfg.GinMode).Warn("using default development secret, tokens can be forged")
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	if err := db.EnsureUser(cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		log.WithError(err).Fatal("failed to ensure super root user")
	}

	gin.SetMode(cfg.GinMode)

	engine := streak.New(
		streak.WithWindow(cfg.StreakWindow),
		streak.WithTodayGrace(cfg.StreakTodayGrace),
	)
	api := handler.NewAPI(db.DB, handler.Options{
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.TokenTTL,
		Location:  cfg.Location(),
		Engine:    engine,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.SetupRouter(api, cfg.SessionSecret, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":          cfg.ListenAddr,
			"database":      cfg.DatabasePath,
			"timezone":      cfg.Location().String(),
			"streak_window": cfg.StreakWindow,
			"today_grace":   cfg.StreakTodayGrace,
		}).Info("habitflow server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to run server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	log.Info("habitflow server stopped")
}

func newLogger(cfg config.AppConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if strings.EqualFold(cfg.LogFormat, "text") {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		log.WithField("log_level", cfg.LogLevel).Warn("unknown log level, falling back to info")
	}
	log.SetLevel(level)

	return log
}
