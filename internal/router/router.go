package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/handler"
	"github.com/habitflow/internal/metrics"
	"github.com/sirupsen/logrus"
)

const sessionName = "habitflow_session"

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string, log logrus.FieldLogger) *gin.Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log), metrics.Middleware())

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: 7 * 24 * 60 * 60})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/ping", api.Ping)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.POST("/register", api.Register)
		authGroup.POST("/login", api.Login)
		authGroup.POST("/logout", api.Logout)

		// 需要认证的路由
		protected := v1.Group("")
		protected.Use(api.AuthRequired())
		{
			protected.GET("/users/me", api.GetCurrentUser)
			protected.PUT("/users/me", api.UpdateCurrentUser)
			protected.DELETE("/users/me", api.DeactivateCurrentUser)
			protected.GET("/users/:id", api.GetUser)

			protected.GET("/habits", api.ListHabits)
			protected.POST("/habits", api.CreateHabit)
			protected.GET("/habits/:id", api.GetHabit)
			protected.PUT("/habits/:id", api.UpdateHabit)
			protected.DELETE("/habits/:id", api.DeleteHabit)
			protected.POST("/habits/:id/rebuild", api.RebuildHabit)
			protected.GET("/habits/:id/entries", api.ListHabitEntries)
			protected.GET("/habits/:id/stats", api.GetHabitStats)

			protected.POST("/entries", api.CreateEntry)
			protected.GET("/entries/date/:date", api.ListEntriesByDate)
			protected.GET("/entries/:id", api.GetEntry)
			protected.PUT("/entries/:id", api.UpdateEntry)
			protected.DELETE("/entries/:id", api.DeleteEntry)

			protected.GET("/analytics/dashboard", api.GetDashboard)
			protected.GET("/analytics/habits", api.GetHabitAnalytics)
			protected.GET("/analytics/habits/:id/calendar", api.GetHabitCalendar)
			protected.GET("/analytics/habits/:id/progress", api.GetHabitProgress)
			protected.GET("/analytics/heatmap", api.GetHabitHeatmap)
		}
	}

	return r
}
