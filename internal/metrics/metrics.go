// Package metrics 暴露 Prometheus 指标：HTTP 请求与连续天数重算次数。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry 仅注册本服务的指标，避免默认注册表中的全局采集器
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "habitflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	streakRecomputes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitflow",
			Subsystem: "streak",
			Name:      "recomputes_total",
			Help:      "Number of streak recomputations by trigger.",
		},
		[]string{"trigger"},
	)

	entryMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "habitflow",
			Subsystem: "entries",
			Name:      "mutations_total",
			Help:      "Number of habit entry mutations by operation and result.",
		},
		[]string{"op", "result"},
	)
)

func init() {
	Registry.MustRegister(httpRequests, httpDuration, streakRecomputes, entryMutations)
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware 记录每个请求的次数与耗时，path 使用路由模板以控制基数
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordRecompute 记录一次连续天数重算，trigger 为 create/upsert/update/delete/rebuild
func RecordRecompute(trigger string) {
	streakRecomputes.WithLabelValues(trigger).Inc()
}

// RecordEntryMutation 记录一次打卡变更结果
func RecordEntryMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	entryMutations.WithLabelValues(op, result).Inc()
}
