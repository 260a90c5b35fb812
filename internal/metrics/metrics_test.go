package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRecompute(t *testing.T) {
	before := testutil.ToFloat64(streakRecomputes.WithLabelValues("create"))
	RecordRecompute("create")
	after := testutil.ToFloat64(streakRecomputes.WithLabelValues("create"))

	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestRecordEntryMutationResult(t *testing.T) {
	okBefore := testutil.ToFloat64(entryMutations.WithLabelValues("delete", "ok"))
	errBefore := testutil.ToFloat64(entryMutations.WithLabelValues("delete", "error"))

	RecordEntryMutation("delete", nil)
	RecordEntryMutation("delete", errors.New("boom"))

	if got := testutil.ToFloat64(entryMutations.WithLabelValues("delete", "ok")) - okBefore; got != 1 {
		t.Fatalf("expected one ok mutation, got %v", got)
	}
	if got := testutil.ToFloat64(entryMutations.WithLabelValues("delete", "error")) - errBefore; got != 1 {
		t.Fatalf("expected one failed mutation, got %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `habitflow_http_requests_total{method="GET",path="/ping",status="200"}`) {
		t.Fatalf("expected request counter in output, got %s", rr.Body.String())
	}
}
