package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/handler"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/logger"
)

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(fmt.Sprintf("file:router_%s?mode=memory&cache=shared", t.Name()), logger.Silent)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	quiet := logrus.New()
	quiet.SetLevel(logrus.PanicLevel)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	api := handler.NewAPI(gdb, handler.Options{
		JWTSecret: "router-secret",
		Logger:    quiet,
		Now:       func() time.Time { return now },
	})
	return SetupRouter(api, "session-secret", quiet)
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return payload
}

func TestPingAndRequestID(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/ping", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "3f1c2b9e-8a52-4b7e-9a4f-5a0e8f7f2c11")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Header().Get(requestIDHeader) != "3f1c2b9e-8a52-4b7e-9a4f-5a0e8f7f2c11" {
		t.Fatalf("expected incoming request id to be echoed, got %q", rr.Header().Get(requestIDHeader))
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	r := setupTestRouter(t)

	for _, path := range []string{"/api/v1/habits", "/api/v1/users/me", "/api/v1/analytics/dashboard"} {
		w := doJSON(t, r, http.MethodGet, path, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", path, w.Code)
		}
	}
}

func TestHabitTrackingFlow(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/register", "", `{"username":"flow","email":"flow@example.com","password":"password-123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected register to succeed, got %d: %s", w.Code, w.Body.String())
	}
	token := decode(t, w)["access_token"].(string)

	w = doJSON(t, r, http.MethodPost, "/api/v1/habits", token, `{"name":"喝水","frequency_unit":"daily","frequency_count":1}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected habit create to succeed, got %d: %s", w.Code, w.Body.String())
	}
	habitID := int(decode(t, w)["habit"].(map[string]any)["id"].(float64))

	for _, date := range []string{"2024-05-08", "2024-05-09", "2024-05-10"} {
		body := fmt.Sprintf(`{"habit_id":%d,"entry_date":"%s"}`, habitID, date)
		w = doJSON(t, r, http.MethodPost, "/api/v1/entries", token, body)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected entry create to succeed, got %d: %s", w.Code, w.Body.String())
		}
	}

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/habits/%d", habitID), token, "")
	habit := decode(t, w)["habit"].(map[string]any)
	if habit["current_streak"].(float64) != 3 || habit["longest_streak"].(float64) != 3 || habit["total_completions"].(float64) != 3 {
		t.Fatalf("unexpected counters: %+v", habit)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/entries/date/2024-05-09", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected entries by date, got %d", w.Code)
	}
	entries := decode(t, w)["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry on 2024-05-09, got %d", len(entries))
	}
	entryID := int(entries[0].(map[string]any)["id"].(float64))

	w = doJSON(t, r, http.MethodPut, fmt.Sprintf("/api/v1/entries/%d", entryID), token, `{"completed":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected entry update to succeed, got %d: %s", w.Code, w.Body.String())
	}
	habit = decode(t, w)["habit"].(map[string]any)
	if habit["current_streak"].(float64) != 1 || habit["total_completions"].(float64) != 2 {
		t.Fatalf("unexpected counters after miss: %+v", habit)
	}

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/habits/%d/entries?limit=2", habitID), token, "")
	if got := len(decode(t, w)["entries"].([]any)); got != 2 {
		t.Fatalf("expected 2 entries in page, got %d", got)
	}

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/habits/%d/rebuild", habitID), token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected rebuild to succeed, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/analytics/dashboard", token, "")
	dashboard := decode(t, w)
	if dashboard["today_completed"].(float64) != 1 || dashboard["total_completions"].(float64) != 2 {
		t.Fatalf("unexpected dashboard: %+v", dashboard)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/analytics/heatmap?start=2024-05-01&end=2024-05-10", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected heatmap, got %d", w.Code)
	}
	summary := decode(t, w)["summary"].(map[string]any)
	if summary["total_entries"].(float64) != 2 {
		t.Fatalf("unexpected heatmap summary: %+v", summary)
	}

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/habits/%d", habitID), token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected habit delete to succeed, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/entries/%d", entryID), token, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected entry to be removed with habit, got %d", w.Code)
	}
}

func TestDeactivateAccountRevokesAccess(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/register", "", `{"username":"zed","email":"zed@example.com","password":"password-123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected register to succeed, got %d: %s", w.Code, w.Body.String())
	}
	token := decode(t, w)["access_token"].(string)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/users/me", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected deactivate to succeed, got %d: %s", w.Code, w.Body.String())
	}

	for _, path := range []string{"/api/v1/users/me", "/api/v1/habits", "/api/v1/analytics/dashboard"} {
		if w := doJSON(t, r, http.MethodGet, path, token, ""); w.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for %s after deactivation, got %d", path, w.Code)
		}
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/auth/login", "", `{"login":"zed","password":"password-123"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected login to be rejected, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	doJSON(t, r, http.MethodGet, "/ping", "", "")

	w := doJSON(t, r, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "habitflow_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}
