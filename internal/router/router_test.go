package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/attendance-api/internal/handler"
	"github.com/noah-isme/attendance-api/internal/models"
	"github.com/noah-isme/attendance-api/internal/service"
	"github.com/noah-isme/attendance-api/pkg/config"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
)

// roleTokens treats the bearer token as the caller's role.
type roleTokens struct{}

func (roleTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	role := models.UserRole(token)
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return &models.JWTClaims{UserID: "user-" + token, Role: role}, nil
}

func newTestRouter(env string, authPerMinute int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	handlers := Handlers{
		Auth:        handler.NewAuthHandler(nil),
		StudentAuth: handler.NewStudentAuthHandler(nil),
		Student:     handler.NewStudentHandler(nil, nil, nil, nil, handler.UploadConfig{}),
		Class:       handler.NewClassHandler(nil),
		Attendance:  handler.NewAttendanceHandler(nil, nil),
		Metrics:     handler.NewMetricsHandler(metrics, nil, nil),
	}
	return New(Options{Env: env, APIPrefix: "/api", AuthPerMinute: authPerMinute, Tokens: roleTokens{}, Metrics: metrics}, handlers)
}

func serve(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterPublicEndpoints(t *testing.T) {
	r := newTestRouter(config.EnvDevelopment, 0)

	health := serve(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, health.Code)
	assert.NotEmpty(t, health.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ready", "", "").Code)
	metrics := serve(r, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "http_requests_total")
}

func TestRouterRequiresToken(t *testing.T) {
	r := newTestRouter(config.EnvDevelopment, 0)

	for _, path := range []string{"/api/students", "/api/classes", "/api/attendance", "/api/attendance/stats/overview", "/api/auth/me"} {
		assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, path, "", "").Code, path)
	}
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/students", "bogus", "").Code)
}

func TestRouterEnforcesPermissions(t *testing.T) {
	r := newTestRouter(config.EnvDevelopment, 0)

	cases := []struct {
		method string
		path   string
		token  string
	}{
		{http.MethodPost, "/api/students", "student"},
		{http.MethodDelete, "/api/students/abc", "student"},
		{http.MethodPost, "/api/students/import/csv", "student"},
		{http.MethodPost, "/api/classes", "student"},
		{http.MethodPost, "/api/attendance", "student"},
		{http.MethodPost, "/api/attendance/bulk", "student"},
		{http.MethodPut, "/api/attendance/abc", "student"},
		{http.MethodPost, "/api/auth/users", "teacher"},
	}
	for _, tc := range cases {
		w := serve(r, tc.method, tc.path, tc.token, "{}")
		assert.Equal(t, http.StatusForbidden, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	r := newTestRouter(config.EnvDevelopment, 0)

	w := serve(r, http.MethodGet, "/api/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestRouterRateLimitsLogin(t *testing.T) {
	r := newTestRouter(config.EnvDevelopment, 1)

	// Malformed payloads are rejected before reaching the service.
	first := serve(r, http.MethodPost, "/api/auth/login", "", "{")
	assert.Equal(t, http.StatusBadRequest, first.Code)
	second := serve(r, http.MethodPost, "/api/student-auth/login", "", "{")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRouterHidesDocsInProduction(t *testing.T) {
	r := newTestRouter(config.EnvProduction, 0)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/docs/index.html", "", "").Code)
}
