package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staging-backend/config"
	"staging-backend/ledger"
)

func testConfig() *config.Config {
	return &config.Config{
		SessionSecret:       "session-test-secret",
		AdminAPIToken:       "admin-test-token",
		PlanCredits:         map[string]int{"standard": 50, "agency": 300},
		CORSAllowedOrigins:  "https://app.example.com, https://admin.example.com",
		ExpirySweepSchedule: "@every 1h",
	}
}

func setupApp(t *testing.T) (*app, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	a, err := newApp(testConfig(), db)
	require.NoError(t, err)
	return a, mock
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewAppRejectsBadSettings(t *testing.T) {
	cfg := testConfig()
	cfg.CancelPolicy = "sometimes"
	_, err := newApp(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.PlanCredits = map[string]int{"gold": 10}
	_, err = newApp(cfg, nil)
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	a, mock := setupApp(t)
	r := a.router()

	mock.ExpectPing()
	w := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	mock.ExpectPing().WillReturnError(errors.New("gone"))
	w = serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := setupApp(t)
	// touch the ledger metrics so they are registered
	ledger.NewMutator(a.accounts)

	w := serve(a.router(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	a, _ := setupApp(t)
	r := a.router()

	req := httptest.NewRequest(http.MethodOptions, "/me", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/me", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w = serve(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoutesAreGuarded(t *testing.T) {
	a, _ := setupApp(t)
	r := a.router()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/me"},
		{http.MethodPost, "/staging"},
		{http.MethodPost, "/billing/checkout"},
		{http.MethodPost, "/admin/reconcile"},
		{http.MethodGet, "/admin/users/u1"},
	} {
		w := serve(r, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
	}
}

func TestBillingWithoutStripeIsUnavailable(t *testing.T) {
	a, _ := setupApp(t)
	r := a.router()
	token, _, err := a.signer.Sign("u1", "u1@example.com", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/billing/checkout", strings.NewReader(`{"planType":"standard"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, req).Code)
}
