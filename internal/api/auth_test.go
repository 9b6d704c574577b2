package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"carecoop/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authConfig() config.APIConfig {
	return config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "reader", Name: "dashboard", Permissions: []string{PermReadSchedule}},
				{Key: "writer", Name: "scheduler", Permissions: []string{PermReadSchedule, PermWriteSchedule}},
				{Key: "root", Name: "ops"},
			},
		},
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, authConfig())

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"health needs no key", http.MethodGet, "/healthz", "", http.StatusOK},
		{"ready needs no key", http.MethodGet, "/readyz", "", http.StatusOK},
		{"missing key", http.MethodGet, "/api/v1/bookings", "", http.StatusUnauthorized},
		{"unknown key", http.MethodGet, "/api/v1/bookings", "nope", http.StatusUnauthorized},
		{"reader can list", http.MethodGet, "/api/v1/bookings", "reader", http.StatusOK},
		{"reader can preview conflicts", http.MethodPost, "/api/v1/conflicts", "reader", http.StatusBadRequest},
		{"reader cannot write", http.MethodPost, "/api/v1/bookings", "reader", http.StatusForbidden},
		{"writer cannot resync", http.MethodPost, "/api/v1/roster/resync", "writer", http.StatusForbidden},
		{"reader can download roster", http.MethodGet, "/api/v1/export/roster?from=2024-03-04&to=2024-03-10", "reader", http.StatusOK},
		{"writer cannot save roster export", http.MethodPost, "/api/v1/roster/export", "writer", http.StatusForbidden},
		{"empty permissions allow all", http.MethodPost, "/api/v1/roster/resync", "root", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, env.ts.URL+tt.path, nil)
			require.NoError(t, err)
			if tt.key != "" {
				req.Header.Set("X-Api-Key", tt.key)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}}
	env := newTestEnv(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp := env.do(t, http.MethodGet, "/api/v1/bookings", nil)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Probes are never limited.
	resp := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit_PerClient(t *testing.T) {
	cfg := authConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	auth := NewHTTPAuth(cfg)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := auth.Wrap(next)

	call := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
		req.Header.Set("x-api-key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("reader"))
	assert.Equal(t, http.StatusTooManyRequests, call("reader"))
	assert.Equal(t, http.StatusOK, call("writer"))
}

func TestRequiredPermission(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/healthz", ""},
		{http.MethodGet, "/api/v1/slots", PermReadSchedule},
		{http.MethodGet, "/api/v1/export/roster", PermReadSchedule},
		{http.MethodPost, "/api/v1/conflicts", PermReadSchedule},
		{http.MethodPost, "/api/v1/recurrences/preview", PermReadSchedule},
		{http.MethodPost, "/api/v1/recurrences", PermWriteSchedule},
		{http.MethodDelete, "/api/v1/bookings/b1", PermWriteSchedule},
		{http.MethodPost, "/api/v1/roster/resync", PermAdminRoster},
		{http.MethodPost, "/api/v1/roster/export", PermAdminRoster},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, requiredPermission(req), tt.method+" "+tt.path)
	}
}

func TestClientKey(t *testing.T) {
	auth := NewHTTPAuth(config.APIConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", auth.clientKey(req))

	req.Header.Set("x-api-key", "k1")
	assert.Equal(t, "k1", auth.clientKey(req))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil)
	req.RemoteAddr = "garbage"
	assert.Equal(t, clientKeyUnknown, auth.clientKey(req))
}
