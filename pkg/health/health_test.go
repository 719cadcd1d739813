package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h HealthService) (int, Health) {
	t.Helper()
	r := gin.New()
	r.GET("/readyz", h.Readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestReadinessWithoutDependencies(t *testing.T) {
	code, body := serve(t, ProvideHealth(HealthParams{}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusHealthy, body.Status)
	require.Empty(t, body.Deps)
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	h := &health{timeout: time.Second, checks: []check{
		{name: "sqlite", ping: func(context.Context) error { return nil }},
		{name: "redis", ping: func(context.Context) error { return errors.New("connection refused") }},
	}}

	code, body := serve(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, StatusUnhealthy, body.Status)
	require.Len(t, body.Deps, 2)
	require.Equal(t, StatusHealthy, body.Deps[0].Status)
	require.Equal(t, "redis", body.Deps[1].Name)
	require.Equal(t, "connection refused", body.Deps[1].Message)
}
