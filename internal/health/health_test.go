package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/health"
)

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string                  { return s.name }
func (s stubChecker) Check(_ context.Context) error { return s.err }

func serve(t *testing.T, h *health.Handler, path string) (*httptest.ResponseRecorder, health.Response) {
	t.Helper()
	router := chi.NewRouter()
	h.RegisterRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

	var resp health.Response
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return rr, resp
}

func TestHealth_AllHealthy(t *testing.T) {
	h := health.NewHandler("test", stubChecker{name: "postgres"}, stubChecker{name: "rabbitmq"})

	rr, resp := serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, health.StatusHealthy, resp.Status)
	assert.Len(t, resp.Components, 2)
}

func TestHealth_UnhealthyComponent(t *testing.T) {
	h := health.NewHandler("test", stubChecker{name: "postgres"})
	h.Register(stubChecker{name: "rabbitmq", err: errors.New("channel closed")})

	rr, resp := serve(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, health.StatusUnhealthy, resp.Status)
	assert.Equal(t, health.StatusHealthy, resp.Components["postgres"].Status)
	assert.Equal(t, "channel closed", resp.Components["rabbitmq"].Message)
}

func TestHealth_LivenessIgnoresCheckers(t *testing.T) {
	h := health.NewHandler("test", stubChecker{name: "postgres", err: errors.New("down")})

	rr, resp := serve(t, h, "/health/live")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, health.StatusHealthy, resp.Status)
	assert.Empty(t, resp.Components)
}
