package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func checker(ctrl *gomock.Controller, name string, err error) *mocks.MockHealthChecker {
	m := mocks.NewMockHealthChecker(ctrl)
	m.EXPECT().Name().Return(name).AnyTimes()
	m.EXPECT().Ping(gomock.Any()).Return(err).AnyTimes()
	return m
}

func TestHealthCheck_NoDependencies(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck()(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthCheck_Degraded(t *testing.T) {
	ctrl := gomock.NewController(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(
		checker(ctrl, "postgresql", nil),
		checker(ctrl, "redis", errors.New("connection refused")),
	)(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp struct {
		Status       string `json:"status"`
		Dependencies map[string]struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "healthy", resp.Dependencies["postgresql"].Status)
	assert.Equal(t, "unhealthy", resp.Dependencies["redis"].Status)
	assert.Equal(t, "connection refused", resp.Dependencies["redis"].Error)
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	r := SetupRouter(RouterDeps{Gatherer: reg, Mode: gin.TestMode, Logger: zerolog.Nop()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ledger_test_total 1")
}

func TestRouter_MetricsDisabled(t *testing.T) {
	r := SetupRouter(RouterDeps{Mode: gin.TestMode, Logger: zerolog.Nop()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ORD_002", resp["error_code"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_ReconciliationSweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	recon := mocks.NewMockReconciliationService(ctrl)
	recon.EXPECT().Sweep(gomock.Any()).Return(&ports.SweepResult{Checked: 3, Resolved: 2, Escalated: 1}, nil)

	r := SetupRouter(RouterDeps{Reconciliation: recon, Mode: gin.TestMode, Logger: zerolog.Nop()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ops/reconciliation/sweep", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data sweepResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, sweepResponse{Checked: 3, Resolved: 2, Escalated: 1}, resp.Data)
}

func TestRouter_ReconciliationSweepFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	recon := mocks.NewMockReconciliationService(ctrl)
	recon.EXPECT().Sweep(gomock.Any()).Return(nil, errors.New("db down"))

	r := SetupRouter(RouterDeps{Reconciliation: recon, Mode: gin.TestMode, Logger: zerolog.Nop()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ops/reconciliation/sweep", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}
