package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/config"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
)

const testInternalSecret = "test-internal-secret-0123456789ab"

type fakeAuditReader struct {
	logs            map[string][]*models.ProvisionLog
	inconsistencies []*models.ProvisionLog
	err             error
}

func (f *fakeAuditReader) GetByConfigID(ctx context.Context, configID string, limit int) ([]*models.ProvisionLog, error) {
	return f.logs[configID], f.err
}

func (f *fakeAuditReader) ListInconsistencies(ctx context.Context, limit int) ([]*models.ProvisionLog, error) {
	return f.inconsistencies, f.err
}

func newTestServer(audit AuditReader, createRateLimit int) *Server {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Mode:             gin.TestMode,
			CreateRateLimit:  createRateLimit,
			CreateRateWindow: time.Minute,
		},
		InternalSecret: testInternalSecret,
	}
	return NewServer(cfg, NewHandler(cfg, nil, nil, audit))
}

func internalRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Internal-Secret", testInternalSecret)
	return req
}

func TestGetConfigLogsEndpoint(t *testing.T) {
	audit := &fakeAuditReader{logs: map[string][]*models.ProvisionLog{
		"cfg-1": {
			{ID: "log-1", ConfigID: "cfg-1", Action: "config_created", Status: "active"},
		},
	}}
	s := newTestServer(audit, 30)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, internalRequest(http.MethodGet, "/api/internal/configs/cfg-1/logs"))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Logs []map[string]interface{} `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Logs, 1)
	assert.Equal(t, "config_created", body.Logs[0]["Action"])
}

func TestGetInconsistenciesEndpoint(t *testing.T) {
	audit := &fakeAuditReader{inconsistencies: []*models.ProvisionLog{
		{
			ID:       "log-1",
			ConfigID: "cfg-1",
			Action:   models.ActionOrphanedRemoteClient,
			Status:   "failed",
			Metadata: map[string]interface{}{
				"server_id":        "srv-a",
				"remote_client_id": "remote-1",
			},
		},
	}}
	s := newTestServer(audit, 30)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, internalRequest(http.MethodGet, "/api/internal/inconsistencies"))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Inconsistencies []map[string]interface{} `json:"inconsistencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Inconsistencies, 1)
	assert.Equal(t, models.ActionOrphanedRemoteClient, body.Inconsistencies[0]["Action"])
}

func TestInternalAPIRejectsMissingSecret(t *testing.T) {
	s := newTestServer(&fakeAuditReader{}, 30)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/internal/inconsistencies", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateConfigRateLimitComesFromConfig(t *testing.T) {
	s := newTestServer(&fakeAuditReader{}, 1)

	// An empty body fails binding, which is enough to show the request got
	// past the limiter.
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, internalRequest(http.MethodPost, "/api/internal/configs"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, internalRequest(http.MethodPost, "/api/internal/configs"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
