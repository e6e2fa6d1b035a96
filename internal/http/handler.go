package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/config"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/repository"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/service"
)

// AuditReader serves audit trail queries.
type AuditReader interface {
	GetByConfigID(ctx context.Context, configID string, limit int) ([]*models.ProvisionLog, error)
	ListInconsistencies(ctx context.Context, limit int) ([]*models.ProvisionLog, error)
}

type Handler struct {
	cfg         *config.Config
	provisioner *service.Provisioner
	reconciler  *service.Reconciler
	audit       AuditReader
}

func NewHandler(cfg *config.Config, provisioner *service.Provisioner, reconciler *service.Reconciler, audit AuditReader) *Handler {
	return &Handler{
		cfg:         cfg,
		provisioner: provisioner,
		reconciler:  reconciler,
		audit:       audit,
	}
}

// CreateConfig provisions a new proxy config for an owner.
func (h *Handler) CreateConfig(c *gin.Context) {
	var req models.CreateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := h.provisioner.CreateConfig(c.Request.Context(), &req)
	if err != nil {
		var cerr *service.ConsistencyError
		switch {
		case errors.Is(err, repository.ErrCapacityExhausted):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "no gateway server with spare capacity",
				"code":  "capacity_exhausted",
			})
		case errors.As(err, &cerr):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":            cerr.Error(),
				"code":             "consistency_error",
				"server_id":        cerr.ServerID,
				"remote_client_id": cerr.RemoteClientID,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	// Fetch the server record to render access URIs on the create response.
	full, srv, err := h.provisioner.GetConfig(c.Request.Context(), cfg.ID)
	if err != nil {
		full, srv = cfg, nil
	}

	c.JSON(http.StatusCreated, h.toConfigResponse(full, srv))
}

// DeleteConfig deprovisions a config. Idempotent: deleting an unknown id
// succeeds. A remote panel failure leaves the config pending deletion and
// is reported so the caller can retry.
func (h *Handler) DeleteConfig(c *gin.Context) {
	configID := c.Param("id")
	if configID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "config id required"})
		return
	}

	if err := h.provisioner.DeleteConfig(c.Request.Context(), configID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
			"code":  "deletion_pending",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetConfig returns one config with its current status, usage and access URIs.
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, srv, err := h.provisioner.GetConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.toConfigResponse(cfg, srv))
}

// GetConfigLogs returns the audit trail for one config.
func (h *Handler) GetConfigLogs(c *gin.Context) {
	logs, err := h.audit.GetByConfigID(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// GetInconsistencies returns recent orphaned-remote-client records: remote
// clients left behind on a gateway after a failed compensating delete.
func (h *Handler) GetInconsistencies(c *gin.Context) {
	entries, err := h.audit.ListInconsistencies(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inconsistencies": entries})
}

// GetOwnerConfigs returns all configs issued to one owner.
func (h *Handler) GetOwnerConfigs(c *gin.Context) {
	configs, err := h.provisioner.ListOwnerConfigs(c.Request.Context(), c.Param("owner_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]*models.ConfigResponse, 0, len(configs))
	for _, cfg := range configs {
		resp = append(resp, h.toConfigResponse(cfg, nil))
	}
	c.JSON(http.StatusOK, gin.H{"configs": resp})
}

// UpsertServer registers or updates a gateway server record.
func (h *Handler) UpsertServer(c *gin.Context) {
	var req models.UpsertServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	srv, err := h.provisioner.RegisterServer(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           srv.ID,
		"name":         srv.Name,
		"active":       srv.Active,
		"max_capacity": srv.MaxCapacity,
	})
}

// GetCapacity answers a capacity/availability query for one server.
func (h *Handler) GetCapacity(c *gin.Context) {
	capacity, err := h.provisioner.Capacity(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, capacity)
}

// GetServerHealth proxies a health check to the server's panel.
func (h *Handler) GetServerHealth(c *gin.Context) {
	serverID := c.Param("id")
	healthy, err := h.provisioner.ServerHealth(c.Request.Context(), serverID)
	if err != nil && errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}

	resp := models.ServerHealthResponse{ServerID: serverID, Healthy: healthy}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// TriggerReconcile lets an external scheduler drive a single reconciliation
// pass. The job runs synchronously with its usual deadline.
func (h *Handler) TriggerReconcile(c *gin.Context) {
	var run func(ctx context.Context) error
	switch c.Param("job") {
	case "expiry":
		run = h.reconciler.RunExpiryEnforcer
	case "quota":
		run = h.reconciler.RunQuotaEnforcer
	case "usage":
		run = h.reconciler.RunUsageSync
	case "health":
		run = h.reconciler.RunHealthSweep
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job, expected expiry|quota|usage|health"})
		return
	}

	if err := run(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (h *Handler) toConfigResponse(cfg *models.Config, srv *models.Server) *models.ConfigResponse {
	resp := &models.ConfigResponse{
		ID:         cfg.ID,
		OwnerID:    cfg.OwnerID,
		ServerID:   cfg.ServerID,
		Protocol:   string(cfg.Protocol),
		Status:     string(cfg.Status),
		QuotaBytes: cfg.QuotaBytes,
		UsedBytes:  cfg.UsedBytes,
		ExpiresAt:  cfg.ExpiresAt,
		CreatedAt:  cfg.CreatedAt,
	}
	if cfg.RemoteClientID != nil {
		resp.RemoteClientID = *cfg.RemoteClientID
	}
	if srv != nil {
		resp.AccessURIs = service.BuildAccessURIs(cfg, srv, h.cfg.Ports)
	}
	return resp
}
