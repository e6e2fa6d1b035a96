package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/config"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/gateway"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/repository"
)

// Provisioner orchestrates config creation and deletion: it reserves a
// server slot, drives the remote panel, and keeps the local ledger
// consistent, compensating the remote side when the local side fails.
type Provisioner struct {
	cfg     *config.Config
	configs ConfigStore
	servers ServerStore
	audit   AuditLog
	panels  PanelFactory
}

// NewProvisioner creates a new provisioner.
func NewProvisioner(cfg *config.Config, configs ConfigStore, servers ServerStore, audit AuditLog, panels PanelFactory) *Provisioner {
	return &Provisioner{
		cfg:     cfg,
		configs: configs,
		servers: servers,
		audit:   audit,
		panels:  panels,
	}
}

// CreateConfig provisions a new proxy credential for an owner.
//
// Order of operations: reserve a slot (atomic select+increment), create the
// remote client, persist the ledger record. Any failure after the
// reservation releases the slot again, so a failed create leaves
// current_load unchanged. If the ledger write fails after the remote create
// succeeded, a compensating remote delete is issued; if that also fails the
// orphan is audited and surfaced as a ConsistencyError.
func (p *Provisioner) CreateConfig(ctx context.Context, req *models.CreateConfigRequest) (*models.Config, error) {
	protocol, err := models.ParseProtocol(req.Protocol)
	if err != nil {
		return nil, err
	}

	configID := uuid.New().String()
	log.Printf("[Provisioner] Creating config %s for owner=%s protocol=%s", configID, req.OwnerID, protocol)

	srv, err := p.servers.Reserve(ctx, protocol)
	if err != nil {
		// ErrCapacityExhausted propagates verbatim; nothing was touched.
		return nil, err
	}

	// The panel address is derived from the config ID, so a retried create
	// after an ambiguous failure lands on the same remote client.
	spec := &gateway.ClientSpec{
		Email:      fmt.Sprintf(p.cfg.Gateway.NamingTemplate, configID),
		Type:       string(protocol),
		LimitBytes: req.QuotaBytes,
		ExpiresAt:  req.ExpiresAt,
	}

	panel := p.panels.ClientFor(srv)
	remoteID, err := panel.CreateClient(ctx, spec)
	if err != nil {
		p.releaseSlot(ctx, srv.ID)
		p.audit.LogAction(ctx, configID, "config_create_failed", "failed", err.Error())
		return nil, fmt.Errorf("create client on gateway %s: %w", srv.ID, err)
	}

	cfg := &models.Config{
		ID:             configID,
		OwnerID:        req.OwnerID,
		ServerID:       srv.ID,
		RemoteClientID: &remoteID,
		Protocol:       protocol,
		QuotaBytes:     req.QuotaBytes,
		ExpiresAt:      req.ExpiresAt,
		Status:         models.ConfigStatusActive,
		Version:        1,
	}

	if err := p.configs.Create(ctx, cfg); err != nil {
		// Compensate: the remote client exists but the ledger does not.
		if derr := panel.DeleteClient(ctx, remoteID); derr != nil {
			p.releaseSlot(ctx, srv.ID)
			p.audit.LogActionWithMetadata(ctx, configID, models.ActionOrphanedRemoteClient, "failed",
				"compensating delete failed, remote client is orphaned",
				map[string]interface{}{
					"server_id":        srv.ID,
					"remote_client_id": remoteID,
				})
			return nil, &ConsistencyError{ServerID: srv.ID, RemoteClientID: remoteID, Err: derr}
		}
		p.releaseSlot(ctx, srv.ID)
		p.audit.LogAction(ctx, configID, "config_create_failed", "failed", err.Error())
		return nil, fmt.Errorf("save config: %w", err)
	}

	p.audit.LogActionWithMetadata(ctx, configID, "config_created", string(models.ConfigStatusActive),
		"config provisioned",
		map[string]interface{}{
			"server_id":        srv.ID,
			"remote_client_id": remoteID,
			"protocol":         string(protocol),
		})

	log.Printf("[Provisioner] Config created: %s on server %s (remote %s)", configID, srv.ID, remoteID)
	return cfg, nil
}

// DeleteConfig tears a config down. The record is parked in
// pending_deletion first so reconciliation passes skip it, then the remote
// client is deleted (404 counts as success), then the ledger row goes and
// the server slot is released. Safe to invoke repeatedly: a second call on
// a missing config succeeds, and the slot is released at most once because
// only the call that actually deletes the row decrements the load.
func (p *Provisioner) DeleteConfig(ctx context.Context, configID string) error {
	cfg, err := p.configs.GetByID(ctx, configID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Status != models.ConfigStatusPendingDeletion {
		if err := p.configs.MarkPendingDeletion(ctx, configID); err != nil {
			return fmt.Errorf("mark config pending deletion: %w", err)
		}
	}

	if cfg.RemoteClientID != nil && *cfg.RemoteClientID != "" {
		srv, err := p.servers.GetByID(ctx, cfg.ServerID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load server %s: %w", cfg.ServerID, err)
		}
		if srv != nil {
			if err := p.panels.ClientFor(srv).DeleteClient(ctx, *cfg.RemoteClientID); err != nil {
				// Stays pending_deletion; a later call retries the same step.
				p.audit.LogAction(ctx, configID, "config_delete_retry", string(models.ConfigStatusPendingDeletion), err.Error())
				return fmt.Errorf("delete remote client %s: %w", *cfg.RemoteClientID, err)
			}
		} else {
			log.Printf("[Provisioner] Server %s no longer registered, skipping remote delete for config %s", cfg.ServerID, configID)
		}
	}

	deleted, err := p.configs.Delete(ctx, configID)
	if err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	if deleted {
		p.releaseSlot(ctx, cfg.ServerID)
		p.audit.LogAction(ctx, configID, "config_deleted", "deleted", "config deprovisioned")
		log.Printf("[Provisioner] Config deleted: %s", configID)
	}
	return nil
}

// GetConfig returns a config together with its server record. The server
// may be nil if it was unregistered after the config was provisioned.
func (p *Provisioner) GetConfig(ctx context.Context, configID string) (*models.Config, *models.Server, error) {
	cfg, err := p.configs.GetByID(ctx, configID)
	if err != nil {
		return nil, nil, err
	}
	srv, err := p.servers.GetByID(ctx, cfg.ServerID)
	if errors.Is(err, repository.ErrNotFound) {
		return cfg, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load server %s: %w", cfg.ServerID, err)
	}
	return cfg, srv, nil
}

// ListOwnerConfigs returns all configs issued to one owner, newest first.
func (p *Provisioner) ListOwnerConfigs(ctx context.Context, ownerID string) ([]*models.Config, error) {
	return p.configs.GetByOwner(ctx, ownerID)
}

// RegisterServer creates or updates a gateway server record on behalf of
// the platform admin layer.
func (p *Provisioner) RegisterServer(ctx context.Context, req *models.UpsertServerRequest) (*models.Server, error) {
	srv := &models.Server{
		ID:          req.ID,
		Name:        req.Name,
		Host:        req.Host,
		Port:        req.Port,
		BasePath:    req.BasePath,
		APISecret:   req.APISecret,
		MaxCapacity: req.MaxCapacity,
		Active:      true,
	}
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	if req.Active != nil {
		srv.Active = *req.Active
	}
	if err := p.servers.Upsert(ctx, srv); err != nil {
		return nil, err
	}
	return p.servers.GetByID(ctx, srv.ID)
}

// Capacity answers a capacity/availability query for one server.
func (p *Provisioner) Capacity(ctx context.Context, serverID string) (*models.CapacityResponse, error) {
	srv, err := p.servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return &models.CapacityResponse{
		ServerID:          srv.ID,
		MaxCapacity:       srv.MaxCapacity,
		CurrentLoad:       srv.CurrentLoad,
		AvailableCapacity: srv.AvailableCapacity(),
		IsFull:            srv.IsFull(),
	}, nil
}

// ServerHealth proxies a health check to one server's panel.
func (p *Provisioner) ServerHealth(ctx context.Context, serverID string) (bool, error) {
	srv, err := p.servers.GetByID(ctx, serverID)
	if err != nil {
		return false, err
	}
	return p.panels.ClientFor(srv).HealthCheck(ctx)
}

func (p *Provisioner) releaseSlot(ctx context.Context, serverID string) {
	if err := p.servers.ReleaseSlot(ctx, serverID); err != nil {
		log.Printf("[Provisioner] Warning: failed to release slot on server %s: %v", serverID, err)
	}
}
