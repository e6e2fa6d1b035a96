package service

import (
	"context"
	"time"

	"github.com/wenwu/saas-platform/proxy-provisioner/internal/gateway"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
)

// ServerStore is the ledger view of gateway servers. Reserve and
// ReleaseSlot are the only writers of current_load.
type ServerStore interface {
	Reserve(ctx context.Context, protocol models.Protocol) (*models.Server, error)
	ReleaseSlot(ctx context.Context, serverID string) error
	GetByID(ctx context.Context, id string) (*models.Server, error)
	ListActive(ctx context.Context) ([]*models.Server, error)
	Upsert(ctx context.Context, srv *models.Server) error
}

// ConfigStore is the ledger view of provisioned configs.
type ConfigStore interface {
	Create(ctx context.Context, cfg *models.Config) error
	GetByID(ctx context.Context, id string) (*models.Config, error)
	GetByOwner(ctx context.Context, ownerID string) ([]*models.Config, error)
	TransitionStatus(ctx context.Context, id string, version int64, from, to models.ConfigStatus) error
	MarkPendingDeletion(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (bool, error)
	ClearRemoteClient(ctx context.Context, id string) error
	ListExpiring(ctx context.Context, now time.Time, limit int) ([]*models.Config, error)
	ListOverQuota(ctx context.Context, limit int) ([]*models.Config, error)
	ListTerminalWithRemote(ctx context.Context, limit int) ([]*models.Config, error)
	MergeUsage(ctx context.Context, serverID, remoteClientID string, usedBytes int64) (bool, error)
}

// AuditLog records config lifecycle actions, including the reportable
// inconsistencies that must never be silently dropped.
type AuditLog interface {
	LogAction(ctx context.Context, configID, action, status, message string) error
	LogActionWithMetadata(ctx context.Context, configID, action, status, message string, metadata map[string]interface{}) error
}

// PanelClient is one gateway server's management panel.
type PanelClient interface {
	CreateClient(ctx context.Context, spec *gateway.ClientSpec) (string, error)
	DeleteClient(ctx context.Context, remoteID string) error
	UpdateLimit(ctx context.Context, remoteID string, limitBytes *int64) error
	UpdateExpiry(ctx context.Context, remoteID string, expiresAt *time.Time) error
	GetUsage(ctx context.Context, remoteID string) (int64, error)
	GetAllUsage(ctx context.Context) (map[string]int64, error)
	HealthCheck(ctx context.Context) (bool, error)
}

// PanelFactory yields a panel client for a server record.
type PanelFactory interface {
	ClientFor(srv *models.Server) PanelClient
}
