package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
)

type ConfigRepository struct {
	pool *pgxpool.Pool
}

func NewConfigRepository(pool *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

const configColumns = `id, owner_id, server_id, remote_client_id, protocol,
	quota_bytes, used_bytes, expires_at, status, version, created_at, updated_at`

// Create inserts a new config at version 1.
func (r *ConfigRepository) Create(ctx context.Context, cfg *models.Config) error {
	query := `
		INSERT INTO provisioner.configs (
			id, owner_id, server_id, remote_client_id, protocol,
			quota_bytes, used_bytes, expires_at, status, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
	`
	_, err := r.pool.Exec(ctx, query,
		cfg.ID, cfg.OwnerID, cfg.ServerID, cfg.RemoteClientID, cfg.Protocol,
		cfg.QuotaBytes, cfg.UsedBytes, cfg.ExpiresAt, cfg.Status,
	)
	if err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	return nil
}

// GetByID retrieves a config by ID.
func (r *ConfigRepository) GetByID(ctx context.Context, id string) (*models.Config, error) {
	query := fmt.Sprintf(`SELECT %s FROM provisioner.configs WHERE id = $1`, configColumns)
	return r.scanConfig(r.pool.QueryRow(ctx, query, id))
}

// GetByOwner retrieves all configs for an owner, newest first.
func (r *ConfigRepository) GetByOwner(ctx context.Context, ownerID string) ([]*models.Config, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM provisioner.configs
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, configColumns)

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query configs by owner: %w", err)
	}
	defer rows.Close()

	return r.scanConfigs(rows)
}

// TransitionStatus moves a config from one status to another as a
// compare-and-set on (id, version, from-status). A lost race returns
// ErrConflict: exactly one of two overlapping passes wins, the other skips.
func (r *ConfigRepository) TransitionStatus(ctx context.Context, id string, version int64, from, to models.ConfigStatus) error {
	query := `
		UPDATE provisioner.configs SET
			status = $1,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $2 AND version = $3 AND status = $4
	`
	tag, err := r.pool.Exec(ctx, query, to, id, version, from)
	if err != nil {
		return fmt.Errorf("transition config status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkPendingDeletion parks a config so reconciliation passes skip it while
// the remote delete is in flight. Already-pending configs are left alone,
// which keeps repeated delete calls idempotent.
func (r *ConfigRepository) MarkPendingDeletion(ctx context.Context, id string) error {
	query := `
		UPDATE provisioner.configs SET
			status = $1,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $2 AND status != $1
	`
	_, err := r.pool.Exec(ctx, query, models.ConfigStatusPendingDeletion, id)
	if err != nil {
		return fmt.Errorf("mark config pending deletion: %w", err)
	}
	return nil
}

// Delete removes a config row and reports whether a row was actually
// deleted, so the caller releases the server slot at most once.
func (r *ConfigRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM provisioner.configs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete config: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClearRemoteClient drops the remote reference once the panel-side client
// is confirmed gone, so cleanup retry passes stop picking the config up.
func (r *ConfigRepository) ClearRemoteClient(ctx context.Context, id string) error {
	query := `
		UPDATE provisioner.configs SET
			remote_client_id = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("clear remote client: %w", err)
	}
	return nil
}

// ListTerminalWithRemote retrieves expired/disabled configs that still
// reference a remote client, i.e. whose best-effort remote cleanup failed
// on an earlier pass and should be retried.
func (r *ConfigRepository) ListTerminalWithRemote(ctx context.Context, limit int) ([]*models.Config, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM provisioner.configs
		WHERE status IN ($1, $2) AND remote_client_id IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $3
	`, configColumns)

	rows, err := r.pool.Query(ctx, query, models.ConfigStatusExpired, models.ConfigStatusDisabled, limit)
	if err != nil {
		return nil, fmt.Errorf("query terminal configs with remote: %w", err)
	}
	defer rows.Close()

	return r.scanConfigs(rows)
}

// ListExpiring retrieves active configs whose expiry is before the given
// instant, oldest expiry first, bounded by limit.
func (r *ConfigRepository) ListExpiring(ctx context.Context, now time.Time, limit int) ([]*models.Config, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM provisioner.configs
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`, configColumns)

	rows, err := r.pool.Query(ctx, query, models.ConfigStatusActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query expiring configs: %w", err)
	}
	defer rows.Close()

	return r.scanConfigs(rows)
}

// ListOverQuota retrieves active configs that have consumed their quota,
// bounded by limit. Unlimited configs (quota NULL) never qualify.
func (r *ConfigRepository) ListOverQuota(ctx context.Context, limit int) ([]*models.Config, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM provisioner.configs
		WHERE status = $1 AND quota_bytes IS NOT NULL AND used_bytes >= quota_bytes
		ORDER BY updated_at ASC
		LIMIT $2
	`, configColumns)

	rows, err := r.pool.Query(ctx, query, models.ConfigStatusActive, limit)
	if err != nil {
		return nil, fmt.Errorf("query over-quota configs: %w", err)
	}
	defer rows.Close()

	return r.scanConfigs(rows)
}

// MergeUsage folds a usage sample from the panel into the matching config.
// GREATEST keeps the counter monotonic, so overlapping sync passes and
// stale samples can never decrease used_bytes. The version column is not
// bumped: the merge is commutative and must not trip status CAS updates.
// Reports whether a config matched the (server, remote client) pair.
func (r *ConfigRepository) MergeUsage(ctx context.Context, serverID, remoteClientID string, usedBytes int64) (bool, error) {
	query := `
		UPDATE provisioner.configs SET
			used_bytes = GREATEST(used_bytes, $1),
			updated_at = NOW()
		WHERE server_id = $2 AND remote_client_id = $3 AND status = $4
	`
	tag, err := r.pool.Exec(ctx, query, usedBytes, serverID, remoteClientID, models.ConfigStatusActive)
	if err != nil {
		return false, fmt.Errorf("merge config usage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConfigRepository) scanConfig(row pgx.Row) (*models.Config, error) {
	cfg := &models.Config{}
	err := row.Scan(
		&cfg.ID, &cfg.OwnerID, &cfg.ServerID, &cfg.RemoteClientID, &cfg.Protocol,
		&cfg.QuotaBytes, &cfg.UsedBytes, &cfg.ExpiresAt, &cfg.Status, &cfg.Version,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan config: %w", err)
	}
	return cfg, nil
}

func (r *ConfigRepository) scanConfigs(rows pgx.Rows) ([]*models.Config, error) {
	var configs []*models.Config
	for rows.Next() {
		cfg := &models.Config{}
		err := rows.Scan(
			&cfg.ID, &cfg.OwnerID, &cfg.ServerID, &cfg.RemoteClientID, &cfg.Protocol,
			&cfg.QuotaBytes, &cfg.UsedBytes, &cfg.ExpiresAt, &cfg.Status, &cfg.Version,
			&cfg.CreatedAt, &cfg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan config row: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}
