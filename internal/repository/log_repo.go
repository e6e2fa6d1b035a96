package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
)

// LogRepository persists the config lifecycle audit trail. Orphaned remote
// clients land here too, so inconsistencies stay queryable after the fact
// instead of scrolling away in service logs.
type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

const logColumns = `id, config_id, action, status, message, metadata, created_at`

// Create inserts an audit entry, assigning an id when the caller did not.
func (r *LogRepository) Create(ctx context.Context, logEntry *models.ProvisionLog) error {
	if logEntry.ID == "" {
		logEntry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO provisioner.provision_logs (id, config_id, action, status, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		logEntry.ID, logEntry.ConfigID, logEntry.Action, logEntry.Status, logEntry.Message, logEntry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert provision log: %w", err)
	}

	return nil
}

// GetByConfigID retrieves the audit trail for one config, newest first.
func (r *LogRepository) GetByConfigID(ctx context.Context, configID string, limit int) ([]*models.ProvisionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM provisioner.provision_logs
		WHERE config_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, logColumns)

	rows, err := r.pool.Query(ctx, query, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("query provision logs: %w", err)
	}
	defer rows.Close()

	return r.scanLogs(rows)
}

// ListInconsistencies retrieves the most recent orphaned-remote-client
// entries across all configs, newest first. This backs the operational
// report of remote state the ledger no longer accounts for.
func (r *LogRepository) ListInconsistencies(ctx context.Context, limit int) ([]*models.ProvisionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM provisioner.provision_logs
		WHERE action = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, logColumns)

	rows, err := r.pool.Query(ctx, query, models.ActionOrphanedRemoteClient, limit)
	if err != nil {
		return nil, fmt.Errorf("query inconsistency logs: %w", err)
	}
	defer rows.Close()

	return r.scanLogs(rows)
}

// LogAction records a lifecycle action for a config.
func (r *LogRepository) LogAction(ctx context.Context, configID, action, status, message string) error {
	logEntry := &models.ProvisionLog{
		ConfigID: configID,
		Action:   action,
		Status:   status,
		Message:  message,
	}
	return r.Create(ctx, logEntry)
}

// LogActionWithMetadata records a lifecycle action with structured context,
// such as the server and remote client ids behind a compensation failure.
func (r *LogRepository) LogActionWithMetadata(ctx context.Context, configID, action, status, message string, metadata map[string]interface{}) error {
	logEntry := &models.ProvisionLog{
		ConfigID: configID,
		Action:   action,
		Status:   status,
		Message:  message,
		Metadata: metadata,
	}
	return r.Create(ctx, logEntry)
}

func (r *LogRepository) scanLogs(rows pgx.Rows) ([]*models.ProvisionLog, error) {
	var logEntries []*models.ProvisionLog
	for rows.Next() {
		logEntry := &models.ProvisionLog{}
		err := rows.Scan(
			&logEntry.ID, &logEntry.ConfigID, &logEntry.Action, &logEntry.Status,
			&logEntry.Message, &logEntry.Metadata, &logEntry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan provision log: %w", err)
		}
		logEntries = append(logEntries, logEntry)
	}
	return logEntries, rows.Err()
}
