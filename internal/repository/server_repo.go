package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost optimistic-concurrency race; the caller
	// skips the item and picks it up on a later pass.
	ErrConflict = errors.New("version conflict")
	// ErrCapacityExhausted signals that no active server has a free slot.
	ErrCapacityExhausted = errors.New("no active server with spare capacity")
)

type ServerRepository struct {
	pool *pgxpool.Pool
}

func NewServerRepository(pool *pgxpool.Pool) *ServerRepository {
	return &ServerRepository{pool: pool}
}

const serverColumns = `id, name, host, port, base_path, api_secret,
	max_capacity, current_load, active, created_at, updated_at`

// Reserve atomically picks the least-loaded active server with spare
// capacity and claims one slot on it. Selection and reservation are a
// single statement so two concurrent provisions cannot both claim the last
// slot. Ties break on lowest id for determinism.
//
// The protocol hint is currently unused in placement: every gateway panel
// serves all supported protocols. It stays in the signature so protocol-
// pinned servers can be introduced without touching callers.
func (r *ServerRepository) Reserve(ctx context.Context, protocol models.Protocol) (*models.Server, error) {
	query := fmt.Sprintf(`
		UPDATE provisioner.servers SET
			current_load = current_load + 1,
			updated_at = NOW()
		WHERE id = (
			SELECT id FROM provisioner.servers
			WHERE active = TRUE AND current_load < max_capacity
			ORDER BY current_load ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, serverColumns)

	srv, err := r.scanServer(r.pool.QueryRow(ctx, query))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrCapacityExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("reserve server slot: %w", err)
	}
	return srv, nil
}

// ReleaseSlot returns one claimed slot. The guard keeps current_load from
// going negative if a release races a concurrent admin reset.
func (r *ServerRepository) ReleaseSlot(ctx context.Context, serverID string) error {
	query := `
		UPDATE provisioner.servers SET
			current_load = current_load - 1,
			updated_at = NOW()
		WHERE id = $1 AND current_load > 0
	`
	_, err := r.pool.Exec(ctx, query, serverID)
	if err != nil {
		return fmt.Errorf("release server slot: %w", err)
	}
	return nil
}

// GetByID retrieves a server record.
func (r *ServerRepository) GetByID(ctx context.Context, id string) (*models.Server, error) {
	query := fmt.Sprintf(`SELECT %s FROM provisioner.servers WHERE id = $1`, serverColumns)
	return r.scanServer(r.pool.QueryRow(ctx, query, id))
}

// ListActive retrieves all active servers, ordered by id.
func (r *ServerRepository) ListActive(ctx context.Context) ([]*models.Server, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM provisioner.servers
		WHERE active = TRUE
		ORDER BY id
	`, serverColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active servers: %w", err)
	}
	defer rows.Close()

	return r.scanServers(rows)
}

// Upsert creates or updates a server record. current_load is deliberately
// not part of the update set: that column is owned by Reserve/ReleaseSlot.
func (r *ServerRepository) Upsert(ctx context.Context, srv *models.Server) error {
	query := `
		INSERT INTO provisioner.servers (
			id, name, host, port, base_path, api_secret, max_capacity, current_load, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			base_path = EXCLUDED.base_path,
			api_secret = EXCLUDED.api_secret,
			max_capacity = EXCLUDED.max_capacity,
			active = EXCLUDED.active,
			updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query,
		srv.ID, srv.Name, srv.Host, srv.Port, srv.BasePath, srv.APISecret,
		srv.MaxCapacity, srv.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert server: %w", err)
	}
	return nil
}

func (r *ServerRepository) scanServer(row pgx.Row) (*models.Server, error) {
	srv := &models.Server{}
	err := row.Scan(
		&srv.ID, &srv.Name, &srv.Host, &srv.Port, &srv.BasePath, &srv.APISecret,
		&srv.MaxCapacity, &srv.CurrentLoad, &srv.Active, &srv.CreatedAt, &srv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan server: %w", err)
	}
	return srv, nil
}

func (r *ServerRepository) scanServers(rows pgx.Rows) ([]*models.Server, error) {
	var servers []*models.Server
	for rows.Next() {
		srv := &models.Server{}
		err := rows.Scan(
			&srv.ID, &srv.Name, &srv.Host, &srv.Port, &srv.BasePath, &srv.APISecret,
			&srv.MaxCapacity, &srv.CurrentLoad, &srv.Active, &srv.CreatedAt, &srv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan server row: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}
