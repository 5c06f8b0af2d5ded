package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

var ErrNotFound = errors.New("not found")

// ServiceRepository persists service records. Records are soft-deleted:
// rows stay forever, only the status changes.
type ServiceRepository struct {
	pool *pgxpool.Pool
}

func NewServiceRepository(pool *pgxpool.Pool) *ServiceRepository {
	return &ServiceRepository{pool: pool}
}

// Create inserts a new service record and fills in its id and timestamps.
func (r *ServiceRepository) Create(ctx context.Context, rec *models.ServiceRecord) error {
	query := `
		INSERT INTO pterodactyl.service_records (client_id, server_id, server_identifier, status, config)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		rec.ClientID, rec.ServerID, rec.ServerIdentifier, rec.Status, rec.Config,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert service record: %w", err)
	}

	return nil
}

// GetByID retrieves a service record by id.
func (r *ServiceRepository) GetByID(ctx context.Context, id int64) (*models.ServiceRecord, error) {
	query := `
		SELECT id, client_id, server_id, server_identifier, status, config, created_at, updated_at
		FROM pterodactyl.service_records
		WHERE id = $1
	`

	return r.scanRecord(r.pool.QueryRow(ctx, query, id))
}

// GetByClientID retrieves the records belonging to a client, newest first.
func (r *ServiceRepository) GetByClientID(ctx context.Context, clientID int64) ([]*models.ServiceRecord, error) {
	query := `
		SELECT id, client_id, server_id, server_identifier, status, config, created_at, updated_at
		FROM pterodactyl.service_records
		WHERE client_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("query service records: %w", err)
	}
	defer rows.Close()

	var records []*models.ServiceRecord
	for rows.Next() {
		rec := &models.ServiceRecord{}
		err := rows.Scan(
			&rec.ID, &rec.ClientID, &rec.ServerID, &rec.ServerIdentifier,
			&rec.Status, &rec.Config, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan service record row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Update persists a record's mutable fields and bumps updated_at.
func (r *ServiceRepository) Update(ctx context.Context, rec *models.ServiceRecord) error {
	query := `
		UPDATE pterodactyl.service_records SET
			server_id = $1,
			server_identifier = $2,
			status = $3,
			config = $4,
			updated_at = $5
		WHERE id = $6
	`

	rec.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, query,
		rec.ServerID, rec.ServerIdentifier, rec.Status, rec.Config, rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update service record: %w", err)
	}

	return nil
}

func (r *ServiceRepository) scanRecord(row pgx.Row) (*models.ServiceRecord, error) {
	rec := &models.ServiceRecord{}
	err := row.Scan(
		&rec.ID, &rec.ClientID, &rec.ServerID, &rec.ServerIdentifier,
		&rec.Status, &rec.Config, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan service record: %w", err)
	}
	return rec, nil
}
