package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// LogRepository records provisioning actions for diagnostics.
type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Create creates a new provision log entry.
func (r *LogRepository) Create(ctx context.Context, entry *models.ProvisionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO pterodactyl.provision_logs (id, service_id, action, status, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.ServiceID, entry.Action, entry.Status, entry.Message, entry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert provision log: %w", err)
	}

	return nil
}

// GetByServiceID retrieves log entries for a service, newest first.
func (r *LogRepository) GetByServiceID(ctx context.Context, serviceID int64, limit int) ([]*models.ProvisionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, service_id, action, status, message, metadata, created_at
		FROM pterodactyl.provision_logs
		WHERE service_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query provision logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.ProvisionLog
	for rows.Next() {
		entry := &models.ProvisionLog{}
		err := rows.Scan(
			&entry.ID, &entry.ServiceID, &entry.Action, &entry.Status,
			&entry.Message, &entry.Metadata, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan provision log: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// LogAction is a helper to log an action.
func (r *LogRepository) LogAction(ctx context.Context, serviceID int64, action, status, message string) error {
	return r.Create(ctx, &models.ProvisionLog{
		ServiceID: serviceID,
		Action:    action,
		Status:    status,
		Message:   message,
	})
}
