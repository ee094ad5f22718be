package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carwash/pkg/contracts/domain"
)

// DefaultHistoryLimit caps history queries that do not pass a limit
const DefaultHistoryLimit = 50

// ActivationRepository stores one row per activation attempt
type ActivationRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewActivationRepository(db *sql.DB) *ActivationRepository {
	return &ActivationRepository{db: db, now: time.Now}
}

// Create inserts rec. A missing ID or CreatedAt is filled in and written back to rec.
func (r *ActivationRepository) Create(ctx context.Context, rec *domain.ActivationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	const q = `
		INSERT INTO activation_records
			(id, device_id, app_id, license_type, success, reason, message, remote_addr, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.DeviceID, rec.AppID, rec.LicenseType, rec.Success,
		rec.Reason, rec.Message, rec.RemoteAddr, rec.RequestID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activation record: %w", err)
	}
	return nil
}

// ListByDevice returns the newest records for deviceID first. An empty deviceID lists all devices.
func (r *ActivationRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]domain.ActivationRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	const cols = `id, device_id, app_id, license_type, success, reason, message, remote_addr, request_id, created_at`
	var (
		rows *sql.Rows
		err  error
	)
	if deviceID == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+cols+` FROM activation_records ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+cols+` FROM activation_records WHERE device_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
			deviceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query activation records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.ActivationRecord, 0)
	for rows.Next() {
		var rec domain.ActivationRecord
		if err := rows.Scan(
			&rec.ID, &rec.DeviceID, &rec.AppID, &rec.LicenseType, &rec.Success,
			&rec.Reason, &rec.Message, &rec.RemoteAddr, &rec.RequestID, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan activation record: %w", err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activation records: %w", err)
	}
	return records, nil
}

// CountByDevice returns the number of successful and failed attempts for deviceID
func (r *ActivationRepository) CountByDevice(ctx context.Context, deviceID string) (succeeded, failed int, err error) {
	const q = `
		SELECT
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
		FROM activation_records
		WHERE device_id = ?
	`
	if err := r.db.QueryRowContext(ctx, q, deviceID).Scan(&succeeded, &failed); err != nil {
		return 0, 0, fmt.Errorf("count activation records: %w", err)
	}
	return succeeded, failed, nil
}

// Ping checks the database connection
func (r *ActivationRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
