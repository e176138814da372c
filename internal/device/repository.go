package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PositionRepository persists the last-known position of each actuator so
// a restart does not assume every cover is at 0%.
type PositionRepository interface {
	// GetPosition returns ErrPositionNotFound if nothing is stored.
	GetPosition(ctx context.Context, deviceID string) (*Position, error)

	// SavePosition inserts or replaces the stored position.
	SavePosition(ctx context.Context, p Position) error

	// DeletePosition removes the stored position. Missing rows are not an error.
	DeletePosition(ctx context.Context, deviceID string) error

	// ListPositions returns every stored position ordered by device ID.
	ListPositions(ctx context.Context) ([]Position, error)
}

// SQLiteRepository implements PositionRepository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetPosition retrieves the stored position of a device.
func (r *SQLiteRepository) GetPosition(ctx context.Context, deviceID string) (*Position, error) {
	query := `
		SELECT device_id, estimated_position, target_position, updated_at
		FROM actuator_positions
		WHERE device_id = ?`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying position: %w", err)
	}
	return p, nil
}

// SavePosition upserts a position. UpdatedAt defaults to now.
func (r *SQLiteRepository) SavePosition(ctx context.Context, p Position) error {
	if err := ValidateID(p.DeviceID); err != nil {
		return err
	}
	if p.Estimated < 0 || p.Estimated > 100 {
		return fmt.Errorf("%w: estimated %.1f", ErrInvalidPosition, p.Estimated)
	}
	if err := ValidatePosition(p.Target); err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO actuator_positions (device_id, estimated_position, target_position, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			estimated_position = excluded.estimated_position,
			target_position = excluded.target_position,
			updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query,
		p.DeviceID,
		p.Estimated,
		p.Target,
		p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("saving position: %w", err)
	}
	return nil
}

// DeletePosition removes a stored position.
func (r *SQLiteRepository) DeletePosition(ctx context.Context, deviceID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM actuator_positions WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("deleting position: %w", err)
	}
	return nil
}

// ListPositions returns all stored positions.
func (r *SQLiteRepository) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, estimated_position, target_position, updated_at
		FROM actuator_positions
		ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		positions = append(positions, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating positions: %w", err)
	}
	return positions, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*Position, error) {
	var p Position
	var updatedAt string
	if err := row.Scan(&p.DeviceID, &p.Estimated, &p.Target, &updatedAt); err != nil {
		return nil, err
	}
	// Format is controlled by SavePosition.
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // Format is controlled
	return &p, nil
}
