package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"carbridge/internal/models"
)

// ReadingsRepository persists historical data point values.
type ReadingsRepository struct {
	db *sql.DB
}

// NewReadingsRepository returns the repository.
func NewReadingsRepository(db *sql.DB) *ReadingsRepository {
	return &ReadingsRepository{db: db}
}

// Insert stores one reading.
func (r *ReadingsRepository) Insert(ctx context.Context, reading *models.Reading) error {
	const query = `
		INSERT INTO readings (datapoint_key, value, unit_system, recorded_at, fetched_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`
	value, err := json.Marshal(reading.Value)
	if err != nil {
		return err
	}
	return r.db.QueryRowContext(ctx, query,
		string(reading.Key),
		value,
		nullableString(reading.UnitSystem),
		reading.RecordedAt,
		reading.FetchedAt,
	).Scan(&reading.ID, &reading.CreatedAt)
}

// ListRecent returns the newest readings for a key, most recent first.
func (r *ReadingsRepository) ListRecent(ctx context.Context, key models.Key, limit int) ([]models.Reading, error) {
	const query = `
		SELECT id, datapoint_key, value, unit_system, recorded_at, fetched_at, created_at
		FROM readings
		WHERE datapoint_key = $1
		ORDER BY fetched_at DESC
		LIMIT $2
	`
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, query, string(key), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var (
			reading    models.Reading
			rawKey     string
			rawValue   []byte
			unitSystem sql.NullString
		)
		if err := rows.Scan(&reading.ID, &rawKey, &rawValue, &unitSystem, &reading.RecordedAt, &reading.FetchedAt, &reading.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawValue, &reading.Value); err != nil {
			return nil, err
		}
		reading.Key = models.Key(rawKey)
		reading.UnitSystem = unitSystem.String
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
