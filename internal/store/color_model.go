package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/airdrums/internal/marker"
)

// ColorModelRepository persists learned color models, one per marker.
type ColorModelRepository struct {
	db *sql.DB
}

// ColorModels returns the color model repository for this store.
func (s *Store) ColorModels() *ColorModelRepository {
	return &ColorModelRepository{db: s.db}
}

// Save upserts every model of the set in one transaction.
func (r *ColorModelRepository) Save(set marker.Set) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for id, m := range set {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model %s: %w", id, err)
		}
		_, err := tx.Exec(
			`INSERT INTO color_models (marker, hue, saturation, value, tolerance, radius, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(marker) DO UPDATE SET
			   hue = excluded.hue, saturation = excluded.saturation, value = excluded.value,
			   tolerance = excluded.tolerance, radius = excluded.radius, updated_at = excluded.updated_at`,
			string(id), m.Center.H, m.Center.S, m.Center.V, m.Tolerance, m.Radius, now,
		)
		if err != nil {
			return fmt.Errorf("save model %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// Get retrieves the model of one marker.
func (r *ColorModelRepository) Get(id marker.ID) (marker.ColorModel, error) {
	var m marker.ColorModel
	err := r.db.QueryRow(
		`SELECT hue, saturation, value, tolerance, radius FROM color_models WHERE marker = ?`,
		string(id),
	).Scan(&m.Center.H, &m.Center.S, &m.Center.V, &m.Tolerance, &m.Radius)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return marker.ColorModel{}, ErrNotFound
		}
		return marker.ColorModel{}, err
	}
	return m, nil
}

// Load returns every saved model. Rows for unknown markers are skipped.
func (r *ColorModelRepository) Load() (marker.Set, error) {
	rows, err := r.db.Query(`SELECT marker, hue, saturation, value, tolerance, radius FROM color_models`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(marker.Set)
	for rows.Next() {
		var name string
		var m marker.ColorModel
		if err := rows.Scan(&name, &m.Center.H, &m.Center.S, &m.Center.V, &m.Tolerance, &m.Radius); err != nil {
			return nil, err
		}
		id, err := marker.ParseID(name)
		if err != nil {
			continue
		}
		set[id] = m
	}
	return set, rows.Err()
}

// Delete removes the model of one marker.
func (r *ColorModelRepository) Delete(id marker.ID) error {
	result, err := r.db.Exec(`DELETE FROM color_models WHERE marker = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
