package store

import (
	"database/sql"
	"time"

	"github.com/ayusman/airdrums/internal/marker"
	"github.com/ayusman/airdrums/internal/strike"
)

// Hit is a stored hit event.
type Hit struct {
	ID        int64
	SessionID string
	strike.HitEvent
}

// HitRepository stores the hit log.
type HitRepository struct {
	db *sql.DB
}

// Hits returns the hit repository for this store.
func (s *Store) Hits() *HitRepository {
	return &HitRepository{db: s.db}
}

// Record appends hits of a session in one transaction.
func (r *HitRepository) Record(sessionID string, hits ...strike.HitEvent) error {
	if len(hits) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO hits (session_id, marker, zone, instrument, intensity, peak_speed, ts_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, h := range hits {
		if _, err := stmt.Exec(
			sessionID, string(h.Marker), h.Zone, h.Instrument, h.Intensity, h.PeakSpeed, h.Timestamp.UnixNano(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListBySession returns the hits of a session in time order.
func (r *HitRepository) ListBySession(sessionID string) ([]*Hit, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, marker, zone, instrument, intensity, peak_speed, ts_ns
		 FROM hits WHERE session_id = ? ORDER BY ts_ns, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*Hit
	for rows.Next() {
		h := &Hit{}
		var id string
		var ts int64
		if err := rows.Scan(&h.ID, &h.SessionID, &id, &h.Zone, &h.Instrument, &h.Intensity, &h.PeakSpeed, &ts); err != nil {
			return nil, err
		}
		h.Marker = marker.ID(id)
		h.Timestamp = time.Unix(0, ts).UTC()
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// CountBySession returns the number of hits per instrument of a session.
func (r *HitRepository) CountBySession(sessionID string) (map[string]int, error) {
	rows, err := r.db.Query(
		`SELECT instrument, COUNT(*) FROM hits WHERE session_id = ? GROUP BY instrument`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var instrument string
		var n int
		if err := rows.Scan(&instrument, &n); err != nil {
			return nil, err
		}
		counts[instrument] = n
	}
	return counts, rows.Err()
}
