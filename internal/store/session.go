package store

import (
	"database/sql"
	"errors"
	"time"
)

// Session is one run of the engine.
type Session struct {
	ID         string
	StartedAt  time.Time
	EndedAt    *time.Time
	StopReason string
}

// SessionRepository records engine sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Start inserts a new open session.
func (r *SessionRepository) Start(id string, startedAt time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
		id, startedAt,
	)
	return err
}

// End closes a session with its stop reason.
func (r *SessionRepository) End(id string, endedAt time.Time, reason string) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, stop_reason = ? WHERE id = ?`,
		endedAt, reason, id,
	)
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

// Get retrieves a session by its ID.
func (r *SessionRepository) Get(id string) (*Session, error) {
	s := &Session{}
	var ended sql.NullTime
	err := r.db.QueryRow(
		`SELECT id, started_at, ended_at, stop_reason FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.StartedAt, &ended, &s.StopReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if ended.Valid {
		s.EndedAt = &ended.Time
	}
	return s, nil
}

// List returns the most recent sessions first, at most limit of them.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	rows, err := r.db.Query(
		`SELECT id, started_at, ended_at, stop_reason FROM sessions
		 ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s := &Session{}
		var ended sql.NullTime
		if err := rows.Scan(&s.ID, &s.StartedAt, &ended, &s.StopReason); err != nil {
			return nil, err
		}
		if ended.Valid {
			s.EndedAt = &ended.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
