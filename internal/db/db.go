// Package db persists shooting sessions and their impacts in sqlite.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/echo-archery/impact.report/internal/target"
	"github.com/echo-archery/impact.report/internal/vision"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

type DB struct {
	*sql.DB
}

// NewDB opens the sqlite database at path and applies any pending
// migrations. Use ":memory:" for tests.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; serialize through a single connection.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

// Session is one completed shooting session with its calibration and
// every confirmed impact.
type Session struct {
	ID          string          `json:"id"`
	Face        target.Face     `json:"face"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     time.Time       `json:"ended_at"`
	Outcome     string          `json:"outcome"` // completed, aborted or error
	CenterXPx   float64         `json:"center_x_px"`
	CenterYPx   float64         `json:"center_y_px"`
	RadiusPx    float64         `json:"radius_px"`
	PixelsPerCM float64         `json:"pixels_per_cm"`
	Impacts     []vision.Impact `json:"impacts"`
}

// Summary is the list view of a session.
type Summary struct {
	ID          string      `json:"id"`
	Face        target.Face `json:"face"`
	StartedAt   time.Time   `json:"started_at"`
	EndedAt     time.Time   `json:"ended_at"`
	Outcome     string      `json:"outcome"`
	ImpactCount int         `json:"impact_count"`
	TotalScore  int         `json:"total_score"`
}

// SaveSession writes the session and its impacts in one transaction.
func (db *DB) SaveSession(s *Session) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, face, started_at, ended_at, outcome,
			center_x_px, center_y_px, radius_px, pixels_per_cm)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Face), s.StartedAt, s.EndedAt, s.Outcome,
		s.CenterXPx, s.CenterYPx, s.RadiusPx, s.PixelsPerCM)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO impacts (session_id, seq, pixel_x, pixel_y, x_cm, y_cm,
			radius_cm, angle_deg, score, confidence, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare impact insert: %w", err)
	}
	defer stmt.Close()

	for _, imp := range s.Impacts {
		_, err = stmt.Exec(s.ID, imp.Seq, imp.PixelX, imp.PixelY, imp.XCM, imp.YCM,
			imp.RadiusCM, imp.AngleDeg, imp.Score, imp.Confidence, imp.DetectedAt)
		if err != nil {
			return fmt.Errorf("insert impact %d: %w", imp.Seq, err)
		}
	}

	return tx.Commit()
}

// ListSessions returns session summaries, newest first.
func (db *DB) ListSessions() ([]Summary, error) {
	rows, err := db.Query(`
		SELECT s.id, s.face, s.started_at, s.ended_at, s.outcome,
			COUNT(i.seq), COALESCE(SUM(i.score), 0)
		FROM sessions s
		LEFT JOIN impacts i ON i.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var face string
		if err := rows.Scan(&sum.ID, &face, &sum.StartedAt, &sum.EndedAt,
			&sum.Outcome, &sum.ImpactCount, &sum.TotalScore); err != nil {
			return nil, err
		}
		sum.Face = target.Face(face)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetSession loads one session with all its impacts, ordered by seq.
func (db *DB) GetSession(id string) (*Session, error) {
	s := &Session{ID: id}
	var face string
	err := db.QueryRow(`
		SELECT face, started_at, ended_at, outcome,
			center_x_px, center_y_px, radius_px, pixels_per_cm
		FROM sessions WHERE id = ?`, id).Scan(
		&face, &s.StartedAt, &s.EndedAt, &s.Outcome,
		&s.CenterXPx, &s.CenterYPx, &s.RadiusPx, &s.PixelsPerCM)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Face = target.Face(face)

	rows, err := db.Query(`
		SELECT seq, pixel_x, pixel_y, x_cm, y_cm, radius_cm, angle_deg,
			score, confidence, detected_at
		FROM impacts WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var imp vision.Impact
		if err := rows.Scan(&imp.Seq, &imp.PixelX, &imp.PixelY, &imp.XCM, &imp.YCM,
			&imp.RadiusCM, &imp.AngleDeg, &imp.Score, &imp.Confidence, &imp.DetectedAt); err != nil {
			return nil, err
		}
		s.Impacts = append(s.Impacts, imp)
	}
	return s, rows.Err()
}

// Profile reconstructs the calibration profile a session was shot with.
func (s *Session) Profile() *vision.Profile {
	return &vision.Profile{
		Face:        s.Face,
		CenterXPx:   s.CenterXPx,
		CenterYPx:   s.CenterYPx,
		RadiusPx:    s.RadiusPx,
		PixelsPerCM: s.PixelsPerCM,
	}
}
