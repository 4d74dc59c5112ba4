package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/sjson"

	"pulsedash/app/core/db"
)

// Snapshot kinds. Subject is "all" for whole-team data or a member id.
const (
	KindMetrics       = "metrics"
	KindVelocity      = "velocity"
	KindDailyAverages = "daily_averages"
	KindTeam          = "team"
)

// SubjectAll is the whole-team subject.
const SubjectAll = "all"

// Store persists precomputed snapshots keyed by (kind, subject), plus the
// single-row client health blob. Rows are upserted wholesale on refresh and
// read-only in between.
type Store struct {
	db  *db.DB
	now func() time.Time
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

func MetricsSubject(assigneeID int64, weekOffset int) string {
	if assigneeID == 0 {
		return fmt.Sprintf("%s_%d", SubjectAll, weekOffset)
	}
	return fmt.Sprintf("%d_%d", assigneeID, weekOffset)
}

func SeriesSubject(assigneeID int64) string {
	if assigneeID == 0 {
		return SubjectAll
	}
	return fmt.Sprintf("%d", assigneeID)
}

func (s *Store) Put(ctx context.Context, kind, subject string, payload interface{}, refreshID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s/%s snapshot: %w", kind, subject, err)
	}
	now := s.now().UTC().Format(time.RFC3339)
	query := `INSERT INTO snapshots (kind, subject, data_json, refresh_id, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(kind, subject) DO UPDATE SET data_json = excluded.data_json,
	refresh_id = excluded.refresh_id, updated_at = excluded.updated_at`
	_, err = s.db.Conn().ExecContext(ctx, query, kind, subject, data, refreshID, now)
	return err
}

// Get returns the stored blob for (kind, subject), or ok=false on miss.
// Storage errors degrade to a miss so callers fall through to the next tier.
func (s *Store) Get(ctx context.Context, kind, subject string) (json.RawMessage, bool) {
	var data []byte
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT data_json FROM snapshots WHERE kind = ? AND subject = ?`, kind, subject,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *Store) LastUpdated(ctx context.Context, kind string) (string, bool) {
	var updatedAt string
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT updated_at FROM snapshots WHERE kind = ? ORDER BY updated_at DESC LIMIT 1`, kind,
	).Scan(&updatedAt)
	if err != nil {
		return "", false
	}
	return updatedAt, true
}

// PutHealth upserts the single-row client health payload, stamping
// last_updated into the JSON itself so the serve path needs no re-marshal.
func (s *Store) PutHealth(ctx context.Context, payload interface{}, refreshID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal health payload: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339)
	data, err = sjson.SetBytes(data, "last_updated", now)
	if err != nil {
		return fmt.Errorf("stamp health payload: %w", err)
	}
	query := `INSERT INTO client_health (id, data_json, refresh_id, updated_at)
VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET data_json = excluded.data_json,
	refresh_id = excluded.refresh_id, updated_at = excluded.updated_at`
	_, err = s.db.Conn().ExecContext(ctx, query, data, refreshID, now)
	return err
}

func (s *Store) GetHealth(ctx context.Context) (json.RawMessage, bool) {
	var data []byte
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT data_json FROM client_health WHERE id = 1`,
	).Scan(&data)
	if err != nil {
		return nil, false
	}
	return data, true
}

// HealthEmpty reports whether a health blob has ever been written. Errors
// count as empty so cold-start detection errs toward refreshing.
func (s *Store) HealthEmpty(ctx context.Context) bool {
	var count int
	err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM client_health`).Scan(&count)
	if err != nil {
		return true
	}
	return count == 0
}

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
