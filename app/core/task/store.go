package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"pulsedash/app/core/db"
)

// Store is the durable tier for normalized tasks. Each refresh pass replaces
// the whole set in one transaction, so readers see either the previous set or
// the new one, never a mix.
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) ReplaceAll(ctx context.Context, tasks []Task) error {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}

	insert := `INSERT INTO tasks (id, name, folder, list, score, status, is_complete, date_created, date_closed, due_date, assignees, time_spent_ms, url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, t := range tasks {
		assigneesJSON, err := json.Marshal(t.Assignees)
		if err != nil {
			return err
		}
		var score interface{}
		if t.Score > 0 {
			score = t.Score
		}
		if _, err := tx.ExecContext(ctx, insert,
			t.ID,
			t.Name,
			t.Folder,
			t.List,
			score,
			t.Status,
			boolToInt(t.IsComplete),
			timeToMillis(t.DateCreated),
			timeToMillis(t.DateClosed),
			timeToMillis(t.DueDate),
			assigneesJSON,
			t.TimeSpentMS,
			t.URL,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) LoadAll(ctx context.Context) ([]Task, error) {
	query := `SELECT id, name, folder, list, COALESCE(score, 0), status, is_complete,
COALESCE(date_created, 0), COALESCE(date_closed, 0), COALESCE(due_date, 0), assignees, time_spent_ms, url
FROM tasks`
	rows, err := s.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Task
	for rows.Next() {
		var (
			t             Task
			isComplete    int
			created       int64
			closed        int64
			due           int64
			assigneesJSON []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Folder, &t.List, &t.Score, &t.Status, &isComplete,
			&created, &closed, &due, &assigneesJSON, &t.TimeSpentMS, &t.URL); err != nil {
			return nil, err
		}
		t.IsComplete = isComplete != 0
		t.DateCreated = millisToTime(created)
		t.DateClosed = millisToTime(closed)
		t.DueDate = millisToTime(due)
		if len(assigneesJSON) > 0 {
			_ = json.Unmarshal(assigneesJSON, &t.Assignees)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisToTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
