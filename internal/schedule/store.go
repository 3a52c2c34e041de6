package schedule

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"agentflow/internal/domain"
)

var ErrNotFound = errors.New("schedule entry not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS schedule_entries (
  id TEXT PRIMARY KEY,
  topic TEXT NOT NULL,
  recipient TEXT NOT NULL,
  time_of_day TEXT NOT NULL,
  cadence_kind TEXT NOT NULL CHECK(cadence_kind IN ('daily','weekly','monthly','cron')),
  day_of_week INTEGER NOT NULL DEFAULT 0,
  day_of_month INTEGER NOT NULL DEFAULT 1,
  cron_expr TEXT NOT NULL DEFAULT '',
  subject_template TEXT NOT NULL DEFAULT '',
  enabled INTEGER NOT NULL DEFAULT 1,
  last_fired_at DATETIME,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_entries_enabled ON schedule_entries(enabled);
CREATE TABLE IF NOT EXISTS delivery_attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ref_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  outcome TEXT NOT NULL CHECK(outcome IN ('success','transient_failure','permanent_failure')),
  error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_attempts_ref ON delivery_attempts(ref_id, occurred_at);
`
	_, err := db.Exec(schema)
	return err
}

// Store is the durable surface for schedule entries and the delivery
// audit log.
type Store interface {
	Create(ctx context.Context, e domain.ScheduleEntry) (string, error)
	Get(ctx context.Context, id string) (domain.ScheduleEntry, error)
	List(ctx context.Context) ([]domain.ScheduleEntry, error)
	ListEnabled(ctx context.Context) ([]domain.ScheduleEntry, error)
	Update(ctx context.Context, e domain.ScheduleEntry) error
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetLastFired(ctx context.Context, id string, firedAt time.Time) error

	RecordAttempt(ctx context.Context, a domain.DeliveryAttempt) error
	ListAttempts(ctx context.Context, refID string) ([]domain.DeliveryAttempt, error)
}

type sqliteStore struct{ db *sql.DB }

func NewSQLiteStore(db *sql.DB) Store { return &sqliteStore{db: db} }

const entryCols = `id,topic,recipient,time_of_day,cadence_kind,day_of_week,day_of_month,cron_expr,subject_template,enabled,last_fired_at,created_at,updated_at`

func (s *sqliteStore) Create(ctx context.Context, e domain.ScheduleEntry) (string, error) {
	id := e.ID
	if id == "" {
		id = "sch_" + uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO schedule_entries (id,topic,recipient,time_of_day,cadence_kind,day_of_week,day_of_month,cron_expr,subject_template,enabled,last_fired_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, e.Topic, e.Recipient, e.TimeOfDay, e.Cadence.Kind, e.Cadence.DayOfWeek, e.Cadence.DayOfMonth, e.Cadence.Expr, e.SubjectTemplate, e.Enabled, e.LastFiredAt)
	return id, err
}

func scanEntry(row interface{ Scan(...any) error }) (domain.ScheduleEntry, error) {
	var e domain.ScheduleEntry
	var lastFired sql.NullTime
	err := row.Scan(&e.ID, &e.Topic, &e.Recipient, &e.TimeOfDay, &e.Cadence.Kind,
		&e.Cadence.DayOfWeek, &e.Cadence.DayOfMonth, &e.Cadence.Expr,
		&e.SubjectTemplate, &e.Enabled, &lastFired, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return domain.ScheduleEntry{}, err
	}
	if lastFired.Valid {
		t := lastFired.Time
		e.LastFiredAt = &t
	}
	return e, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (domain.ScheduleEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM schedule_entries WHERE id=?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduleEntry{}, ErrNotFound
	}
	return e, err
}

func (s *sqliteStore) list(ctx context.Context, query string, args ...any) ([]domain.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqliteStore) List(ctx context.Context) ([]domain.ScheduleEntry, error) {
	return s.list(ctx, `SELECT `+entryCols+` FROM schedule_entries ORDER BY created_at, id`)
}

func (s *sqliteStore) ListEnabled(ctx context.Context) ([]domain.ScheduleEntry, error) {
	return s.list(ctx, `SELECT `+entryCols+` FROM schedule_entries WHERE enabled=1 ORDER BY created_at, id`)
}

func (s *sqliteStore) Update(ctx context.Context, e domain.ScheduleEntry) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE schedule_entries
SET topic=?,recipient=?,time_of_day=?,cadence_kind=?,day_of_week=?,day_of_month=?,cron_expr=?,subject_template=?,enabled=?,updated_at=CURRENT_TIMESTAMP
WHERE id=?`, e.Topic, e.Recipient, e.TimeOfDay, e.Cadence.Kind, e.Cadence.DayOfWeek, e.Cadence.DayOfMonth, e.Cadence.Expr, e.SubjectTemplate, e.Enabled, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedule_entries WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE schedule_entries SET enabled=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, enabled, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) SetLastFired(ctx context.Context, id string, firedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE schedule_entries SET last_fired_at=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, firedAt.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) RecordAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO delivery_attempts (ref_id, attempt_number, occurred_at, outcome, error)
VALUES (?,?,?,?,?)`, a.RefID, a.Number, a.OccurredAt.UTC(), a.Outcome, a.Error)
	return err
}

func (s *sqliteStore) ListAttempts(ctx context.Context, refID string) ([]domain.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, ref_id, attempt_number, occurred_at, outcome, error
FROM delivery_attempts WHERE ref_id=? ORDER BY occurred_at, id`, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.RefID, &a.Number, &a.OccurredAt, &a.Outcome, &a.Error); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
