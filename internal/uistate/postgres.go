package uistate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nuetzliches/sbinspect/internal/activity"
)

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS sbinspect_ui_state (
  id         SMALLINT PRIMARY KEY CHECK (id = 1),
  state_json JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sbinspect_peek_snapshots (
  entity        TEXT PRIMARY KEY,
  messages_json JSONB NOT NULL,
  taken_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sbinspect_activity_events (
  seq        BIGSERIAL PRIMARY KEY,
  id         TEXT NOT NULL,
  kind       TEXT NOT NULL,
  operation  TEXT NOT NULL DEFAULT '',
  entity     TEXT NOT NULL DEFAULT '',
  message_id TEXT NOT NULL DEFAULT '',
  count      INTEGER NOT NULL DEFAULT 0,
  detail     TEXT NOT NULL DEFAULT '',
  at         TIMESTAMPTZ NOT NULL
);
`

type PostgresStore struct {
	db   *sql.DB
	opts options
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string, opts ...Option) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty postgres dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &PostgresStore{db: db, opts: buildOptions(opts)}
	if _, err := db.ExecContext(ctx, postgresSchemaV1); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Get(ctx context.Context) (UIState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM sbinspect_ui_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultState(), nil
	}
	if err != nil {
		return UIState{}, err
	}
	var st UIState
	if err := json.Unmarshal(raw, &st); err != nil {
		return UIState{}, fmt.Errorf("postgres: decode ui state: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) Put(ctx context.Context, st UIState) (UIState, error) {
	st, err := normalize(st, s.opts.now())
	if err != nil {
		return UIState{}, err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return UIState{}, err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sbinspect_ui_state (id, state_json, updated_at) VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET state_json = EXCLUDED.state_json, updated_at = EXCLUDED.updated_at
`, string(raw), st.UpdatedAt)
	if err != nil {
		return UIState{}, err
	}
	return st, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, entity string, msgs []SnapshotMessage) error {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(cloneMessages(msgs))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sbinspect_peek_snapshots (entity, messages_json, taken_at) VALUES ($1, $2, $3)
ON CONFLICT (entity) DO UPDATE SET messages_json = EXCLUDED.messages_json, taken_at = EXCLUDED.taken_at
`, entity, string(raw), s.opts.now().UTC())
	return err
}

func (s *PostgresStore) Snapshot(ctx context.Context, entity string) (Snapshot, bool, error) {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return Snapshot{}, false, err
	}
	var raw []byte
	var takenAt time.Time
	err = s.db.QueryRowContext(ctx, `SELECT messages_json, taken_at FROM sbinspect_peek_snapshots WHERE entity = $1`, entity).Scan(&raw, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap := Snapshot{Entity: entity, TakenAt: takenAt.UTC()}
	if err := json.Unmarshal(raw, &snap.Messages); err != nil {
		return Snapshot{}, false, fmt.Errorf("postgres: decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *PostgresStore) AppendActivity(ctx context.Context, e activity.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO sbinspect_activity_events (id, kind, operation, entity, message_id, count, detail, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`,
		e.ID,
		string(e.Kind),
		e.Operation,
		e.Entity,
		e.MessageID,
		e.Count,
		e.Detail,
		e.At.UTC(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM sbinspect_activity_events
WHERE seq <= (SELECT seq FROM sbinspect_activity_events ORDER BY seq DESC LIMIT 1 OFFSET $1)
`, s.opts.retention); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) ListActivity(ctx context.Context, limit int) ([]activity.Event, error) {
	limit = clampLimit(limit, s.opts.retention)
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, operation, entity, message_id, count, detail, at
FROM sbinspect_activity_events
ORDER BY seq DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]activity.Event, 0, limit)
	for rows.Next() {
		var e activity.Event
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.Operation, &e.Entity, &e.MessageID, &e.Count, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		e.Kind = activity.Kind(kind)
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
