package uistate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nuetzliches/sbinspect/internal/activity"
)

const sqliteSchemaVersion = 2

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS ui_state (
  id         INTEGER PRIMARY KEY CHECK (id = 1),
  state_json TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS peek_snapshots (
  entity        TEXT PRIMARY KEY,
  messages_json TEXT NOT NULL,
  taken_at      INTEGER NOT NULL
);
`

const sqliteSchemaV2 = `
CREATE TABLE IF NOT EXISTS activity_events (
  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
  id         TEXT NOT NULL,
  kind       TEXT NOT NULL,
  operation  TEXT,
  entity     TEXT,
  message_id TEXT,
  count      INTEGER NOT NULL DEFAULT 0,
  detail     TEXT,
  at         INTEGER NOT NULL
);
`

type SQLiteStore struct {
	db   *sql.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, opts: buildOptions(opts)}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	ctx := context.Background()

	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("sqlite: set journal_mode=wal: %w", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		return fmt.Errorf("sqlite: journal_mode=%q, want wal", journalMode)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	return s.migrate(ctx)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE;"); err != nil {
		return err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_, _ = conn.ExecContext(ctx, "ROLLBACK;")
	}()

	if _, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("sqlite: init migrations table: %w", err)
	}

	var current int
	hasVersion := true
	err = conn.QueryRowContext(ctx, `SELECT version FROM schema_migrations LIMIT 1;`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		hasVersion = false
	} else if err != nil {
		return fmt.Errorf("sqlite: read schema_version: %w", err)
	}
	if current > sqliteSchemaVersion {
		return fmt.Errorf("sqlite: schema_version=%d, want <=%d", current, sqliteSchemaVersion)
	}

	for v := current + 1; v <= sqliteSchemaVersion; v++ {
		var stmt string
		switch v {
		case 1:
			stmt = sqliteSchemaV1
		case 2:
			stmt = sqliteSchemaV2
		default:
			return fmt.Errorf("sqlite: unknown migration %d", v)
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate v%d: %w", v, err)
		}
	}

	if !hasVersion || current != sqliteSchemaVersion {
		if _, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations(rowid, version) VALUES (1, ?);`, sqliteSchemaVersion); err != nil {
			return fmt.Errorf("sqlite: write schema_version: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context) (UIState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM ui_state WHERE id = 1;`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultState(), nil
	}
	if err != nil {
		return UIState{}, err
	}
	var st UIState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return UIState{}, fmt.Errorf("sqlite: decode ui state: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) Put(ctx context.Context, st UIState) (UIState, error) {
	st, err := normalize(st, s.opts.now())
	if err != nil {
		return UIState{}, err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return UIState{}, err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO ui_state (id, state_json, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at;
`, string(raw), st.UpdatedAt.UnixNano())
	if err != nil {
		return UIState{}, err
	}
	return st, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, entity string, msgs []SnapshotMessage) error {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(cloneMessages(msgs))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO peek_snapshots (entity, messages_json, taken_at) VALUES (?, ?, ?)
ON CONFLICT(entity) DO UPDATE SET messages_json = excluded.messages_json, taken_at = excluded.taken_at;
`, entity, string(raw), s.opts.now().UTC().UnixNano())
	return err
}

func (s *SQLiteStore) Snapshot(ctx context.Context, entity string) (Snapshot, bool, error) {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return Snapshot{}, false, err
	}
	var raw string
	var takenAt int64
	err = s.db.QueryRowContext(ctx, `SELECT messages_json, taken_at FROM peek_snapshots WHERE entity = ?;`, entity).Scan(&raw, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap := Snapshot{Entity: entity, TakenAt: time.Unix(0, takenAt).UTC()}
	if err := json.Unmarshal([]byte(raw), &snap.Messages); err != nil {
		return Snapshot{}, false, fmt.Errorf("sqlite: decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *SQLiteStore) AppendActivity(ctx context.Context, e activity.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO activity_events (id, kind, operation, entity, message_id, count, detail, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.ID,
		string(e.Kind),
		e.Operation,
		e.Entity,
		e.MessageID,
		e.Count,
		e.Detail,
		e.At.UTC().UnixNano(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM activity_events
WHERE seq <= (SELECT seq FROM activity_events ORDER BY seq DESC LIMIT 1 OFFSET ?);
`, s.opts.retention); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListActivity(ctx context.Context, limit int) ([]activity.Event, error) {
	limit = clampLimit(limit, s.opts.retention)
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, operation, entity, message_id, count, detail, at
FROM activity_events
ORDER BY seq DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]activity.Event, 0, limit)
	for rows.Next() {
		var e activity.Event
		var kind string
		var at int64
		if err := rows.Scan(&e.ID, &kind, &e.Operation, &e.Entity, &e.MessageID, &e.Count, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.Kind = activity.Kind(kind)
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
