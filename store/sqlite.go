// Package store persists task states and tracked messages.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fetchbot/task"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_states (
	task_id    TEXT PRIMARY KEY,
	chat_id    INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	media_type TEXT NOT NULL DEFAULT '',
	url        TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	seq        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_states_chat ON task_states(chat_id);
CREATE INDEX IF NOT EXISTS idx_task_states_kind ON task_states(kind);

CREATE TABLE IF NOT EXISTS tracked_messages (
	task_id    TEXT NOT NULL,
	chat_id    INTEGER NOT NULL,
	message_id INTEGER NOT NULL,
	PRIMARY KEY (chat_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_tracked_messages_task ON tracked_messages(task_id);
`

// SQLite is a task.Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=FULL;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

const insertState = `INSERT INTO task_states
	(task_id, chat_id, kind, media_type, url, created_at, updated_at, seq)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// seq keeps query results in insertion order across replacements.
const nextSeq = `SELECT COALESCE(MAX(seq), 0) + 1 FROM task_states`

func stateArgs(st task.State, seq int64) []any {
	return []any{
		st.TaskID.String(), int64(st.ChatID), string(st.Kind), st.MediaType.String(), st.URL,
		st.CreatedAt.UnixNano(), st.UpdatedAt.UnixNano(), seq,
	}
}

func (s *SQLite) InsertState(ctx context.Context, st task.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, nextSeq).Scan(&seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertState, stateArgs(st, seq)...); err != nil {
		return fmt.Errorf("insert task %s: %w", st.TaskID, err)
	}
	return tx.Commit()
}

func (s *SQLite) ReplaceState(ctx context.Context, st task.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM task_states WHERE task_id = ?`, st.TaskID.String()).Scan(&seq)
	if err == sql.ErrNoRows {
		return fmt.Errorf("replace task %s: %w", st.TaskID, task.ErrNotFound)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_states WHERE task_id = ?`, st.TaskID.String()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertState, stateArgs(st, seq)...); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) DeleteState(ctx context.Context, id task.TaskID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_states WHERE task_id = ?`, id.String())
	return err
}

const selectStates = `SELECT task_id, chat_id, kind, media_type, url, created_at, updated_at FROM task_states`

func (s *SQLite) StatesByChat(ctx context.Context, chat task.ChatID) ([]task.State, error) {
	return s.queryStates(ctx, selectStates+` WHERE chat_id = ? ORDER BY seq`, int64(chat))
}

func (s *SQLite) StatesByKind(ctx context.Context, kind task.Kind) ([]task.State, error) {
	return s.queryStates(ctx, selectStates+` WHERE kind = ? ORDER BY seq`, string(kind))
}

func (s *SQLite) queryStates(ctx context.Context, query string, arg any) ([]task.State, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.State
	for rows.Next() {
		var (
			id, kind, mt     string
			chat             int64
			created, updated int64
			st               task.State
		)
		if err := rows.Scan(&id, &chat, &kind, &mt, &st.URL, &created, &updated); err != nil {
			return nil, err
		}
		if st.TaskID, err = task.ParseTaskID(id); err != nil {
			return nil, err
		}
		if st.Kind, err = task.ParseKind(kind); err != nil {
			return nil, err
		}
		if mt != "" {
			if st.MediaType, err = task.ParseMediaType(mt); err != nil {
				return nil, err
			}
		}
		st.ChatID = task.ChatID(chat)
		st.CreatedAt = time.Unix(0, created).UTC()
		st.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertMessage(ctx context.Context, m task.TrackedMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tracked_messages (task_id, chat_id, message_id) VALUES (?, ?, ?)`,
		m.TaskID.String(), int64(m.ChatID), int(m.MessageID))
	if err != nil {
		return fmt.Errorf("track message %d: %w", m.MessageID, err)
	}
	return nil
}

func (s *SQLite) MessagesByTask(ctx context.Context, id task.TaskID) ([]task.TrackedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, message_id FROM tracked_messages WHERE task_id = ? ORDER BY rowid`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.TrackedMessage
	for rows.Next() {
		var (
			chat int64
			msg  int
		)
		if err := rows.Scan(&chat, &msg); err != nil {
			return nil, err
		}
		out = append(out, task.TrackedMessage{TaskID: id, ChatID: task.ChatID(chat), MessageID: task.MessageID(msg)})
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteMessages(ctx context.Context, id task.TaskID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tracked_messages WHERE task_id = ?`, id.String())
	return err
}
