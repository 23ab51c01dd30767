package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	errorvalues "github.com/limbo/routinesync/internal/error_values"
	"github.com/limbo/routinesync/pkg/entity"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS routines (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	icon         TEXT NOT NULL,
	time         TEXT NOT NULL,
	frequency    TEXT NOT NULL,
	custom_days  TEXT NOT NULL DEFAULT '[]',
	active       INTEGER NOT NULL,
	completed_at TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_queue (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	action     TEXT NOT NULL,
	routine_id TEXT NOT NULL,
	queued_at  TEXT NOT NULL
);
`

// Cache is the durable per-device store of routine records. It is the first
// read path and the only store the presentation layer ever reads. Every
// mutation appends an intent entry to the sync queue in the same transaction,
// so local intent stays durable and inspectable independent of cache state.
type Cache struct {
	path string
	db   *sql.DB
}

// Open creates the database file (and parent directory) if needed, applies
// the schema and returns a ready cache.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// SQLite holds one writer; a second pooled connection inside a write
	// transaction aborts with SQLITE_BUSY instead of queueing. One connection
	// serializes writers from the merge goroutine and the HTTP handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply cache schema: %w", err)
	}

	return &Cache{path: path, db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Path() string {
	return c.path
}

// GetAll returns every cached routine ordered by time-of-day ascending.
// An empty cache yields an empty slice, not an error.
func (c *Cache) GetAll(ctx context.Context) ([]entity.Routine, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, owner_id, title, description, icon, time, frequency, custom_days,
		       active, completed_at, created_at, updated_at
		FROM routines ORDER BY time ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	defer rows.Close()

	routines := make([]entity.Routine, 0)
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		routines = append(routines, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	return routines, nil
}

func (c *Cache) GetByID(ctx context.Context, id uuid.UUID) (*entity.Routine, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description, icon, time, frequency, custom_days,
		       active, completed_at, created_at, updated_at
		FROM routines WHERE id = ?`, id.String())
	r, err := scanRoutine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errorvalues.ErrRoutineNotFound
		}
		return nil, err
	}
	return &r, nil
}

// Save upserts by id. A stored row whose updated_at is newer than or equal to
// the incoming one is left untouched, which closes the race between a stale
// subscription replay and a just-confirmed user write. When a write happens,
// an upsert intent is appended in the same transaction.
func (c *Cache) Save(ctx context.Context, r *entity.Routine) error {
	if !entity.ValidTime(r.Time) {
		return errorvalues.ErrInvalidRoutine
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache write: %w", err)
	}
	defer tx.Rollback()

	var stored string
	err = tx.QueryRowContext(ctx, "SELECT updated_at FROM routines WHERE id = ?", r.ID.String()).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check cached routine: %w", err)
	}
	if err == nil {
		storedAt, parseErr := time.Parse(time.RFC3339Nano, stored)
		if parseErr == nil && !r.UpdatedAt.After(storedAt) {
			return nil
		}
	}

	days, err := json.Marshal(r.CustomDays)
	if err != nil {
		return fmt.Errorf("failed to marshal custom days: %w", err)
	}
	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = sql.NullString{String: r.CompletedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO routines (
			id, owner_id, title, description, icon, time, frequency, custom_days,
			active, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.OwnerID.String(), r.Title, r.Description, string(r.Icon), r.Time,
		string(r.Frequency), string(days), r.Active, completedAt,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save routine: %w", err)
	}

	if err := appendIntent(ctx, tx, entity.IntentUpsert, r.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the record if present. Deleting an absent id is a no-op and
// appends nothing to the sync queue.
func (c *Cache) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache write: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM routines WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete routine: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete routine: %w", err)
	}
	if n == 0 {
		return nil
	}

	if err := appendIntent(ctx, tx, entity.IntentDelete, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Clear wipes both the records and the intent log. Sign-out path only.
func (c *Cache) Clear(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM routines"); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return tx.Commit()
}

// SyncQueue is a non-destructive ordered read of the intent log.
func (c *Cache) SyncQueue(ctx context.Context) ([]entity.SyncIntent, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT seq, action, routine_id, queued_at FROM sync_queue ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	defer rows.Close()

	intents := make([]entity.SyncIntent, 0)
	for rows.Next() {
		var (
			intent   entity.SyncIntent
			action   string
			idStr    string
			queuedAt string
		)
		if err := rows.Scan(&intent.Seq, &action, &idStr, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync intent: %w", err)
		}
		intent.Action = entity.IntentAction(action)
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt routine id in sync queue: %w", err)
		}
		intent.RoutineID = id
		at, err := time.Parse(time.RFC3339Nano, queuedAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp in sync queue: %w", err)
		}
		intent.QueuedAt = at
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	return intents, nil
}

func (c *Cache) ClearSyncQueue(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}

func appendIntent(ctx context.Context, tx *sql.Tx, action entity.IntentAction, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO sync_queue (action, routine_id, queued_at) VALUES (?, ?, ?)",
		string(action), id.String(), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append sync intent: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoutine(row rowScanner) (entity.Routine, error) {
	var (
		r                 entity.Routine
		idStr, ownerStr   string
		icon, frequency   string
		customDays        string
		completedAt       sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&idStr, &ownerStr, &r.Title, &r.Description, &icon, &r.Time,
		&frequency, &customDays, &r.Active, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return entity.Routine{}, err
	}

	if r.ID, err = uuid.Parse(idStr); err != nil {
		return entity.Routine{}, fmt.Errorf("corrupt routine id in cache: %w", err)
	}
	if r.OwnerID, err = uuid.Parse(ownerStr); err != nil {
		return entity.Routine{}, fmt.Errorf("corrupt owner id in cache: %w", err)
	}
	r.Icon = entity.Icon(icon)
	r.Frequency = entity.Frequency(frequency)
	if err := json.Unmarshal([]byte(customDays), &r.CustomDays); err != nil {
		return entity.Routine{}, fmt.Errorf("corrupt custom days in cache: %w", err)
	}
	if completedAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return entity.Routine{}, fmt.Errorf("corrupt completed_at in cache: %w", err)
		}
		r.CompletedAt = &at
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return entity.Routine{}, fmt.Errorf("corrupt created_at in cache: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return entity.Routine{}, fmt.Errorf("corrupt updated_at in cache: %w", err)
	}
	return r, nil
}
