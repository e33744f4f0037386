package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	_ "modernc.org/sqlite"

	"github.com/ZXZCAT/bot-worker/pkg/logger"
)

// SQLiteStore persists conversation buckets in a single-file database.
// Expiry is enforced on read; RunSweeper physically removes dead rows.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			key        TEXT PRIMARY KEY,
			turns      TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_conversations_expires_at ON conversations(expires_at)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

// Get returns the stored turns for key. Absent, expired, and corrupted
// buckets all degrade to an empty history.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]Turn, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT turns FROM conversations WHERE key = ? AND expires_at > ?`,
		key, s.nowFunc().Unix(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation %s: %w", key, err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		logger.WarnCF("history", "Corrupted conversation bucket, starting fresh", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		return nil, nil
	}
	return turns, nil
}

// Put replaces the bucket and resets its expiry. Overwrite semantics, no
// merge.
func (s *SQLiteStore) Put(ctx context.Context, key string, turns []Turn, ttl time.Duration) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (key, turns, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET turns = excluded.turns, expires_at = excluded.expires_at
	`, key, string(raw), s.nowFunc().Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("write conversation %s: %w", key, err)
	}
	return nil
}

// Sweep deletes rows whose expiry has passed and returns how many went.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE expires_at <= ?`, s.nowFunc().Unix())
	if err != nil {
		return 0, fmt.Errorf("sweep conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RunSweeper runs Sweep on the given cron schedule until ctx is cancelled.
// Sweep failures are logged and do not stop the loop.
func (s *SQLiteStore) RunSweeper(ctx context.Context, cronExpr string) error {
	gron := gronx.New()
	if !gron.IsValid(cronExpr) {
		return fmt.Errorf("invalid sweep schedule %q", cronExpr)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			due, err := gron.IsDue(cronExpr, s.nowFunc())
			if err != nil || !due {
				continue
			}
			n, err := s.Sweep(ctx)
			if err != nil {
				logger.WarnCF("history", "Sweep failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				logger.InfoCF("history", "Swept expired conversations", map[string]any{"removed": n})
			}
		}
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
