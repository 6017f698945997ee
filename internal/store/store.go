// Package store keeps a SQLite journal of relay runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the final outcome of a run.
type Status string

const (
	StatusPublished Status = "published"
	StatusDryRun    Status = "dry_run"
	StatusNoMatch   Status = "no_match"
	StatusFailed    Status = "failed"
)

type Store struct {
	db *sql.DB
}

// Run is one journaled execution of the relay.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Attempts   int
	Status     Status
	Detail     string
	DryRun     bool
	Items      []RunItem
}

// RunItem is one photo selected during a run.
type RunItem struct {
	Channel     string
	PostURL     string
	PostedAt    time.Time
	PhotoURL    string
	ImagePath   string
	Transformed bool
}

// Duration is the wall time the run took.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps the foreign_keys pragma in effect for every
	// statement.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// RecordRun writes a run and its items. An empty ID is replaced with a new
// one; the stored run is returned.
func (s *Store) RecordRun(ctx context.Context, run Run) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if run.StartedAt.IsZero() {
		return Run{}, errors.New("started_at is required")
	}
	if strings.TrimSpace(string(run.Status)) == "" {
		return Run{}, errors.New("status is required")
	}
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.StartedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin record transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, attempts, status, detail, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Attempts,
		string(run.Status),
		run.Detail,
		boolInt(run.DryRun),
	); err != nil {
		_ = tx.Rollback()
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	for i, item := range run.Items {
		if strings.TrimSpace(item.Channel) == "" {
			_ = tx.Rollback()
			return Run{}, fmt.Errorf("item %d: channel is required", i)
		}
		var postedAt sql.NullString
		if !item.PostedAt.IsZero() {
			postedAt = sql.NullString{String: formatTime(item.PostedAt), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_items (run_id, position, channel, post_url, posted_at, photo_url, image_path, transformed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			i,
			item.Channel,
			nullString(item.PostURL),
			postedAt,
			nullString(item.PhotoURL),
			nullString(item.ImagePath),
			boolInt(item.Transformed),
		); err != nil {
			_ = tx.Rollback()
			return Run{}, fmt.Errorf("insert run item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("commit run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, with their items.
// A limit <= 0 returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `
		SELECT id, started_at, finished_at, attempts, status, detail, dry_run
		FROM runs
		ORDER BY started_at DESC, id
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	_ = rows.Close()

	for i := range runs {
		items, err := s.runItems(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Items = items
	}
	return runs, nil
}

// GetRun returns a single run by ID. sql.ErrNoRows is wrapped when it does
// not exist.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, attempts, status, detail, dry_run
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, err
	}
	run.Items, err = s.runItems(ctx, id)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *Store) runItems(ctx context.Context, runID string) ([]RunItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, post_url, posted_at, photo_url, image_path, transformed
		FROM run_items
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []RunItem
	for rows.Next() {
		item, err := scanRunItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run items: %w", err)
	}
	return items, nil
}

// PruneOld deletes runs started more than retainDays ago. Items cascade.
// Returns the number of runs removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old runs: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (Run, error) {
	var (
		run                   Run
		status                string
		startedAt, finishedAt string
		dryRun                int
	)
	if err := scanner.Scan(
		&run.ID,
		&startedAt,
		&finishedAt,
		&run.Attempts,
		&status,
		&run.Detail,
		&dryRun,
	); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Status = Status(status)
	run.DryRun = dryRun != 0

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finishedAt); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return run, nil
}

func scanRunItem(scanner rowScanner) (RunItem, error) {
	var (
		item                RunItem
		postURL, postedAt   sql.NullString
		photoURL, imagePath sql.NullString
		transformed         int
	)
	if err := scanner.Scan(
		&item.Channel,
		&postURL,
		&postedAt,
		&photoURL,
		&imagePath,
		&transformed,
	); err != nil {
		return RunItem{}, fmt.Errorf("scan run item: %w", err)
	}
	item.PostURL = postURL.String
	item.PhotoURL = photoURL.String
	item.ImagePath = imagePath.String
	item.Transformed = transformed != 0

	if postedAt.Valid {
		ts, err := parseTime(postedAt.String)
		if err != nil {
			return RunItem{}, fmt.Errorf("parse posted_at: %w", err)
		}
		item.PostedAt = ts
	}
	return item, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
