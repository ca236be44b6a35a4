// Package store implements the SQLite-backed persistence layer: automation
// settings, idempotency records, rate-limit buckets and the append-only
// activity log. Concurrency correctness rests on single-statement atomic
// operations; the connection pool is capped at one writer so each statement
// is serialized by the database itself.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/htheomoller/calmer-sub000/internal/domain"
	"github.com/htheomoller/calmer-sub000/migrations"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// SQLite is the engine's backing store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: an in-memory DSN would otherwise give every pooled
	// connection its own database, and a single writer makes the
	// reserve/increment statements atomic under concurrent requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- accounts ---

// UpsertAccount inserts or replaces an account row.
func (s *SQLite) UpsertAccount(ctx context.Context, acc *domain.Account) error {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	triggers, err := marshalTriggers(acc.TriggerList)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, ig_username, trigger_mode, trigger_list, typo_tolerance, default_link, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   ig_username = excluded.ig_username,
		   trigger_mode = excluded.trigger_mode,
		   trigger_list = excluded.trigger_list,
		   typo_tolerance = excluded.typo_tolerance,
		   default_link = excluded.default_link`,
		acc.ID, acc.IGUsername, modePtr(acc.TriggerMode), triggers,
		boolPtr(acc.TypoTolerance), acc.DefaultLink,
		acc.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// GetAccount returns a single account by its ID.
func (s *SQLite) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ig_username, trigger_mode, trigger_list, typo_tolerance, default_link, created_at
		 FROM accounts WHERE id = ?`, id,
	)

	var (
		acc      domain.Account
		mode     sql.NullString
		triggers sql.NullString
		typo     sql.NullInt64
		link     sql.NullString
		created  string
	)
	err := row.Scan(&acc.ID, &acc.IGUsername, &mode, &triggers, &typo, &link, &created)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}

	acc.TriggerMode = nullMode(mode)
	acc.TriggerList, err = unmarshalTriggers(triggers)
	if err != nil {
		return nil, err
	}
	acc.TypoTolerance = nullBool(typo)
	if link.Valid {
		acc.DefaultLink = &link.String
	}
	acc.CreatedAt, _ = time.Parse(timeLayout, created)
	return &acc, nil
}

// --- posts ---

// UpsertPost inserts or replaces a post settings row.
func (s *SQLite) UpsertPost(ctx context.Context, post *domain.Post) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	triggers, err := marshalTriggers(post.TriggerList)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts (id, account_id, automation_enabled, trigger_mode, trigger_list, typo_tolerance, link, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   account_id = excluded.account_id,
		   automation_enabled = excluded.automation_enabled,
		   trigger_mode = excluded.trigger_mode,
		   trigger_list = excluded.trigger_list,
		   typo_tolerance = excluded.typo_tolerance,
		   link = excluded.link`,
		post.ID, post.AccountID, boolToInt(post.AutomationEnabled),
		modePtr(post.TriggerMode), triggers, boolPtr(post.TypoTolerance),
		post.Link, post.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert post: %w", err)
	}
	return nil
}

// GetPost returns the stored settings for a post.
func (s *SQLite) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, automation_enabled, trigger_mode, trigger_list, typo_tolerance, link, created_at
		 FROM posts WHERE id = ?`, id,
	)

	var (
		post     domain.Post
		enabled  int
		mode     sql.NullString
		triggers sql.NullString
		typo     sql.NullInt64
		link     sql.NullString
		created  string
	)
	err := row.Scan(&post.ID, &post.AccountID, &enabled, &mode, &triggers, &typo, &link, &created)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan post: %w", err)
	}

	post.AutomationEnabled = enabled != 0
	post.TriggerMode = nullMode(mode)
	post.TriggerList, err = unmarshalTriggers(triggers)
	if err != nil {
		return nil, err
	}
	post.TypoTolerance = nullBool(typo)
	if link.Valid {
		post.Link = &link.String
	}
	post.CreatedAt, _ = time.Parse(timeLayout, created)
	return &post, nil
}

// SetAutomationEnabled flips the stored automation flag for a post.
func (s *SQLite) SetAutomationEnabled(ctx context.Context, postID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET automation_enabled = ? WHERE id = ?`,
		boolToInt(enabled), postID,
	)
	if err != nil {
		return fmt.Errorf("update automation flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// --- idempotency ---

// ReserveComment atomically records a comment ID as processed. The first
// caller wins the reservation; every later caller with the same ID gets
// duplicate=true.
func (s *SQLite) ReserveComment(ctx context.Context, commentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dedup_records (comment_id, created_at) VALUES (?, ?)`,
		commentID, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("reserve comment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 0, nil
}

// ReleaseComment drops a reservation so the comment ID can be evaluated
// again. Used when the reserving request was rate limited: a retry must
// get a fresh evaluation, not a duplicate short-circuit.
func (s *SQLite) ReleaseComment(ctx context.Context, commentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_records WHERE comment_id = ?`, commentID,
	); err != nil {
		return fmt.Errorf("release comment: %w", err)
	}
	return nil
}

// PruneDedupRecords deletes dedup records created before the cutoff and
// returns how many were removed.
func (s *SQLite) PruneDedupRecords(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_records WHERE created_at < ?`,
		olderThan.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune dedup records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// --- rate limiting ---

// ConsumeRateBudget increments the bucket for (scope, window) and returns
// the post-increment count. Increment and read are one statement, so the
// aggregate cap holds under concurrent requests.
func (s *SQLite) ConsumeRateBudget(ctx context.Context, scope, window string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_buckets (scope, window, count) VALUES (?, ?, 1)
		 ON CONFLICT(scope, window) DO UPDATE SET count = count + 1
		 RETURNING count`,
		scope, window,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("consume rate budget: %w", err)
	}
	return count, nil
}

// --- activity log ---

// AppendActivity writes one immutable activity event. ID and CreatedAt
// are filled in when empty. Rows are never updated or deleted here.
func (s *SQLite) AppendActivity(ctx context.Context, event *domain.ActivityEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO activity_events (id, post_id, account_id, username, code, matched, sent_dm, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.PostID, event.AccountID, event.Username,
		string(event.Code), boolToInt(event.Matched), boolToInt(event.SentDM),
		string(details), event.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns the most recent activity events, newest first.
// An empty postID lists across all posts.
func (s *SQLite) ListActivity(ctx context.Context, postID string, limit int) ([]domain.ActivityEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, post_id, account_id, username, code, matched, sent_dm, details, created_at
	          FROM activity_events`
	args := []any{}
	if postID != "" {
		query += ` WHERE post_id = ?`
		args = append(args, postID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []domain.ActivityEvent
	for rows.Next() {
		var (
			ev      domain.ActivityEvent
			matched int
			sent    int
			details string
			created string
		)
		if err := rows.Scan(&ev.ID, &ev.PostID, &ev.AccountID, &ev.Username,
			&ev.Code, &matched, &sent, &details, &created); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		ev.Matched = matched != 0
		ev.SentDM = sent != 0
		if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
		ev.CreatedAt, _ = time.Parse(timeLayout, created)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return events, nil
}

// --- helpers ---

func marshalTriggers(list []string) (*string, error) {
	if list == nil {
		return nil, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("marshal triggers: %w", err)
	}
	s := string(data)
	return &s, nil
}

func unmarshalTriggers(raw sql.NullString) ([]string, error) {
	if !raw.Valid {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil, fmt.Errorf("unmarshal triggers: %w", err)
	}
	return list, nil
}

func modePtr(m *domain.TriggerMode) *string {
	if m == nil {
		return nil
	}
	s := string(*m)
	return &s
}

func nullMode(raw sql.NullString) *domain.TriggerMode {
	if !raw.Valid {
		return nil
	}
	m := domain.TriggerMode(raw.String)
	return &m
}

func boolPtr(b *bool) *int {
	if b == nil {
		return nil
	}
	n := boolToInt(*b)
	return &n
}

func nullBool(raw sql.NullInt64) *bool {
	if !raw.Valid {
		return nil
	}
	b := raw.Int64 != 0
	return &b
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
