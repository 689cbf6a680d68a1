package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"mdbin/pkg/domain"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		title TEXT,
		content TEXT NOT NULL,
		password_hash TEXT,
		created_at DATETIME NOT NULL,
		expires_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_created_at ON pastes(created_at);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		paste_id TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_paste_id ON reports(paste_id);
	`
	_, err = s.db.Exec(query)
	return err
}

func (s *SQLite) CreatePaste(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, title, content, password_hash, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, nullStr(p.Title), p.Content, nullIfEmpty(p.PasswordHash), p.CreatedAt, nullTime(p.ExpiresAt),
	)
	s.recordError(err)
	return errors.Wrap(err, "db create paste")
}

// GetPaste returns the full record, password hash included; access
// decisions belong to the caller. A row whose expiry has passed is
// deleted on the spot and reported as not found, so expired content is
// never handed out, not even to this store's own callers.
func (s *SQLite) GetPaste(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, title, content, password_hash, created_at, expires_at
	FROM pastes WHERE id = ?
	`
	var p domain.Paste
	var title, pwHash sql.NullString
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(
		&p.ID, &title, &p.Content, &pwHash, &p.CreatedAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get paste")
	}
	if title.Valid {
		p.Title = &title.String
	}
	if pwHash.Valid {
		p.PasswordHash = pwHash.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		p.ExpiresAt = &t
	}
	if p.Expired(time.Now()) {
		if err := s.DeletePaste(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrPasteNotFound
	}
	return &p, nil
}

// DeletePaste is idempotent; deleting an absent id is not an error,
// which also makes racing lazy-expiration deletes safe.
func (s *SQLite) DeletePaste(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `DELETE FROM pastes WHERE id = ?`
	_, err := s.db.ExecContext(queryCtx, q, id)
	s.recordError(err)
	return errors.Wrap(err, "db delete paste")
}

// PasteExists treats expired rows as absent without deleting them;
// deletion stays on the read and sweep paths.
func (s *SQLite) PasteExists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	q := `SELECT 1 FROM pastes WHERE id = ? AND (expires_at IS NULL OR expires_at > ?) LIMIT 1`
	err := s.db.QueryRowContext(queryCtx, q, id, time.Now()).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "db paste exists")
	}
	return exists == 1, nil
}

// ListPastes returns summaries newest first. Content length is computed
// in SQL; bodies never leave the database for a listing. Expired rows
// are filtered out rather than swept, keeping this a pure read.
func (s *SQLite) ListPastes(ctx context.Context) ([]domain.PasteSummary, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, title, password_hash IS NOT NULL, length(content), created_at, expires_at
	FROM pastes
	WHERE expires_at IS NULL OR expires_at > ?
	ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(queryCtx, q, time.Now())
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list pastes")
	}
	defer rows.Close()
	summaries := make([]domain.PasteSummary, 0)
	for rows.Next() {
		var sum domain.PasteSummary
		var title sql.NullString
		var expiresAt sql.NullTime
		if err := rows.Scan(&sum.ID, &title, &sum.Protected, &sum.ContentLength, &sum.CreatedAt, &expiresAt); err != nil {
			return nil, errors.Wrap(err, "scan paste summary")
		}
		if title.Valid {
			t := title.String
			sum.Title = &t
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			sum.ExpiresAt = &t
		}
		summaries = append(summaries, sum)
	}
	return summaries, errors.Wrap(rows.Err(), "iterate paste summaries")
}

func (s *SQLite) InsertReport(ctx context.Context, pasteID string, reason *string, createdAt time.Time) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `INSERT INTO reports (paste_id, reason, created_at) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(queryCtx, q, pasteID, nullStr(reason), createdAt)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "db insert report")
	}
	id, err := res.LastInsertId()
	return id, errors.Wrap(err, "report insert id")
}

// ListReports joins each report with its paste's title when the paste
// still exists. Orphaned reports (paste deleted or expired away after
// filing) are listed all the same, flagged via PasteExists.
func (s *SQLite) ListReports(ctx context.Context) ([]domain.ReportView, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT r.id, r.paste_id, r.reason, r.created_at, p.title, p.id IS NOT NULL
	FROM reports r
	LEFT JOIN pastes p ON p.id = r.paste_id
	ORDER BY r.created_at DESC, r.id DESC
	`
	rows, err := s.db.QueryContext(queryCtx, q)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list reports")
	}
	defer rows.Close()
	views := make([]domain.ReportView, 0)
	for rows.Next() {
		var v domain.ReportView
		var reason, title sql.NullString
		if err := rows.Scan(&v.ReportID, &v.PasteID, &reason, &v.ReportedAt, &title, &v.PasteExists); err != nil {
			return nil, errors.Wrap(err, "scan report view")
		}
		if reason.Valid {
			r := reason.String
			v.Reason = &r
		}
		if title.Valid {
			t := title.String
			v.PasteTitle = &t
		}
		views = append(views, v)
	}
	return views, errors.Wrap(rows.Err(), "iterate report views")
}

func (s *SQLite) DismissReport(ctx context.Context, reportID int64) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `DELETE FROM reports WHERE id = ?`
	_, err := s.db.ExecContext(queryCtx, q, reportID)
	s.recordError(err)
	return errors.Wrap(err, "db dismiss report")
}

// DeletePasteAndReports removes a paste and everything filed against it
// in one transaction, so no reader ever observes the report pointing at
// a half-deleted paste or vice versa.
func (s *SQLite) DeletePasteAndReports(ctx context.Context, pasteID string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return errors.Wrap(err, "begin cascade delete")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(queryCtx, `DELETE FROM reports WHERE paste_id = ?`, pasteID); err != nil {
		s.recordError(err)
		return errors.Wrap(err, "cascade delete reports")
	}
	if _, err := tx.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, pasteID); err != nil {
		s.recordError(err)
		return errors.Wrap(err, "cascade delete paste")
	}
	err = tx.Commit()
	s.recordError(err)
	return errors.Wrap(err, "commit cascade delete")
}

// CleanupExpired is an optimization only; correctness rests on the
// lazy expiration enforced at every read. Expired pastes are removed
// in batches to keep write transactions short.
func (s *SQLite) CleanupExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM pastes
			WHERE id IN (
				SELECT id FROM pastes
				WHERE expires_at IS NOT NULL AND expires_at < ?
				LIMIT 100
			)
		`, time.Now())
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "cleanup batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return totalDeleted, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
