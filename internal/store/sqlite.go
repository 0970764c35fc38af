package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aurlink/waitlist/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS waitlist_subscribers (
	id                 TEXT PRIMARY KEY,
	email              TEXT NOT NULL UNIQUE,
	referral_code      TEXT NOT NULL DEFAULT '',
	invite_code        TEXT NOT NULL UNIQUE,
	referral_count     INTEGER NOT NULL DEFAULT 0,
	source             TEXT NOT NULL DEFAULT '',
	position           INTEGER NOT NULL UNIQUE,
	confirmed          INTEGER NOT NULL DEFAULT 0,
	confirmation_token TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_waitlist_created_at ON waitlist_subscribers (created_at);
CREATE INDEX IF NOT EXISTS idx_waitlist_token ON waitlist_subscribers (confirmation_token);
`

const sqliteColumns = `id, email, referral_code, invite_code, referral_count,
	source, position, confirmed, confirmation_token, created_at`

// SQLiteStore is a single-file backend. It holds one connection, so
// statements against it never interleave.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("setting %s: %w", p, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("creating sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, sub *domain.Subscriber) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM waitlist_subscribers WHERE email = ?)", sub.Email,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking email: %w", err)
	}
	if exists {
		return ErrDuplicateEmail
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO waitlist_subscribers
			(id, email, referral_code, invite_code, source, position, confirmed, confirmation_token, created_at)
		SELECT ?, ?, ?, ?, ?, COALESCE(MAX(position), 0) + 1, ?, ?, ?
		FROM waitlist_subscribers
		RETURNING position
	`, sub.ID, sub.Email, sub.ReferralCode, sub.InviteCode, sub.Source,
		sub.Confirmed, sub.ConfirmationToken, sub.CreatedAt.UnixNano(),
	).Scan(&sub.Position)
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed: waitlist_subscribers.email"):
			return ErrDuplicateEmail
		case strings.Contains(msg, "UNIQUE constraint failed: waitlist_subscribers.invite_code"):
			return ErrDuplicateInviteCode
		}
		return fmt.Errorf("inserting subscriber: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	return s.getOne(ctx, "SELECT "+sqliteColumns+" FROM waitlist_subscribers WHERE email = ?", email)
}

func (s *SQLiteStore) GetByInviteCode(ctx context.Context, code string) (*domain.Subscriber, error) {
	return s.getOne(ctx, "SELECT "+sqliteColumns+" FROM waitlist_subscribers WHERE invite_code = ?", code)
}

func (s *SQLiteStore) Confirm(ctx context.Context, token string) (*domain.Subscriber, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, `
		UPDATE waitlist_subscribers SET confirmed = 1
		WHERE confirmation_token = ?
		RETURNING `+sqliteColumns, token)
}

func (s *SQLiteStore) getOne(ctx context.Context, query string, arg any) (*domain.Subscriber, error) {
	sub, err := scanSQLiteSubscriber(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying subscriber: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) IncrementReferralCount(ctx context.Context, inviteCode string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE waitlist_subscribers SET referral_count = referral_count + 1 WHERE invite_code = ?",
		inviteCode,
	)
	if err != nil {
		return fmt.Errorf("incrementing referral count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("incrementing referral count: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM waitlist_subscribers").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting subscribers: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM waitlist_subscribers WHERE created_at >= ?", since.UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting recent subscribers: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListByPosition(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteColumns+" FROM waitlist_subscribers ORDER BY position ASC")
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		sub, err := scanSQLiteSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSubscriber(row rowScanner) (*domain.Subscriber, error) {
	var (
		sub       domain.Subscriber
		createdAt int64
	)
	err := row.Scan(
		&sub.ID, &sub.Email, &sub.ReferralCode, &sub.InviteCode, &sub.ReferralCount,
		&sub.Source, &sub.Position, &sub.Confirmed, &sub.ConfirmationToken, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	sub.CreatedAt = time.Unix(0, createdAt).UTC()
	return &sub, nil
}
