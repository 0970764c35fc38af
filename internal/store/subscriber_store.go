package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aurlink/waitlist/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// positionLockKey serialises position assignment across every writer
// sharing the database.
const positionLockKey = 727_001

const subscriberColumns = `id::text, email, COALESCE(referral_code, ''), invite_code, referral_count,
	COALESCE(source, ''), position, confirmed, COALESCE(confirmation_token::text, ''), created_at`

func (s *PostgresStore) Insert(ctx context.Context, sub *domain.Subscriber) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", positionLockKey); err != nil {
		return fmt.Errorf("acquiring position lock: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM waitlist_subscribers WHERE email = $1)", sub.Email,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking email: %w", err)
	}
	if exists {
		return ErrDuplicateEmail
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO waitlist_subscribers
			(id, email, referral_code, invite_code, source, position, confirmed, confirmation_token, created_at)
		SELECT $1, $2, NULLIF($3, ''), $4, NULLIF($5, ''),
			COALESCE(MAX(position), 0) + 1, $6, NULLIF($7, '')::uuid, $8
		FROM waitlist_subscribers
		RETURNING position
	`, sub.ID, sub.Email, sub.ReferralCode, sub.InviteCode, sub.Source,
		sub.Confirmed, sub.ConfirmationToken, sub.CreatedAt,
	).Scan(&sub.Position)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("inserting subscriber: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	return s.getOne(ctx, "SELECT "+subscriberColumns+" FROM waitlist_subscribers WHERE email = $1", email)
}

func (s *PostgresStore) GetByInviteCode(ctx context.Context, code string) (*domain.Subscriber, error) {
	return s.getOne(ctx, "SELECT "+subscriberColumns+" FROM waitlist_subscribers WHERE invite_code = $1", code)
}

func (s *PostgresStore) Confirm(ctx context.Context, token string) (*domain.Subscriber, error) {
	return s.getOne(ctx, `
		UPDATE waitlist_subscribers SET confirmed = TRUE
		WHERE confirmation_token::text = $1
		RETURNING `+subscriberColumns, token)
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg any) (*domain.Subscriber, error) {
	sub, err := scanSubscriber(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying subscriber: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) IncrementReferralCount(ctx context.Context, inviteCode string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE waitlist_subscribers SET referral_count = referral_count + 1
		WHERE invite_code = $1
	`, inviteCode)
	if err != nil {
		return fmt.Errorf("incrementing referral count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO referral_relationships (referrer_code) VALUES ($1)", inviteCode,
	); err != nil {
		return fmt.Errorf("recording referral: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM waitlist_subscribers").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting subscribers: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM waitlist_subscribers WHERE created_at >= $1", since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting recent subscribers: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListByPosition(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+subscriberColumns+" FROM waitlist_subscribers ORDER BY position ASC")
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := row.Scan(
		&sub.ID, &sub.Email, &sub.ReferralCode, &sub.InviteCode, &sub.ReferralCount,
		&sub.Source, &sub.Position, &sub.Confirmed, &sub.ConfirmationToken, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// uniqueViolation maps a unique-index failure on insert to the store error
// for that column. Other errors yield nil.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "idx_waitlist_email":
		return ErrDuplicateEmail
	case "idx_waitlist_invite_code":
		return ErrDuplicateInviteCode
	default:
		return fmt.Errorf("inserting subscriber: %s: %w", pgErr.ConstraintName, err)
	}
}
