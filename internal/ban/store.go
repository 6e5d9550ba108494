// Package ban provides PostgreSQL-backed ban records keyed by the pair of
// network address and browser fingerprint. Records carry an optional expiry
// (NULL means permanent), a reason, and a counter of remedial ad views.
//
// The store surfaces database errors to callers; the authentication gate
// maps them to "not banned" (fail-open) so a database outage never locks
// every user out.
package ban

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PermanentMinutes is the remaining-duration value reported for bans with no
// expiry.
const PermanentMinutes = 999999

// Status is the result of a ban check.
type Status struct {
	Banned           bool
	RemainingMinutes int
	Reason           string
	AdsWatched       int
}

// Store manages ban records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a ban store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Check looks up the ban record for (ip, fingerprint). A missing record, or
// a record whose expiry has passed, yields a zero Status with Banned=false.
func (s *Store) Check(ctx context.Context, ip, fingerprint string) (Status, error) {
	const query = `
		SELECT ban_expires, ban_reason, ads_watched
		FROM banned_ips
		WHERE ip_address = $1 AND browser_fingerprint = $2`

	var (
		expires    sql.NullTime
		reason     sql.NullString
		adsWatched int
	)
	err := s.db.QueryRowContext(ctx, query, ip, fingerprint).Scan(&expires, &reason, &adsWatched)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("ban: check: %w", err)
	}

	if !expires.Valid {
		return Status{
			Banned:           true,
			RemainingMinutes: PermanentMinutes,
			Reason:           reason.String,
			AdsWatched:       adsWatched,
		}, nil
	}

	remaining := time.Until(expires.Time)
	if remaining <= 0 {
		return Status{}, nil
	}

	return Status{
		Banned:           true,
		RemainingMinutes: int(remaining.Minutes()),
		Reason:           reason.String,
		AdsWatched:       adsWatched,
	}, nil
}

// Ban inserts or replaces the ban record for (ip, fingerprint). A
// non-positive duration creates a permanent ban.
func (s *Store) Ban(ctx context.Context, ip, fingerprint, reason string, duration time.Duration) error {
	const query = `
		INSERT INTO banned_ips (ip_address, browser_fingerprint, ban_reason, ban_expires)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip_address, browser_fingerprint)
		DO UPDATE SET ban_reason = EXCLUDED.ban_reason, ban_expires = EXCLUDED.ban_expires`

	var expires interface{}
	if duration > 0 {
		expires = time.Now().Add(duration)
	}

	if _, err := s.db.ExecContext(ctx, query, ip, fingerprint, reason, expires); err != nil {
		return fmt.Errorf("ban: insert: %w", err)
	}
	return nil
}

// Unban removes the ban record for (ip, fingerprint), if any.
func (s *Store) Unban(ctx context.Context, ip, fingerprint string) error {
	const query = `DELETE FROM banned_ips WHERE ip_address = $1 AND browser_fingerprint = $2`
	if _, err := s.db.ExecContext(ctx, query, ip, fingerprint); err != nil {
		return fmt.Errorf("ban: delete: %w", err)
	}
	return nil
}

// RecordAdWatched increments the remedial-action counter on an existing ban
// record and returns the new value.
func (s *Store) RecordAdWatched(ctx context.Context, ip, fingerprint string) (int, error) {
	const query = `
		UPDATE banned_ips
		SET ads_watched = ads_watched + 1
		WHERE ip_address = $1 AND browser_fingerprint = $2
		RETURNING ads_watched`

	var count int
	err := s.db.QueryRowContext(ctx, query, ip, fingerprint).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ban: record ad watched: %w", err)
	}
	return count, nil
}
