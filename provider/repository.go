package provider

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"expertflow/apperr"
	"expertflow/db"
)

// ErrNotFound signals the requested provider does not exist.
var ErrNotFound = apperr.NotFound("provider: not found")

// Repository provides access to provider profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Profiles are keyed by user; a provider who never edited their profile
// still resolves, with empty fields.
const profileSelect = `
	SELECT u.id, u.full_name,
	       COALESCE(p.headline, ''), COALESCE(p.bio, ''),
	       COALESCE(p.subjects, '{}'), COALESCE(p.languages, '{}'),
	       COALESCE(p.verified, false), COALESCE(p.updated_at, u.updated_at),
	       COALESCE(p.verification_status, 'UNVERIFIED'),
	       COALESCE(p.verification_message, ''), COALESCE(p.verification_note, ''),
	       p.verification_requested_at
	FROM users u
	LEFT JOIN provider_profiles p ON p.user_id = u.id
	WHERE u.role = 'provider'
`

// GetByID fetches a provider profile by user id.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	profile, err := scanProfile(r.pool.QueryRow(ctx, profileSelect+` AND u.id = $1`, id))
	if err != nil {
		if db.NoRow(err) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("provider: query by id: %w", err)
	}
	return profile, nil
}

// List fetches up to limit provider profiles ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return r.query(ctx, profileSelect+` ORDER BY u.full_name ASC LIMIT $1`, limit)
}

// ListByVerification returns providers in status, oldest request first.
func (r *Repository) ListByVerification(ctx context.Context, status VerificationStatus) ([]Profile, error) {
	return r.query(ctx, profileSelect+`
		AND COALESCE(p.verification_status, 'UNVERIFIED') = $1
		ORDER BY p.verification_requested_at ASC NULLS LAST, u.full_name ASC
		LIMIT 200`, string(status))
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]Profile, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("provider: list: %w", err)
	}
	defer rows.Close()

	profiles := []Profile{}
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("provider: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provider: iterate profiles: %w", err)
	}

	return profiles, nil
}

// Upsert writes the editable profile fields for userID. Editing a verified
// profile sends it back to UNVERIFIED.
func (r *Repository) Upsert(ctx context.Context, userID string, params UpdateParams) error {
	const query = `
		INSERT INTO provider_profiles (user_id, headline, bio, subjects, languages)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET headline = EXCLUDED.headline,
		    bio = EXCLUDED.bio,
		    subjects = EXCLUDED.subjects,
		    languages = EXCLUDED.languages,
		    verified = false,
		    verification_status = CASE provider_profiles.verification_status
		        WHEN 'VERIFIED' THEN 'UNVERIFIED'
		        ELSE provider_profiles.verification_status
		    END,
		    updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, userID, params.Headline, params.Bio, nonNil(params.Subjects), nonNil(params.Languages)); err != nil {
		return fmt.Errorf("provider: upsert profile: %w", err)
	}
	return nil
}

// MarkPending files a verification request for userID. It reports false
// when the profile is already verified.
func (r *Repository) MarkPending(ctx context.Context, tx pgx.Tx, userID, message string) (bool, error) {
	const query = `
		INSERT INTO provider_profiles (user_id, verification_status, verification_message, verification_requested_at)
		VALUES ($1, 'PENDING', $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET verification_status = 'PENDING',
		    verification_message = EXCLUDED.verification_message,
		    verification_note = '',
		    verification_requested_at = now(),
		    updated_at = now()
		WHERE provider_profiles.verification_status <> 'VERIFIED'
	`
	tag, err := tx.Exec(ctx, query, userID, message)
	if err != nil {
		return false, fmt.Errorf("provider: request verification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Decide records an admin decision on a pending request. It reports false
// when userID has no pending request.
func (r *Repository) Decide(ctx context.Context, tx pgx.Tx, userID string, status VerificationStatus, note string) (bool, error) {
	const query = `
		UPDATE provider_profiles
		SET verification_status = $2,
		    verified = ($2 = 'VERIFIED'),
		    verification_note = $3,
		    updated_at = now()
		WHERE user_id = $1 AND verification_status = 'PENDING'
	`
	tag, err := tx.Exec(ctx, query, userID, string(status), note)
	if err != nil {
		if db.IsInvalidTextRepresentation(err) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("provider: decide verification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.UserID, &p.FullName, &p.Headline, &p.Bio, &p.Subjects, &p.Languages, &p.Verified, &p.UpdatedAt,
		&p.Verification.Status, &p.Verification.Message, &p.Verification.AdminNote, &p.Verification.RequestedAt,
	)
	return p, err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
