package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"expertflow/apperr"
	"expertflow/db"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = apperr.NotFound("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = apperr.Conflict("auth: email already exists")
	// ErrResetTokenInvalid covers unknown, used and expired reset tokens alike.
	ErrResetTokenInvalid = apperr.Validation("auth: reset token is invalid or expired")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	CreateResetToken(ctx context.Context, tx pgx.Tx, userID, tokenHash string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, tx pgx.Tx, tokenHash string, now time.Time) (string, error)
	UpdatePassword(ctx context.Context, tx pgx.Tx, userID, passwordHash string) error
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, full_name, password_hash, role, created_at, updated_at`

// CreateUser inserts a new user with hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (email, full_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL, strings.TrimSpace(params.Email), params.FullName, params.PasswordHash, params.Role))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email address, case-insensitively.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by email: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if db.NoRow(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}

	return user, nil
}

func (r *PGRepository) CreateResetToken(ctx context.Context, tx pgx.Tx, userID, tokenHash string, expiresAt time.Time) error {
	const q = `INSERT INTO password_resets (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, q, tokenHash, userID, expiresAt); err != nil {
		return fmt.Errorf("auth: create reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken marks a live token used and returns its user.
func (r *PGRepository) ConsumeResetToken(ctx context.Context, tx pgx.Tx, tokenHash string, now time.Time) (string, error) {
	const q = `
		UPDATE password_resets
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id
	`
	var userID string
	if err := tx.QueryRow(ctx, q, tokenHash, now).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrResetTokenInvalid
		}
		return "", fmt.Errorf("auth: consume reset token: %w", err)
	}
	return userID, nil
}

func (r *PGRepository) UpdatePassword(ctx context.Context, tx pgx.Tx, userID, passwordHash string) error {
	tag, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
