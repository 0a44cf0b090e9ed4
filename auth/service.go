package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"expertflow/apperr"
	"expertflow/db"
	"expertflow/logging"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = apperr.Authorization("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = apperr.Validation("auth: password must be at least 8 characters")
	// ErrInvalidToken covers malformed, expired and foreign tokens.
	ErrInvalidToken = apperr.Authorization("auth: invalid token")
)

const minPasswordLength = 8

// OutboxWriter persists integration events within a transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Options configures token lifetimes.
type Options struct {
	JWTSecret     string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	ResetTopic    string
}

// Service handles authentication business logic.
type Service struct {
	pool      db.TxBeginner
	repo      Repository
	outbox    OutboxWriter
	log       logging.Logger
	jwtSecret []byte
	tokenTTL  time.Duration
	resetTTL  time.Duration
	topic     string
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// NewService creates a new authentication service.
func NewService(pool db.TxBeginner, repo Repository, outbox OutboxWriter, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = time.Hour
	}
	if opts.ResetTopic == "" {
		opts.ResetTopic = "auth.password_reset_requested"
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		outbox:    outbox,
		log:       logging.Nop(),
		jwtSecret: []byte(opts.JWTSecret),
		tokenTTL:  opts.TokenTTL,
		resetTTL:  opts.ResetTokenTTL,
		topic:     opts.ResetTopic,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(log logging.Logger) *Service {
	s.log = log
	return s
}

// Register creates a new requester or provider account. Admin accounts are
// provisioned out of band.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	email := strings.TrimSpace(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" {
		return nil, apperr.Validation("auth: email and full_name are required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperr.Validation("auth: email %q is malformed", email)
	}

	role := Role(strings.ToLower(strings.TrimSpace(string(req.Role))))
	if role == "" {
		role = RoleRequester
	}
	if role != RoleRequester && role != RoleProvider {
		return nil, apperr.Validation("auth: role %q cannot self-register", role)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(passwordHash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return &user, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.generateToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a JWT token and returns the caller it names.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Identity{}, fmt.Errorf("%w: role %q", ErrInvalidToken, roleStr)
	}
	return Identity{UserID: userID, Role: role}, nil
}

// RequestPasswordReset issues a single-use reset token and hands it to the
// notification outbox. Unknown emails succeed silently so the endpoint does
// not reveal which addresses are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	token, err := newResetToken()
	if err != nil {
		return fmt.Errorf("auth: generate reset token: %w", err)
	}
	expiresAt := s.now().Add(s.resetTTL)

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.repo.CreateResetToken(ctx, tx, user.ID, hashToken(token), expiresAt); err != nil {
			return err
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.Enqueue(ctx, tx, s.topic, map[string]any{
			"user_id":    user.ID,
			"email":      user.Email,
			"token":      token,
			"expires_at": expiresAt.UTC(),
		})
	})
}

// ResetPassword consumes a reset token and replaces the user's password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" {
		return ErrResetTokenInvalid
	}
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		userID, err := s.repo.ConsumeResetToken(ctx, tx, hashToken(token), s.now())
		if err != nil {
			return err
		}
		if err := s.repo.UpdatePassword(ctx, tx, userID, string(passwordHash)); err != nil {
			return err
		}
		s.log.Info(ctx, "password reset", "user_id", userID)
		return nil
	})
}

// generateToken creates a JWT token for the user.
func (s *Service) generateToken(userID string, role Role) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     expiresAt.Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

func newResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func isValidRole(role Role) bool {
	switch role {
	case RoleRequester, RoleProvider, RoleAdmin:
		return true
	default:
		return false
	}
}
