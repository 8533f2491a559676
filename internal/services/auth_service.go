package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetpay/treasury/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// BlacklistPrefix prefixes revoked bearer tokens in Redis.
const BlacklistPrefix = "blacklist:"

// LoginResult is returned to a principal after a successful login.
type LoginResult struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	Principal models.Principal `json:"principal"`
}

// AuthService issues and revokes bearer tokens for users of the treasury.
type AuthService struct {
	db     *sql.DB
	redis  *redis.Client
	secret []byte
	expiry time.Duration
	deps   Dependencies
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, secret string, expiry time.Duration, deps Dependencies) *AuthService {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &AuthService{
		db:     db,
		redis:  redisClient,
		secret: []byte(secret),
		expiry: expiry,
		deps:   deps.withDefaults(),
	}
}

// Login checks the argon2 password of a user and signs a token carrying the
// user_id and role claims the auth middleware reads.
func (s *AuthService) Login(ctx context.Context, userID, password string) (*LoginResult, error) {
	var (
		role   models.Role
		hashed string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT role, password
		FROM users
		WHERE id = $1`, userID).Scan(&role, &hashed)
	if errors.Is(err, sql.ErrNoRows) {
		s.deps.Log.Info("login rejected", zap.String("user_id", userID), zap.String("reason", "unknown user"))
		return nil, ErrWrongPassword
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !verifyPassword(password, hashed) {
		s.deps.Log.Info("login rejected", zap.String("user_id", userID), zap.String("reason", "bad password"))
		return nil, ErrWrongPassword
	}
	if !role.Valid() {
		return nil, ErrForbidden
	}

	principal := models.Principal{ID: userID, Role: role}
	expiresAt := s.deps.Now().Add(s.expiry)
	token, err := generateJWT(principal, s.secret, s.deps.Now(), expiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	s.deps.Log.Info("login succeeded", zap.String("user_id", userID), zap.String("role", string(role)))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Principal: principal}, nil
}

// Logout blacklists the token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" || s.redis == nil {
		return nil
	}
	if err := s.redis.Set(ctx, BlacklistPrefix+token, "1", s.expiry).Err(); err != nil {
		s.deps.Log.Warn("failed to blacklist token", zap.Error(err))
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

func generateJWT(p models.Principal, secret []byte, issuedAt, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": p.ID,
		"role":    string(p.Role),
		"iat":     issuedAt.Unix(),
		"exp":     expiresAt.Unix(),
	})
	return token.SignedString(secret)
}
