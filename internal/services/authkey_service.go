package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/fleetpay/treasury/internal/events"
	"github.com/fleetpay/treasury/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var secretPattern = regexp.MustCompile(`^[0-9]{4,6}$`)

type SetKeyRequest struct {
	AdminID     string
	Password    string
	Secret      string
	IsTemporary bool
	ExpiresAt   *time.Time
}

// AuthKeyService manages the single shared secret that gates closings. A
// temporary key can be used once per principal and never after it expires.
type AuthKeyService struct {
	db       *sql.DB
	hashCost int
	deps     Dependencies
}

func NewAuthKeyService(db *sql.DB, hashCost int, deps Dependencies) *AuthKeyService {
	if hashCost < bcrypt.MinCost || hashCost > bcrypt.MaxCost {
		hashCost = bcrypt.DefaultCost
	}
	return &AuthKeyService{db: db, hashCost: hashCost, deps: deps.withDefaults()}
}

// SetKey replaces the key. Every recorded use of the previous key is dropped.
func (s *AuthKeyService) SetKey(ctx context.Context, req SetKeyRequest) (*models.KeyStatus, error) {
	if err := s.authenticateAdmin(ctx, req.AdminID, req.Password); err != nil {
		return nil, err
	}
	if !secretPattern.MatchString(req.Secret) {
		return nil, ErrBadSecretFormat
	}

	now := s.deps.Now()
	expiresAt := req.ExpiresAt
	if req.IsTemporary {
		if expiresAt == nil || !expiresAt.After(now) {
			return nil, ErrMissingExpiry
		}
	} else {
		expiresAt = nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO authorization_keys (id, admin_id, key_version, secret_hash, secret_plain, is_temporary, expires_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			admin_id = EXCLUDED.admin_id,
			key_version = EXCLUDED.key_version,
			secret_hash = EXCLUDED.secret_hash,
			secret_plain = EXCLUDED.secret_plain,
			is_temporary = EXCLUDED.is_temporary,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		req.AdminID, uuid.NewString(), string(hash), req.Secret, req.IsTemporary, expiresAt, now)
	if err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM authorization_key_uses`); err != nil {
		return nil, fmt.Errorf("reset key uses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	s.deps.Audit.LogOperation("AUTHKEY_SET", req.AdminID, "authorization_key", map[string]string{
		"temporary": fmt.Sprint(req.IsTemporary),
	})
	s.deps.publish(ctx, events.AuthKeyChanged, events.AuthKeyEvent{
		AdminID:     req.AdminID,
		Action:      "set",
		IsTemporary: req.IsTemporary,
		ExpiresAt:   expiresAt,
		Timestamp:   now,
	})

	return &models.KeyStatus{
		Configured:  true,
		IsTemporary: req.IsTemporary,
		ExpiresAt:   expiresAt,
		AdminID:     req.AdminID,
		UpdatedAt:   &now,
	}, nil
}

// Verify checks a candidate secret for a principal in its own transaction.
func (s *AuthKeyService) Verify(ctx context.Context, candidate, principalID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if err := s.VerifyTx(ctx, tx, candidate, principalID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// VerifyTx runs the verification inside a caller transaction. A temporary key
// use recorded here rolls back with the caller.
func (s *AuthKeyService) VerifyTx(ctx context.Context, tx *sql.Tx, candidate, principalID string) error {
	err := s.verifyTx(ctx, tx, candidate, principalID)
	s.deps.Metrics.RecordKeyVerification(verificationOutcome(err))
	return err
}

func (s *AuthKeyService) verifyTx(ctx context.Context, tx *sql.Tx, candidate, principalID string) error {
	var (
		version     string
		hash        string
		isTemporary bool
		expiresAt   *time.Time
	)
	// FOR SHARE keeps a concurrent SetKey from swapping the key mid-check.
	err := tx.QueryRowContext(ctx, `
		SELECT key_version, secret_hash, is_temporary, expires_at
		FROM authorization_keys
		WHERE id = 1 AND secret_hash IS NOT NULL
		FOR SHARE`).Scan(&version, &hash, &isTemporary, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoKeyConfigured
	}
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	now := s.deps.Now()
	if isTemporary {
		if expiresAt != nil && now.After(*expiresAt) {
			return ErrKeyExpired
		}

		var used bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM authorization_key_uses WHERE key_version = $1 AND principal_id = $2
			)`, version, principalID).Scan(&used)
		if err != nil {
			return fmt.Errorf("check key use: %w", err)
		}
		if used {
			return ErrAlreadyUsedByPrincipal
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)); err != nil {
		return ErrWrongSecret
	}

	if !isTemporary {
		return nil
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO authorization_key_uses (key_version, principal_id, used_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		version, principalID, now)
	if err != nil {
		return fmt.Errorf("record key use: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return ErrAlreadyUsedByPrincipal
	}
	return nil
}

func verificationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoKeyConfigured):
		return "no_key"
	case errors.Is(err, ErrKeyExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyUsedByPrincipal):
		return "already_used"
	case errors.Is(err, ErrWrongSecret):
		return "wrong_secret"
	default:
		return "error"
	}
}

// Status describes the current key without the secret.
func (s *AuthKeyService) Status(ctx context.Context) (*models.KeyStatus, error) {
	var (
		status    models.KeyStatus
		version   string
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT admin_id, key_version, is_temporary, expires_at, updated_at
		FROM authorization_keys
		WHERE id = 1 AND secret_hash IS NOT NULL`).
		Scan(&status.AdminID, &version, &status.IsTemporary, &status.ExpiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.KeyStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load key status: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM authorization_key_uses WHERE key_version = $1`, version).Scan(&status.UseCount); err != nil {
		return nil, fmt.Errorf("count key uses: %w", err)
	}

	status.Configured = true
	status.UpdatedAt = &updatedAt
	status.Expired = status.IsTemporary && status.ExpiresAt != nil && s.deps.Now().After(*status.ExpiresAt)
	return &status, nil
}

// Reveal returns the plaintext mirror to a re-authenticated administrator.
func (s *AuthKeyService) Reveal(ctx context.Context, adminID, password string) (string, error) {
	if err := s.authenticateAdmin(ctx, adminID, password); err != nil {
		return "", err
	}

	var secret string
	err := s.db.QueryRowContext(ctx, `
		SELECT secret_plain
		FROM authorization_keys
		WHERE id = 1 AND secret_hash IS NOT NULL`).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoKeyConfigured
	}
	if err != nil {
		return "", fmt.Errorf("load key: %w", err)
	}

	s.deps.Audit.LogOperation("AUTHKEY_REVEALED", adminID, "authorization_key", nil)
	return secret, nil
}

// Clear destroys the key and every recorded use.
func (s *AuthKeyService) Clear(ctx context.Context, adminID, password string) error {
	if err := s.authenticateAdmin(ctx, adminID, password); err != nil {
		return err
	}

	now := s.deps.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE authorization_keys
		SET key_version = NULL, secret_hash = NULL, secret_plain = NULL, is_temporary = FALSE, expires_at = NULL, updated_at = $1
		WHERE id = 1`, now); err != nil {
		return fmt.Errorf("clear key: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM authorization_key_uses`); err != nil {
		return fmt.Errorf("reset key uses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	s.deps.Audit.LogOperation("AUTHKEY_CLEARED", adminID, "authorization_key", nil)
	s.deps.publish(ctx, events.AuthKeyChanged, events.AuthKeyEvent{
		AdminID:   adminID,
		Action:    "cleared",
		Timestamp: now,
	})
	return nil
}

// SweepExpired retires every temporary key past its expiry. Running it twice
// changes nothing the second time.
func (s *AuthKeyService) SweepExpired(ctx context.Context) (int, error) {
	now := s.deps.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM authorization_key_uses
		WHERE key_version IN (
			SELECT key_version FROM authorization_keys WHERE is_temporary AND expires_at < $1
		)`, now); err != nil {
		return 0, fmt.Errorf("delete expired key uses: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE authorization_keys
		SET key_version = NULL, secret_hash = NULL, secret_plain = NULL, is_temporary = FALSE, expires_at = NULL, updated_at = $1
		WHERE is_temporary AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("retire expired keys: %w", err)
	}
	swept, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	if swept > 0 {
		s.deps.Log.Info("expired authorization keys retired", zap.Int64("count", swept))
		s.deps.Audit.LogOperation("AUTHKEY_EXPIRED", "system", "authorization_key", map[string]string{
			"count": fmt.Sprint(swept),
		})
	}
	s.deps.Metrics.RecordKeysSwept(int(swept))
	return int(swept), nil
}

func (s *AuthKeyService) authenticateAdmin(ctx context.Context, adminID, password string) error {
	var hashed string
	err := s.db.QueryRowContext(ctx, `
		SELECT password FROM users WHERE id = $1 AND role = $2`,
		adminID, models.RoleAdmin).Scan(&hashed)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrWrongPassword
	}
	if err != nil {
		return fmt.Errorf("load admin credentials: %w", err)
	}
	if !verifyPassword(password, hashed) {
		s.deps.Log.Warn("admin re-authentication failed", zap.String("admin_id", adminID))
		return ErrWrongPassword
	}
	return nil
}
