package models

import "time"

// AuthorizationKey is the singleton shared secret that gates closings.
type AuthorizationKey struct {
	AdminID     string     `db:"admin_id"`
	KeyVersion  string     `db:"key_version"`
	SecretHash  string     `db:"secret_hash"`
	SecretPlain string     `db:"secret_plain"`
	IsTemporary bool       `db:"is_temporary"`
	ExpiresAt   *time.Time `db:"expires_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// KeyStatus describes the current key without exposing the secret.
type KeyStatus struct {
	Configured  bool       `json:"configured"`
	IsTemporary bool       `json:"is_temporary"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Expired     bool       `json:"expired"`
	UseCount    int        `json:"use_count"`
	AdminID     string     `json:"admin_id,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}
