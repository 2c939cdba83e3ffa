package model

import (
	"time"
)

// APIKeyPrefixLen is how many leading characters of a raw key are kept for display.
const APIKeyPrefixLen = 12

// APIKey is the credential an issuer (or a paired device) presents as a bearer token.
// Only the sha256 of the raw key is stored; revocation flips IsActive.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	KeyHash    string     `db:"key_hash" json:"-"` // Never expose hash
	KeyPrefix  string     `db:"key_prefix" json:"key_prefix"`
	OwnerEmail string     `db:"owner_email" json:"owner_email"`
	UserID     *string    `db:"user_id" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at"`
	IsActive   bool       `db:"is_active" json:"is_active"`
}

// IssueKeyRequest is the request body for POST /api/v1/keys
type IssueKeyRequest struct {
	Name       string `json:"name" validate:"required"`
	OwnerEmail string `json:"owner_email" validate:"required,email"`
}

// DashboardIssueKeyRequest is the request body for POST /api/v1/dashboard/keys
type DashboardIssueKeyRequest struct {
	Name string `json:"name"`
}

// IssuedKey is returned exactly once, when the raw key is still known.
type IssuedKey struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key"`
	KeyPrefix  string    `json:"key_prefix"`
	OwnerEmail string    `json:"owner_email"`
	CreatedAt  time.Time `json:"created_at"`
}

// RevokedKey is the response for a key revocation.
type RevokedKey struct {
	ID       string `json:"id"`
	IsActive bool   `json:"is_active"`
}
