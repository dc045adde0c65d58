// Package token models single-use, time-limited download tokens.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
)

const (
	secretBytes = 32
	// SecretLength is the length of the hex-encoded bearer secret.
	SecretLength = secretBytes * 2
)

// State of a token at a given instant. Expired is derived from time and
// never stored.
type State string

const (
	StateUnused  State = "unused"
	StateUsed    State = "used"
	StateExpired State = "expired"
)

// DownloadToken is a bearer credential for one document and one recipient.
// Secret must never be written to logs or audit details.
type DownloadToken struct {
	ID         ids.DownloadTokenID `cbor:"1,keyasint" json:"id"`
	Secret     string              `cbor:"2,keyasint" json:"token"`
	DocumentID ids.DocumentID      `cbor:"3,keyasint" json:"document_id"`
	IssuedTo   ids.UserID          `cbor:"4,keyasint" json:"issued_to"`
	ExpiresAt  time.Time           `cbor:"5,keyasint" json:"expires_at"`
	UsedAt     *time.Time          `cbor:"6,keyasint,omitempty" json:"used_at,omitempty"`
	CreatedAt  time.Time           `cbor:"7,keyasint" json:"created_at"`
	UpdatedAt  *time.Time          `cbor:"8,keyasint,omitempty" json:"updated_at,omitempty"`
}

// GenerateSecret returns 32 random bytes as lowercase hex.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Params is the input to New.
type Params struct {
	ID         ids.DownloadTokenID
	Secret     string
	DocumentID ids.DocumentID
	IssuedTo   ids.UserID
	ExpiresAt  time.Time
}

// New builds an unused token. The expiry must lie strictly after now.
func New(p Params, now time.Time) (DownloadToken, error) {
	if p.ID == "" {
		p.ID = ids.NewDownloadTokenID()
	}
	if p.Secret == "" {
		secret, err := GenerateSecret()
		if err != nil {
			return DownloadToken{}, err
		}
		p.Secret = secret
	}
	t := DownloadToken{
		ID:         p.ID,
		Secret:     p.Secret,
		DocumentID: p.DocumentID,
		IssuedTo:   p.IssuedTo,
		ExpiresAt:  p.ExpiresAt.UTC(),
		CreatedAt:  now.UTC(),
	}
	if err := t.Validate(); err != nil {
		return DownloadToken{}, err
	}
	if !t.ExpiresAt.After(t.CreatedAt) {
		return DownloadToken{}, apperrors.Validation("expires_at must be in the future")
	}
	return t, nil
}

// Validate checks structural invariants. It does not consult the clock.
func (t DownloadToken) Validate() error {
	if t.ID == "" {
		return apperrors.Validation("download token id is required")
	}
	if !ValidSecret(t.Secret) {
		return apperrors.Validationf("token must be %d lowercase hex characters", SecretLength)
	}
	if t.DocumentID == "" {
		return apperrors.Validation("document_id is required")
	}
	if t.IssuedTo == "" {
		return apperrors.Validation("issued_to is required")
	}
	if t.ExpiresAt.IsZero() {
		return apperrors.Validation("expires_at is required")
	}
	return nil
}

// ValidSecret reports whether s has the shape produced by GenerateSecret.
func ValidSecret(s string) bool {
	if len(s) != SecretLength || strings.ToLower(s) != s {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// StateAt reports the token state at now. Used wins over expired.
func (t DownloadToken) StateAt(now time.Time) State {
	if t.UsedAt != nil {
		return StateUsed
	}
	if !now.Before(t.ExpiresAt) {
		return StateExpired
	}
	return StateUnused
}

// CheckRedeemable applies the redemption rules in order: already used,
// expired, wrong recipient.
func (t DownloadToken) CheckRedeemable(requester ids.UserID, now time.Time) error {
	switch t.StateAt(now) {
	case StateUsed:
		return apperrors.AlreadyUsed(string(t.ID))
	case StateExpired:
		return apperrors.Expired(string(t.ID))
	}
	if t.IssuedTo != requester {
		return apperrors.InvalidRecipient(string(t.ID))
	}
	return nil
}

// MarkUsed returns the redeemed copy. It fails if the token was already used.
func (t DownloadToken) MarkUsed(now time.Time) (DownloadToken, error) {
	if t.UsedAt != nil {
		return DownloadToken{}, apperrors.AlreadyUsed(string(t.ID))
	}
	used := now.UTC()
	next := t
	next.UsedAt = &used
	next.UpdatedAt = &used
	return next, nil
}
