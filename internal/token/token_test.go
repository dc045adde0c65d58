package token

import (
	"errors"
	"testing"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
)

var base = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newToken(t *testing.T) DownloadToken {
	t.Helper()
	tok, err := New(Params{DocumentID: "d1", IssuedTo: "u2", ExpiresAt: base.Add(time.Hour)}, base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tok
}

func TestGenerateSecret(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		s, err := GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret: %v", err)
		}
		if !ValidSecret(s) {
			t.Fatalf("malformed secret %q", s)
		}
		if seen[s] {
			t.Fatalf("duplicate secret %q", s)
		}
		seen[s] = true
	}
}

func TestNew(t *testing.T) {
	tok := newToken(t)
	if tok.ID == "" || tok.UsedAt != nil || tok.UpdatedAt != nil {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if len(tok.Secret) != SecretLength {
		t.Fatalf("secret length = %d", len(tok.Secret))
	}
	if !tok.CreatedAt.Equal(base) {
		t.Fatalf("created_at = %v", tok.CreatedAt)
	}
}

func TestNewRejects(t *testing.T) {
	cases := map[string]Params{
		"past expiry":   {DocumentID: "d1", IssuedTo: "u2", ExpiresAt: base.Add(-time.Minute)},
		"expiry equals": {DocumentID: "d1", IssuedTo: "u2", ExpiresAt: base},
		"no expiry":     {DocumentID: "d1", IssuedTo: "u2"},
		"no document":   {IssuedTo: "u2", ExpiresAt: base.Add(time.Hour)},
		"no recipient":  {DocumentID: "d1", ExpiresAt: base.Add(time.Hour)},
		"bad secret":    {Secret: "XYZ", DocumentID: "d1", IssuedTo: "u2", ExpiresAt: base.Add(time.Hour)},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(p, base); !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCheckRedeemableOrder(t *testing.T) {
	tok := newToken(t)
	used, err := tok.MarkUsed(base.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}

	cases := []struct {
		name      string
		tok       DownloadToken
		requester string
		now       time.Time
		want      error
	}{
		{"redeemable", tok, "u2", base.Add(time.Minute), nil},
		{"wrong recipient", tok, "u3", base.Add(time.Minute), apperrors.ErrInvalidRecipient},
		{"expired at boundary", tok, "u2", base.Add(time.Hour), apperrors.ErrExpired},
		{"expired wrong recipient", tok, "u3", base.Add(2 * time.Hour), apperrors.ErrExpired},
		{"used", used, "u2", base.Add(2 * time.Minute), apperrors.ErrAlreadyUsed},
		{"used and expired", used, "u2", base.Add(2 * time.Hour), apperrors.ErrAlreadyUsed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tok.CheckRedeemable(ids.UserID(tc.requester), tc.now)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMarkUsedOnce(t *testing.T) {
	tok := newToken(t)
	used, err := tok.MarkUsed(base.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if used.UsedAt == nil || !used.UsedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("used_at = %v", used.UsedAt)
	}
	if tok.UsedAt != nil {
		t.Fatal("original mutated")
	}
	if _, err := used.MarkUsed(base.Add(2 * time.Minute)); !errors.Is(err, apperrors.ErrAlreadyUsed) {
		t.Fatalf("second MarkUsed err = %v", err)
	}
	if used.StateAt(base.Add(2*time.Hour)) != StateUsed {
		t.Fatal("used must win over expired")
	}
}
