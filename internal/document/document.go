// Package document holds the document metadata the access checks consult.
// File bytes live elsewhere.
package document

import (
	"context"
	"strings"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
)

type Document struct {
	ID          ids.DocumentID `cbor:"1,keyasint" json:"id"`
	OwnerID     ids.UserID     `cbor:"2,keyasint" json:"owner_id"`
	WorkspaceID string         `cbor:"3,keyasint,omitempty" json:"workspace_id,omitempty"`
	Title       string         `cbor:"4,keyasint,omitempty" json:"title,omitempty"`
	CreatedAt   time.Time      `cbor:"5,keyasint" json:"created_at"`
}

func (d Document) Validate() error {
	if d.ID == "" {
		return apperrors.Validation("document id is required")
	}
	if strings.TrimSpace(string(d.OwnerID)) == "" {
		return apperrors.Validation("document owner is required")
	}
	return nil
}

// Repository resolves document metadata. FindByID returns an error
// matching apperrors.ErrNotFound for unknown ids.
type Repository interface {
	FindByID(ctx context.Context, id ids.DocumentID) (Document, error)
	Save(ctx context.Context, d Document) error
	Delete(ctx context.Context, id ids.DocumentID) error
}
