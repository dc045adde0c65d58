package token

import (
	"context"
	"time"

	"docgate.io/internal/ids"
)

// Repository persists download tokens.
type Repository interface {
	FindByID(ctx context.Context, id ids.DownloadTokenID) (DownloadToken, error)
	FindBySecret(ctx context.Context, secret string) (DownloadToken, error)
	FindByDocumentID(ctx context.Context, documentID ids.DocumentID) ([]DownloadToken, error)
	// Save inserts a new token. A duplicate secret or id yields apperrors.ErrConflict.
	Save(ctx context.Context, t DownloadToken) error
	// MarkUsed sets used_at only while it is still unset, atomically. When
	// no row changes it returns an error matching apperrors.ErrAlreadyUsed.
	MarkUsed(ctx context.Context, id ids.DownloadTokenID, usedAt time.Time) error
	DeleteByDocumentID(ctx context.Context, documentID ids.DocumentID) (int64, error)
	DeleteByIssuedTo(ctx context.Context, userID ids.UserID) (int64, error)
	// DeleteExpiredOrUsed removes tokens that can no longer be redeemed at now.
	DeleteExpiredOrUsed(ctx context.Context, now time.Time) (int64, error)
}
