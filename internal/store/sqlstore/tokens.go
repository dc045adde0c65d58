package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
	"docgate.io/internal/token"
)

var _ token.Repository = (*TokenRepository)(nil)

const tokenColumns = `id, token, document_id, issued_to, expires_at, used_at, created_at, updated_at`

type TokenRepository struct{ s *Store }

func scanToken(sc scanner) (token.DownloadToken, error) {
	var (
		t         token.DownloadToken
		usedAt    sql.NullTime
		updatedAt sql.NullTime
	)
	if err := sc.Scan(&t.ID, &t.Secret, &t.DocumentID, &t.IssuedTo, &t.ExpiresAt, &usedAt, &t.CreatedAt, &updatedAt); err != nil {
		return token.DownloadToken{}, err
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UsedAt = timePtr(usedAt)
	t.UpdatedAt = timePtr(updatedAt)
	return t, nil
}

func (r *TokenRepository) findOne(ctx context.Context, column, value string) (token.DownloadToken, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.rebind(`select `+tokenColumns+` from download_tokens where `+column+`=?`), value)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if column == "token" {
				return token.DownloadToken{}, apperrors.NotFound("download token", "")
			}
			return token.DownloadToken{}, apperrors.NotFound("download token", value)
		}
		return token.DownloadToken{}, mapError("find download token", err)
	}
	return t, nil
}

func (r *TokenRepository) FindByID(ctx context.Context, id ids.DownloadTokenID) (token.DownloadToken, error) {
	return r.findOne(ctx, "id", string(id))
}

// FindBySecret never echoes the secret into the returned error.
func (r *TokenRepository) FindBySecret(ctx context.Context, secret string) (token.DownloadToken, error) {
	return r.findOne(ctx, "token", secret)
}

func (r *TokenRepository) FindByDocumentID(ctx context.Context, documentID ids.DocumentID) ([]token.DownloadToken, error) {
	return queryAll(ctx, r.s, "find tokens by document",
		`select `+tokenColumns+` from download_tokens where document_id=? order by created_at, id`,
		scanToken, string(documentID))
}

func (r *TokenRepository) Save(ctx context.Context, t token.DownloadToken) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := r.s.exec(ctx, "save download token", `
		insert into download_tokens(`+tokenColumns+`)
		values (?,?,?,?,?,?,?,?)
	`, string(t.ID), t.Secret, string(t.DocumentID), string(t.IssuedTo), t.ExpiresAt.UTC(),
		nullTime(t.UsedAt), t.CreatedAt.UTC(), nullTime(t.UpdatedAt))
	return err
}

// MarkUsed is the redemption guard: the row changes only while used_at is
// still null, so concurrent callers see exactly one success.
func (r *TokenRepository) MarkUsed(ctx context.Context, id ids.DownloadTokenID, usedAt time.Time) error {
	at := usedAt.UTC()
	n, err := r.s.exec(ctx, "mark download token used",
		`update download_tokens set used_at = ?, updated_at = ? where id = ? and used_at is null`,
		at, at, string(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.AlreadyUsed(string(id))
	}
	return nil
}

func (r *TokenRepository) DeleteByDocumentID(ctx context.Context, documentID ids.DocumentID) (int64, error) {
	return r.s.exec(ctx, "delete tokens by document", `delete from download_tokens where document_id=?`, string(documentID))
}

func (r *TokenRepository) DeleteByIssuedTo(ctx context.Context, userID ids.UserID) (int64, error) {
	return r.s.exec(ctx, "delete tokens by recipient", `delete from download_tokens where issued_to=?`, string(userID))
}

func (r *TokenRepository) DeleteExpiredOrUsed(ctx context.Context, now time.Time) (int64, error) {
	return r.s.exec(ctx, "delete spent tokens",
		`delete from download_tokens where used_at is not null or expires_at <= ?`, now.UTC())
}
