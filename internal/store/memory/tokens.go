package memory

import (
	"context"
	"sort"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
	"docgate.io/internal/token"
)

type TokenRepository struct {
	s *Store
}

var _ token.Repository = (*TokenRepository)(nil)

func (r *TokenRepository) FindByID(_ context.Context, id ids.DownloadTokenID) (token.DownloadToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	data, ok := r.s.tokens[id]
	if !ok {
		return token.DownloadToken{}, apperrors.NotFound("download token", string(id))
	}
	return decode[token.DownloadToken](data)
}

func (r *TokenRepository) FindBySecret(ctx context.Context, secret string) (token.DownloadToken, error) {
	r.s.mu.RLock()
	id, ok := r.s.secrets[secret]
	r.s.mu.RUnlock()
	if !ok {
		return token.DownloadToken{}, apperrors.NotFound("download token", "by secret")
	}
	return r.FindByID(ctx, id)
}

func (r *TokenRepository) FindByDocumentID(_ context.Context, documentID ids.DocumentID) ([]token.DownloadToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []token.DownloadToken
	for _, data := range r.s.tokens {
		t, err := decode[token.DownloadToken](data)
		if err != nil {
			return nil, err
		}
		if t.DocumentID == documentID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *TokenRepository) Save(_ context.Context, t token.DownloadToken) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := encode(t)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.documents[t.DocumentID]; !ok {
		return apperrors.NotFound("document", string(t.DocumentID))
	}
	if _, dup := r.s.tokens[t.ID]; dup {
		return apperrors.Conflict("download token id already exists", nil)
	}
	if _, dup := r.s.secrets[t.Secret]; dup {
		return apperrors.Conflict("download token secret already exists", nil)
	}
	r.s.tokens[t.ID] = data
	r.s.secrets[t.Secret] = t.ID
	return nil
}

// MarkUsed is a compare-and-set under the store lock: only the first caller
// observes an unused token.
func (r *TokenRepository) MarkUsed(_ context.Context, id ids.DownloadTokenID, usedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	data, ok := r.s.tokens[id]
	if !ok {
		return apperrors.AlreadyUsed(string(id))
	}
	t, err := decode[token.DownloadToken](data)
	if err != nil {
		return err
	}
	used, err := t.MarkUsed(usedAt)
	if err != nil {
		return err
	}
	next, err := encode(used)
	if err != nil {
		return err
	}
	r.s.tokens[id] = next
	return nil
}

func (r *TokenRepository) DeleteByDocumentID(_ context.Context, documentID ids.DocumentID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.deleteTokensLocked(func(t token.DownloadToken) bool { return t.DocumentID == documentID })
}

func (r *TokenRepository) DeleteByIssuedTo(_ context.Context, userID ids.UserID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.deleteTokensLocked(func(t token.DownloadToken) bool { return t.IssuedTo == userID })
}

func (r *TokenRepository) DeleteExpiredOrUsed(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.deleteTokensLocked(func(t token.DownloadToken) bool { return t.StateAt(now) != token.StateUnused })
}

func (s *Store) deleteTokensLocked(match func(token.DownloadToken) bool) (int64, error) {
	var n int64
	for id, data := range s.tokens {
		t, err := decode[token.DownloadToken](data)
		if err != nil {
			return n, err
		}
		if match(t) {
			delete(s.tokens, id)
			delete(s.secrets, t.Secret)
			n++
		}
	}
	return n, nil
}
