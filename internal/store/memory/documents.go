package memory

import (
	"context"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/document"
	"docgate.io/internal/ids"
	"docgate.io/internal/policy"
	"docgate.io/internal/token"
)

type DocumentRepository struct {
	s *Store
}

var _ document.Repository = (*DocumentRepository)(nil)

func (r *DocumentRepository) FindByID(_ context.Context, id ids.DocumentID) (document.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	data, ok := r.s.documents[id]
	if !ok {
		return document.Document{}, apperrors.NotFound("document", string(id))
	}
	return decode[document.Document](data)
}

func (r *DocumentRepository) Save(_ context.Context, d document.Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	data, err := encode(d)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.documents[d.ID] = data
	return nil
}

// Delete removes the document together with its policies and tokens,
// mirroring the ON DELETE CASCADE of the SQL schema.
func (r *DocumentRepository) Delete(_ context.Context, id ids.DocumentID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.documents[id]; !ok {
		return apperrors.NotFound("document", string(id))
	}
	delete(r.s.documents, id)
	if _, err := r.s.deletePoliciesLocked(func(p policy.AccessPolicy) bool {
		return p.ResourceID != nil && *p.ResourceID == id
	}); err != nil {
		return err
	}
	_, err := r.s.deleteTokensLocked(func(t token.DownloadToken) bool { return t.DocumentID == id })
	return err
}
