package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/document"
	"docgate.io/internal/ids"
)

var _ document.Repository = (*DocumentRepository)(nil)

type DocumentRepository struct{ s *Store }

func (r *DocumentRepository) FindByID(ctx context.Context, id ids.DocumentID) (document.Document, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.rebind(
		`select id, owner_id, workspace_id, title, created_at from documents where id=?`), string(id))
	var d document.Document
	if err := row.Scan(&d.ID, &d.OwnerID, &d.WorkspaceID, &d.Title, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return document.Document{}, apperrors.NotFound("document", string(id))
		}
		return document.Document{}, mapError("find document", err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

func (r *DocumentRepository) Save(ctx context.Context, d document.Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := r.s.exec(ctx, "save document", `
		insert into documents(id, owner_id, workspace_id, title, created_at)
		values (?,?,?,?,?)
		on conflict (id) do update
		set owner_id = excluded.owner_id,
		    workspace_id = excluded.workspace_id,
		    title = excluded.title
	`, string(d.ID), string(d.OwnerID), d.WorkspaceID, d.Title, d.CreatedAt.UTC())
	return err
}

// Delete removes the document; the schema cascades to its policies and tokens.
func (r *DocumentRepository) Delete(ctx context.Context, id ids.DocumentID) error {
	n, err := r.s.exec(ctx, "delete document", `delete from documents where id=?`, string(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound("document", string(id))
	}
	return nil
}
