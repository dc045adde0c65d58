package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
	"docgate.io/internal/policy"
)

var _ policy.Repository = (*PolicyRepository)(nil)

const policyColumns = `id, name, description, subject_type, subject_id, role_name, resource_type, resource_id, actions, priority, is_active, created_at, updated_at`

const policyOrder = ` order by priority, created_at, id`

type PolicyRepository struct{ s *Store }

func scanPolicy(sc scanner) (policy.AccessPolicy, error) {
	var (
		p          policy.AccessPolicy
		subjectID  sql.NullString
		roleName   sql.NullString
		resourceID sql.NullString
		actions    []byte
		updatedAt  sql.NullTime
	)
	if err := sc.Scan(&p.ID, &p.Name, &p.Description, &p.SubjectType, &subjectID, &roleName,
		&p.ResourceType, &resourceID, &actions, &p.Priority, &p.IsActive, &p.CreatedAt, &updatedAt); err != nil {
		return policy.AccessPolicy{}, err
	}
	if subjectID.Valid {
		u := ids.UserID(subjectID.String)
		p.SubjectID = &u
	}
	if roleName.Valid {
		p.RoleName = &roleName.String
	}
	if resourceID.Valid {
		d := ids.DocumentID(resourceID.String)
		p.ResourceID = &d
	}
	if err := json.Unmarshal(actions, &p.Actions); err != nil {
		return policy.AccessPolicy{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = timePtr(updatedAt)
	return p, nil
}

func (r *PolicyRepository) FindByID(ctx context.Context, id ids.AccessPolicyID) (policy.AccessPolicy, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.rebind(`select `+policyColumns+` from access_policies where id=?`), string(id))
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return policy.AccessPolicy{}, apperrors.NotFound("access policy", string(id))
		}
		return policy.AccessPolicy{}, mapError("find access policy", err)
	}
	return p, nil
}

func (r *PolicyRepository) FindByResourceID(ctx context.Context, resourceID ids.DocumentID) ([]policy.AccessPolicy, error) {
	return queryAll(ctx, r.s, "find policies by resource",
		`select `+policyColumns+` from access_policies where resource_id=?`+policyOrder,
		scanPolicy, string(resourceID))
}

func (r *PolicyRepository) FindBySubject(ctx context.Context, subjectType policy.SubjectType, key string) ([]policy.AccessPolicy, error) {
	var column string
	switch subjectType {
	case policy.SubjectUser:
		column = "subject_id"
	case policy.SubjectRole:
		column = "role_name"
	default:
		return nil, apperrors.Validationf("unsupported subject_type %q", subjectType)
	}
	return queryAll(ctx, r.s, "find policies by subject",
		`select `+policyColumns+` from access_policies where subject_type=? and `+column+`=?`+policyOrder,
		scanPolicy, string(subjectType), key)
}

func (r *PolicyRepository) FindByUserAndResource(ctx context.Context, userID ids.UserID, resourceID ids.DocumentID) ([]policy.AccessPolicy, error) {
	return queryAll(ctx, r.s, "find policies by user and resource",
		`select `+policyColumns+` from access_policies where subject_type='user' and subject_id=? and resource_id=?`+policyOrder,
		scanPolicy, string(userID), string(resourceID))
}

// HasPermission loads the active candidate policies for the user, directly,
// through user_roles or through the given roles, on the document or the
// global scope, and checks their action lists.
func (r *PolicyRepository) HasPermission(ctx context.Context, resourceID ids.DocumentID, userID ids.UserID, roles []string, action string) (bool, error) {
	args := []any{string(userID), string(userID)}
	var given string
	if roles = policy.NormalizeRoles(roles); len(roles) > 0 {
		given = ` or role_name in (?` + strings.Repeat(`,?`, len(roles)-1) + `)`
		for _, role := range roles {
			args = append(args, role)
		}
	}
	args = append(args, string(resourceID))
	candidates, err := queryAll(ctx, r.s, "has permission", `
		select `+policyColumns+` from access_policies
		where is_active = true
		  and ((subject_type = 'user' and subject_id = ?)
		    or (subject_type = 'role' and (role_name in (select role_name from user_roles where user_id = ?)`+given+`)))
		  and ((resource_type = 'document' and resource_id = ?) or resource_type = 'global')
	`, scanPolicy, args...)
	if err != nil {
		return false, err
	}
	for _, p := range candidates {
		if p.Allows(action) {
			return true, nil
		}
	}
	return false, nil
}

func (r *PolicyRepository) Save(ctx context.Context, p policy.AccessPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	actions, err := json.Marshal(p.Actions)
	if err != nil {
		return apperrors.Database("encode actions", err)
	}
	var subjectID, roleName, resourceID sql.NullString
	if p.SubjectID != nil {
		subjectID = sql.NullString{String: string(*p.SubjectID), Valid: true}
	}
	if p.RoleName != nil {
		roleName = sql.NullString{String: *p.RoleName, Valid: true}
	}
	if p.ResourceID != nil {
		resourceID = sql.NullString{String: string(*p.ResourceID), Valid: true}
	}
	_, err = r.s.exec(ctx, "save access policy", `
		insert into access_policies(`+policyColumns+`)
		values (?,?,?,?,?,?,?,?,?,?,?,?,?)
		on conflict (id) do update
		set name = excluded.name,
		    description = excluded.description,
		    actions = excluded.actions,
		    priority = excluded.priority,
		    is_active = excluded.is_active,
		    updated_at = excluded.updated_at
	`, string(p.ID), p.Name, p.Description, string(p.SubjectType), subjectID, roleName,
		string(p.ResourceType), resourceID, string(actions), p.Priority, p.IsActive,
		p.CreatedAt.UTC(), nullTime(p.UpdatedAt))
	return err
}

func (r *PolicyRepository) Delete(ctx context.Context, id ids.AccessPolicyID) error {
	n, err := r.s.exec(ctx, "delete access policy", `delete from access_policies where id=?`, string(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound("access policy", string(id))
	}
	return nil
}

func (r *PolicyRepository) DeleteByResourceID(ctx context.Context, resourceID ids.DocumentID) (int64, error) {
	return r.s.exec(ctx, "delete policies by resource", `delete from access_policies where resource_id=?`, string(resourceID))
}

func (r *PolicyRepository) DeleteByUserID(ctx context.Context, userID ids.UserID) (int64, error) {
	return r.s.exec(ctx, "delete policies by user",
		`delete from access_policies where subject_type='user' and subject_id=?`, string(userID))
}
