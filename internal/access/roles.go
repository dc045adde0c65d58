package access

import (
	"context"
	"strings"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/audit"
	"docgate.io/internal/auth"
	"docgate.io/internal/ids"
	"docgate.io/internal/policy"
	"docgate.io/internal/rbac"
)

// GrantRoleAccess gives every holder of Role the actions. An empty
// DocumentID makes the policy global.
type GrantRoleAccess struct {
	Role       string
	DocumentID ids.DocumentID
	Actions    []string
	// Priority defaults to policy.DefaultPriority when zero.
	Priority int
}

type RevokeRoleAccess struct {
	Role       string
	DocumentID ids.DocumentID
}

// GrantRoleAccess creates or updates the role policy for the scope. Global
// policies need the admin role; document policies also accept the owner.
func (s *Service) GrantRoleAccess(ctx context.Context, requester auth.Principal, in GrantRoleAccess) (policy.AccessPolicy, error) {
	p, err := s.grantRole(ctx, requester, in)
	details := map[string]any{"role": in.Role, "actions": policy.NormalizeActions(in.Actions)}
	if err == nil {
		details["policy_id"] = string(p.ID)
		details["priority"] = p.Priority
	}
	s.recordChange(ctx, audit.AccessControlChange{
		EventType:  audit.EventRoleAccessGranted,
		ResourceID: string(in.DocumentID),
		Action:     rbac.ActionGrant,
		Actor:      requester.UserID,
		Target:     in.Role,
		Outcome:    outcomeOf(err),
		Details:    details,
		Err:        err,
	})
	return p, err
}

func (s *Service) grantRole(ctx context.Context, requester auth.Principal, in GrantRoleAccess) (policy.AccessPolicy, error) {
	role, docID, existing, err := s.rolePolicies(ctx, requester, rbac.ActionGrant, in.Role, in.DocumentID)
	if err != nil {
		return policy.AccessPolicy{}, err
	}
	now := s.clock()
	var p policy.AccessPolicy
	if current, ok := policy.Primary(existing); ok {
		if p, err = current.WithGrant(in.Actions, in.Priority, now); err != nil {
			return policy.AccessPolicy{}, err
		}
	} else {
		params := policy.Params{
			Name:         "global:role:" + role,
			Description:  "granted by " + string(requester.UserID),
			SubjectType:  policy.SubjectRole,
			RoleName:     &role,
			ResourceType: policy.ResourceGlobal,
			Actions:      in.Actions,
			Priority:     in.Priority,
			CreatedAt:    now,
		}
		if docID != "" {
			params.Name = "document:" + string(docID) + ":role:" + role
			params.ResourceType = policy.ResourceDocument
			params.ResourceID = &docID
		}
		if p, err = policy.New(params); err != nil {
			return policy.AccessPolicy{}, err
		}
	}
	if err := s.policies.Save(ctx, p); err != nil {
		return policy.AccessPolicy{}, err
	}
	return p, nil
}

// RevokeRoleAccess removes the role's policies for the scope. Revoking a
// grant that does not exist succeeds.
func (s *Service) RevokeRoleAccess(ctx context.Context, requester auth.Principal, in RevokeRoleAccess) error {
	n, err := s.revokeRole(ctx, requester, in)
	s.recordChange(ctx, audit.AccessControlChange{
		EventType:  audit.EventRoleAccessRevoked,
		ResourceID: string(in.DocumentID),
		Action:     rbac.ActionRevoke,
		Actor:      requester.UserID,
		Target:     in.Role,
		Outcome:    outcomeOf(err),
		Details:    map[string]any{"role": in.Role, "revoked": n},
		Err:        err,
	})
	return err
}

func (s *Service) revokeRole(ctx context.Context, requester auth.Principal, in RevokeRoleAccess) (int, error) {
	_, _, existing, err := s.rolePolicies(ctx, requester, rbac.ActionRevoke, in.Role, in.DocumentID)
	if err != nil {
		return 0, err
	}
	return s.deletePolicies(ctx, existing)
}

// rolePolicies authorizes requester for action on the scope and returns the
// normalized role, the document id (empty for global) and the role's
// existing policies on exactly that scope.
func (s *Service) rolePolicies(ctx context.Context, requester auth.Principal, action, rawRole string, rawDoc ids.DocumentID) (string, ids.DocumentID, []policy.AccessPolicy, error) {
	role := strings.ToLower(strings.TrimSpace(rawRole))
	if role == "" {
		return "", "", nil, apperrors.Validation("role is required")
	}
	var (
		docID ids.DocumentID
		rc    auth.ResourceContext
	)
	if strings.TrimSpace(string(rawDoc)) != "" {
		doc, err := s.findDocument(ctx, rawDoc)
		if err != nil {
			return "", "", nil, err
		}
		docID = doc.ID
		owner := doc.OwnerID
		rc.ResourceOwnerID = &owner
	}
	if !s.ac.Can(requester, auth.KindAccessPolicy, action, rc) {
		return "", "", nil, apperrors.AccessDenied(string(requester.UserID), auth.KindAccessPolicy, action)
	}
	all, err := s.policies.FindBySubject(ctx, policy.SubjectRole, role)
	if err != nil {
		return "", "", nil, err
	}
	var scoped []policy.AccessPolicy
	for _, p := range all {
		switch {
		case docID == "" && p.ResourceType == policy.ResourceGlobal:
			scoped = append(scoped, p)
		case docID != "" && p.ResourceID != nil && *p.ResourceID == docID:
			scoped = append(scoped, p)
		}
	}
	return role, docID, scoped, nil
}
