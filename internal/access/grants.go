package access

import (
	"context"
	"errors"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/audit"
	"docgate.io/internal/auth"
	"docgate.io/internal/ids"
	"docgate.io/internal/policy"
	"docgate.io/internal/rbac"
)

type GrantAccess struct {
	DocumentID ids.DocumentID
	GrantedTo  ids.UserID
	Actions    []string
	// Priority defaults to policy.DefaultPriority when zero.
	Priority int
}

type RevokeAccess struct {
	DocumentID  ids.DocumentID
	RevokedFrom ids.UserID
}

type CheckAccess struct {
	DocumentID ids.DocumentID
	UserID     ids.UserID
	Action     string
}

// PurgeResult counts the rows removed by a cascade.
type PurgeResult struct {
	Policies int64
	Tokens   int64
}

// GrantAccess lets the document owner give a user actions on the document.
// An existing user policy on the same document is replaced, not stacked.
func (s *Service) GrantAccess(ctx context.Context, requester auth.Principal, in GrantAccess) (policy.AccessPolicy, error) {
	p, err := s.grant(ctx, requester, in)
	details := map[string]any{"actions": policy.NormalizeActions(in.Actions)}
	if err == nil {
		details["policy_id"] = string(p.ID)
		details["priority"] = p.Priority
	}
	s.recordChange(ctx, audit.AccessControlChange{
		EventType:  audit.EventAccessGranted,
		ResourceID: string(in.DocumentID),
		Action:     rbac.ActionGrant,
		Actor:      requester.UserID,
		Target:     string(in.GrantedTo),
		Outcome:    outcomeOf(err),
		Details:    details,
		Err:        err,
	})
	return p, err
}

func (s *Service) grant(ctx context.Context, requester auth.Principal, in GrantAccess) (policy.AccessPolicy, error) {
	grantee, err := ids.ParseUserID(string(in.GrantedTo))
	if err != nil {
		return policy.AccessPolicy{}, err
	}
	doc, err := s.findDocument(ctx, in.DocumentID)
	if err != nil {
		return policy.AccessPolicy{}, err
	}
	if err := s.ac.RequirePermission(ctx, requester, auth.KindAccessPolicy, rbac.ActionGrant, auth.ForDocument(doc.ID, doc.OwnerID)); err != nil {
		return policy.AccessPolicy{}, err
	}

	now := s.clock()
	existing, err := s.policies.FindByUserAndResource(ctx, grantee, doc.ID)
	if err != nil {
		return policy.AccessPolicy{}, err
	}
	var p policy.AccessPolicy
	if current, ok := policy.Primary(existing); ok {
		if p, err = current.WithGrant(in.Actions, in.Priority, now); err != nil {
			return policy.AccessPolicy{}, err
		}
	} else {
		docID := doc.ID
		p, err = policy.New(policy.Params{
			Name:         "document:" + string(doc.ID) + ":user:" + string(grantee),
			Description:  "granted by " + string(requester.UserID),
			SubjectType:  policy.SubjectUser,
			SubjectID:    &grantee,
			ResourceType: policy.ResourceDocument,
			ResourceID:   &docID,
			Actions:      in.Actions,
			Priority:     in.Priority,
			CreatedAt:    now,
		})
		if err != nil {
			return policy.AccessPolicy{}, err
		}
	}
	if err := s.policies.Save(ctx, p); err != nil {
		return policy.AccessPolicy{}, err
	}
	return p, nil
}

// RevokeAccess removes every user policy of RevokedFrom on the document.
// Revoking access that was never granted succeeds.
func (s *Service) RevokeAccess(ctx context.Context, requester auth.Principal, in RevokeAccess) error {
	n, err := s.revoke(ctx, requester, in)
	s.recordChange(ctx, audit.AccessControlChange{
		EventType:  audit.EventAccessRevoked,
		ResourceID: string(in.DocumentID),
		Action:     rbac.ActionRevoke,
		Actor:      requester.UserID,
		Target:     string(in.RevokedFrom),
		Outcome:    outcomeOf(err),
		Details:    map[string]any{"revoked": n},
		Err:        err,
	})
	return err
}

func (s *Service) revoke(ctx context.Context, requester auth.Principal, in RevokeAccess) (int, error) {
	target, err := ids.ParseUserID(string(in.RevokedFrom))
	if err != nil {
		return 0, err
	}
	doc, err := s.findDocument(ctx, in.DocumentID)
	if err != nil {
		return 0, err
	}
	if err := s.ac.RequirePermission(ctx, requester, auth.KindAccessPolicy, rbac.ActionRevoke, auth.ForDocument(doc.ID, doc.OwnerID)); err != nil {
		return 0, err
	}
	existing, err := s.policies.FindByUserAndResource(ctx, target, doc.ID)
	if err != nil {
		return 0, err
	}
	return s.deletePolicies(ctx, existing)
}

func (s *Service) deletePolicies(ctx context.Context, existing []policy.AccessPolicy) (int, error) {
	revoked := 0
	for _, p := range existing {
		if err := s.policies.Delete(ctx, p.ID); err != nil {
			// Lost a race with another revoke.
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

// CheckAccess answers whether UserID may perform Action on the document,
// honoring the owner override. A denial is a false result, not an error.
func (s *Service) CheckAccess(ctx context.Context, in CheckAccess) (bool, error) {
	allowed, err := s.check(ctx, in)
	outcome := outcomeOf(err)
	if err == nil && !allowed {
		outcome = audit.OutcomeDenied
	}
	s.recordChange(ctx, audit.AccessControlChange{
		EventType:  audit.EventAccessChecked,
		ResourceID: string(in.DocumentID),
		Action:     in.Action,
		Actor:      in.UserID,
		Target:     string(in.UserID),
		Outcome:    outcome,
		Details:    map[string]any{"allowed": allowed},
		Err:        err,
	})
	return allowed, err
}

func (s *Service) check(ctx context.Context, in CheckAccess) (bool, error) {
	user, err := ids.ParseUserID(string(in.UserID))
	if err != nil {
		return false, err
	}
	if in.Action == "" {
		return false, apperrors.Validation("action is required")
	}
	doc, err := s.findDocument(ctx, in.DocumentID)
	if err != nil {
		return false, err
	}
	err = s.ac.RequirePermission(ctx, auth.Principal{UserID: user}, auth.KindDocument, in.Action, auth.ForDocument(doc.ID, doc.OwnerID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperrors.ErrAccessDenied):
		return false, nil
	default:
		return false, err
	}
}

// ListDocumentPolicies returns the document's policies, primary first. The
// requester needs read access through the role table, ownership or the
// document's workspace.
func (s *Service) ListDocumentPolicies(ctx context.Context, requester auth.Principal, documentID ids.DocumentID) ([]policy.AccessPolicy, error) {
	policies, err := s.listPolicies(ctx, requester, documentID)
	s.recordChange(ctx, audit.AccessControlChange{
		EventType:  audit.EventPoliciesListed,
		ResourceID: string(documentID),
		Action:     rbac.ActionRead,
		Actor:      requester.UserID,
		Outcome:    outcomeOf(err),
		Details:    map[string]any{"count": len(policies)},
		Err:        err,
	})
	return policies, err
}

func (s *Service) listPolicies(ctx context.Context, requester auth.Principal, documentID ids.DocumentID) ([]policy.AccessPolicy, error) {
	doc, err := s.findDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	owner := doc.OwnerID
	rc := auth.ResourceContext{ResourceOwnerID: &owner}
	if doc.WorkspaceID != "" {
		ws := doc.WorkspaceID
		rc.WorkspaceID = &ws
	}
	if !s.ac.Can(requester, auth.KindDocument, rbac.ActionRead, rc) {
		return nil, apperrors.AccessDenied(string(requester.UserID), auth.KindDocument, rbac.ActionRead)
	}
	policies, err := s.policies.FindByResourceID(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	policy.SortByPriority(policies)
	return policies, nil
}

// DocumentDeleted removes the policies and tokens of a deleted document.
func (s *Service) DocumentDeleted(ctx context.Context, actor ids.UserID, documentID ids.DocumentID) (PurgeResult, error) {
	var res PurgeResult
	id, err := ids.ParseDocumentID(string(documentID))
	if err == nil {
		res.Policies, err = s.policies.DeleteByResourceID(ctx, id)
	}
	if err == nil {
		res.Tokens, err = s.tokens.DeleteByDocumentID(ctx, id)
	}
	s.recordChange(ctx, audit.AccessControlChange{
		EventType:  audit.EventDocumentPurged,
		ResourceID: string(documentID),
		Action:     rbac.ActionDelete,
		Actor:      actor,
		Outcome:    outcomeOf(err),
		Details:    map[string]any{"policies": res.Policies, "tokens": res.Tokens},
		Err:        err,
	})
	return res, err
}

// UserDeleted removes the user's direct policies and the tokens issued to them.
func (s *Service) UserDeleted(ctx context.Context, actor ids.UserID, userID ids.UserID) (PurgeResult, error) {
	var res PurgeResult
	id, err := ids.ParseUserID(string(userID))
	if err == nil {
		res.Policies, err = s.policies.DeleteByUserID(ctx, id)
	}
	if err == nil {
		res.Tokens, err = s.tokens.DeleteByIssuedTo(ctx, id)
	}
	s.recordChange(ctx, audit.AccessControlChange{
		EventType: audit.EventUserPurged,
		Action:    rbac.ActionDelete,
		Actor:     actor,
		Target:    string(userID),
		Outcome:   outcomeOf(err),
		Details:   map[string]any{"policies": res.Policies, "tokens": res.Tokens},
		Err:       err,
	})
	return res, err
}
