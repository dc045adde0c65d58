package memory

import (
	"context"
	"strings"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
	"docgate.io/internal/policy"
)

type PolicyRepository struct {
	s *Store
}

var _ policy.Repository = (*PolicyRepository)(nil)

func (r *PolicyRepository) FindByID(_ context.Context, id ids.AccessPolicyID) (policy.AccessPolicy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	data, ok := r.s.policies[id]
	if !ok {
		return policy.AccessPolicy{}, apperrors.NotFound("access policy", string(id))
	}
	return decode[policy.AccessPolicy](data)
}

func (r *PolicyRepository) FindByResourceID(_ context.Context, resourceID ids.DocumentID) ([]policy.AccessPolicy, error) {
	return r.s.filterPolicies(func(p policy.AccessPolicy) bool {
		return p.ResourceID != nil && *p.ResourceID == resourceID
	})
}

func (r *PolicyRepository) FindBySubject(_ context.Context, subjectType policy.SubjectType, key string) ([]policy.AccessPolicy, error) {
	key = strings.TrimSpace(key)
	return r.s.filterPolicies(func(p policy.AccessPolicy) bool {
		if p.SubjectType != subjectType {
			return false
		}
		switch subjectType {
		case policy.SubjectUser:
			return p.SubjectID != nil && string(*p.SubjectID) == key
		case policy.SubjectRole:
			return p.RoleName != nil && *p.RoleName == key
		}
		return false
	})
}

func (r *PolicyRepository) FindByUserAndResource(_ context.Context, userID ids.UserID, resourceID ids.DocumentID) ([]policy.AccessPolicy, error) {
	return r.s.filterPolicies(func(p policy.AccessPolicy) bool {
		return p.SubjectType == policy.SubjectUser && p.SubjectID != nil && *p.SubjectID == userID &&
			p.ResourceID != nil && *p.ResourceID == resourceID
	})
}

func (r *PolicyRepository) HasPermission(ctx context.Context, resourceID ids.DocumentID, userID ids.UserID, roles []string, action string) (bool, error) {
	stored, err := r.s.RolesOf(ctx, userID)
	if err != nil {
		return false, err
	}
	roles = policy.NormalizeRoles(append(stored, roles...))
	active, err := r.s.filterPolicies(func(p policy.AccessPolicy) bool { return p.IsActive })
	if err != nil {
		return false, err
	}
	return policy.Grants(active, resourceID, userID, roles, action), nil
}

// Save inserts or replaces the policy keyed by id. Document policies must
// reference a known document.
func (r *PolicyRepository) Save(_ context.Context, p policy.AccessPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := encode(p)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ResourceID != nil {
		if _, ok := r.s.documents[*p.ResourceID]; !ok {
			return apperrors.NotFound("document", string(*p.ResourceID))
		}
	}
	r.s.policies[p.ID] = data
	return nil
}

func (r *PolicyRepository) Delete(_ context.Context, id ids.AccessPolicyID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.policies[id]; !ok {
		return apperrors.NotFound("access policy", string(id))
	}
	delete(r.s.policies, id)
	return nil
}

func (r *PolicyRepository) DeleteByResourceID(_ context.Context, resourceID ids.DocumentID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.deletePoliciesLocked(func(p policy.AccessPolicy) bool {
		return p.ResourceID != nil && *p.ResourceID == resourceID
	})
}

func (r *PolicyRepository) DeleteByUserID(_ context.Context, userID ids.UserID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.deletePoliciesLocked(func(p policy.AccessPolicy) bool {
		return p.SubjectType == policy.SubjectUser && p.SubjectID != nil && *p.SubjectID == userID
	})
}

func (s *Store) filterPolicies(keep func(policy.AccessPolicy) bool) ([]policy.AccessPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []policy.AccessPolicy
	for _, data := range s.policies {
		p, err := decode[policy.AccessPolicy](data)
		if err != nil {
			return nil, err
		}
		if keep(p) {
			out = append(out, p)
		}
	}
	policy.SortByPriority(out)
	return out, nil
}

func (s *Store) deletePoliciesLocked(match func(policy.AccessPolicy) bool) (int64, error) {
	var n int64
	for id, data := range s.policies {
		p, err := decode[policy.AccessPolicy](data)
		if err != nil {
			return n, err
		}
		if match(p) {
			delete(s.policies, id)
			n++
		}
	}
	return n, nil
}
