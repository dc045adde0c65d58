// Package policy models access policies: persisted grants of actions to a
// user or role over one document or the global scope.
package policy

import (
	"slices"
	"sort"
	"strings"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
)

type SubjectType string

const (
	SubjectUser SubjectType = "user"
	SubjectRole SubjectType = "role"
)

type ResourceType string

const (
	ResourceDocument ResourceType = "document"
	ResourceGlobal   ResourceType = "global"
)

const (
	MinPriority     = 1
	MaxPriority     = 100
	DefaultPriority = 50
)

// AccessPolicy is an immutable value. Mutators return a modified copy.
type AccessPolicy struct {
	ID           ids.AccessPolicyID `cbor:"1,keyasint" json:"id"`
	Name         string             `cbor:"2,keyasint" json:"name"`
	Description  string             `cbor:"3,keyasint" json:"description,omitempty"`
	SubjectType  SubjectType        `cbor:"4,keyasint" json:"subject_type"`
	SubjectID    *ids.UserID        `cbor:"5,keyasint,omitempty" json:"subject_id,omitempty"`
	RoleName     *string            `cbor:"6,keyasint,omitempty" json:"role_name,omitempty"`
	ResourceType ResourceType       `cbor:"7,keyasint" json:"resource_type"`
	ResourceID   *ids.DocumentID    `cbor:"8,keyasint,omitempty" json:"resource_id,omitempty"`
	Actions      []string           `cbor:"9,keyasint" json:"actions"`
	Priority     int                `cbor:"10,keyasint" json:"priority"`
	IsActive     bool               `cbor:"11,keyasint" json:"is_active"`
	CreatedAt    time.Time          `cbor:"12,keyasint" json:"created_at"`
	UpdatedAt    *time.Time         `cbor:"13,keyasint,omitempty" json:"updated_at,omitempty"`
}

// Params is the input to New. ID and CreatedAt are generated when zero.
type Params struct {
	ID           ids.AccessPolicyID
	Name         string
	Description  string
	SubjectType  SubjectType
	SubjectID    *ids.UserID
	RoleName     *string
	ResourceType ResourceType
	ResourceID   *ids.DocumentID
	Actions      []string
	Priority     int
	Inactive     bool
	CreatedAt    time.Time
}

// New validates p and builds a policy.
func New(p Params) (AccessPolicy, error) {
	if p.ID == "" {
		p.ID = ids.NewAccessPolicyID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Priority == 0 {
		p.Priority = DefaultPriority
	}
	if p.RoleName != nil {
		role := strings.ToLower(strings.TrimSpace(*p.RoleName))
		p.RoleName = &role
	}
	pol := AccessPolicy{
		ID:           p.ID,
		Name:         strings.TrimSpace(p.Name),
		Description:  strings.TrimSpace(p.Description),
		SubjectType:  p.SubjectType,
		SubjectID:    p.SubjectID,
		RoleName:     p.RoleName,
		ResourceType: p.ResourceType,
		ResourceID:   p.ResourceID,
		Actions:      NormalizeActions(p.Actions),
		Priority:     p.Priority,
		IsActive:     !p.Inactive,
		CreatedAt:    p.CreatedAt.UTC(),
	}
	if err := pol.Validate(); err != nil {
		return AccessPolicy{}, err
	}
	return pol, nil
}

// Validate checks the subject/resource pairing, actions and priority bounds.
func (p AccessPolicy) Validate() error {
	if p.ID == "" {
		return apperrors.Validation("access policy id is required")
	}
	switch p.SubjectType {
	case SubjectUser:
		if p.SubjectID == nil || strings.TrimSpace(string(*p.SubjectID)) == "" {
			return apperrors.Validation("user policies require subject_id")
		}
		if p.RoleName != nil {
			return apperrors.Validation("user policies must not carry role_name")
		}
	case SubjectRole:
		if p.SubjectID != nil {
			return apperrors.Validation("role policies must not carry subject_id")
		}
		if p.RoleName == nil || strings.TrimSpace(*p.RoleName) == "" {
			return apperrors.Validation("role policies require role_name")
		}
	default:
		return apperrors.Validationf("unsupported subject_type %q", p.SubjectType)
	}
	switch p.ResourceType {
	case ResourceDocument:
		if p.ResourceID == nil || strings.TrimSpace(string(*p.ResourceID)) == "" {
			return apperrors.Validation("document policies require resource_id")
		}
	case ResourceGlobal:
		if p.ResourceID != nil {
			return apperrors.Validation("global policies must not carry resource_id")
		}
	default:
		return apperrors.Validationf("unsupported resource_type %q", p.ResourceType)
	}
	if len(p.Actions) == 0 {
		return apperrors.Validation("at least one action is required")
	}
	if p.Priority < MinPriority || p.Priority > MaxPriority {
		return apperrors.Validationf("priority must be between %d and %d", MinPriority, MaxPriority)
	}
	return nil
}

// Allows reports whether the policy is active and lists action.
func (p AccessPolicy) Allows(action string) bool {
	if !p.IsActive {
		return false
	}
	return slices.Contains(p.Actions, strings.ToLower(strings.TrimSpace(action)))
}

// AppliesTo reports whether the policy targets the given document, either
// directly or through the global scope.
func (p AccessPolicy) AppliesTo(doc ids.DocumentID) bool {
	switch p.ResourceType {
	case ResourceGlobal:
		return true
	case ResourceDocument:
		return p.ResourceID != nil && *p.ResourceID == doc
	}
	return false
}

// MatchesSubject reports whether the policy names user directly or one of roles.
func (p AccessPolicy) MatchesSubject(user ids.UserID, roles []string) bool {
	switch p.SubjectType {
	case SubjectUser:
		return p.SubjectID != nil && *p.SubjectID == user
	case SubjectRole:
		return p.RoleName != nil && slices.Contains(roles, *p.RoleName)
	}
	return false
}

// WithGrant replaces actions and priority.
func (p AccessPolicy) WithGrant(actions []string, priority int, now time.Time) (AccessPolicy, error) {
	next := p.clone()
	next.Actions = NormalizeActions(actions)
	if priority != 0 {
		next.Priority = priority
	}
	next.IsActive = true
	t := now.UTC()
	next.UpdatedAt = &t
	if err := next.Validate(); err != nil {
		return AccessPolicy{}, err
	}
	return next, nil
}

// Deactivate keeps the record for history but removes it from evaluation.
func (p AccessPolicy) Deactivate(now time.Time) AccessPolicy {
	next := p.clone()
	next.IsActive = false
	t := now.UTC()
	next.UpdatedAt = &t
	return next
}

func (p AccessPolicy) clone() AccessPolicy {
	next := p
	next.Actions = slices.Clone(p.Actions)
	return next
}

// NormalizeActions lower-cases, trims, dedupes and sorts actions.
func NormalizeActions(actions []string) []string { return normalizeNames(actions) }

// NormalizeRoles applies the same rules to role names.
func NormalizeRoles(roles []string) []string { return normalizeNames(roles) }

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, a := range names {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" || slices.Contains(out, a) {
			continue
		}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Primary returns the policy evaluated first: lowest priority, then oldest.
// Priority never changes whether access is granted.
func Primary(policies []AccessPolicy) (AccessPolicy, bool) {
	if len(policies) == 0 {
		return AccessPolicy{}, false
	}
	sorted := slices.Clone(policies)
	SortByPriority(sorted)
	return sorted[0], true
}

// SortByPriority orders policies by priority, creation time and id.
func SortByPriority(policies []AccessPolicy) {
	sort.SliceStable(policies, func(i, j int) bool {
		a, b := policies[i], policies[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Grants evaluates the has-permission rule over an in-memory policy set.
func Grants(policies []AccessPolicy, doc ids.DocumentID, user ids.UserID, roles []string, action string) bool {
	for _, p := range policies {
		if p.AppliesTo(doc) && p.MatchesSubject(user, roles) && p.Allows(action) {
			return true
		}
	}
	return false
}
