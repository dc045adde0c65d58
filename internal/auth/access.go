package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
	"docgate.io/internal/obs"
	"docgate.io/internal/rbac"
)

// Resource kinds understood by the decision engine.
const (
	KindDocument      = rbac.ResourceDocument
	KindAccessPolicy  = rbac.ResourceAccessPolicy
	KindDownloadToken = rbac.ResourceDownloadToken
	KindWorkspace     = rbac.ResourceWorkspace
)

// ownerActions lists what an owner may do per resource kind without a policy.
var ownerActions = map[string]map[string]bool{
	KindDocument: {
		rbac.ActionCreate:  true,
		rbac.ActionRead:    true,
		rbac.ActionWrite:   true,
		rbac.ActionUpdate:  true,
		rbac.ActionDelete:  true,
		rbac.ActionManage:  true,
		rbac.ActionPublish: true,
		rbac.ActionUpload:  true,
		rbac.ActionGrant:   true,
		rbac.ActionRevoke:  true,
	},
	KindAccessPolicy: {
		rbac.ActionGrant:  true,
		rbac.ActionRevoke: true,
	},
}

// ResourceContext carries what the caller knows about the target resource.
type ResourceContext struct {
	ResourceOwnerID *ids.UserID
	ResourceID      *string
	WorkspaceID     *string
}

// ForDocument builds the context of a document owned by owner.
func ForDocument(id ids.DocumentID, owner ids.UserID) ResourceContext {
	raw := string(id)
	return ResourceContext{ResourceOwnerID: &owner, ResourceID: &raw}
}

// PermissionChecker answers explicit policy grants.
type PermissionChecker interface {
	HasPermission(ctx context.Context, resourceID ids.DocumentID, userID ids.UserID, roles []string, action string) (bool, error)
}

// AccessControl is the stateless decision engine. It is safe to share
// between goroutines.
type AccessControl struct {
	policies PermissionChecker
	roles    *rbac.Checker
	log      *slog.Logger
	metrics  *obs.Metrics
}

type Option func(*AccessControl)

func WithLogger(l *slog.Logger) Option {
	return func(a *AccessControl) {
		if l != nil {
			a.log = l
		}
	}
}

func WithMetrics(m *obs.Metrics) Option {
	return func(a *AccessControl) { a.metrics = m }
}

// WithRoleChecker replaces the default admin/editor/viewer table.
func WithRoleChecker(c *rbac.Checker) Option {
	return func(a *AccessControl) {
		if c != nil {
			a.roles = c
		}
	}
}

func NewAccessControl(policies PermissionChecker, opts ...Option) (*AccessControl, error) {
	if policies == nil {
		return nil, errors.New("permission checker is required")
	}
	a := &AccessControl{
		policies: policies,
		roles:    rbac.MustNew(rbac.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RequirePermission succeeds when user owns the resource and action is in
// the owner list for kind, or when an active policy grants action on the
// document named by rc.ResourceID. Otherwise it returns
// *apperrors.AccessDeniedError. Malformed ids yield a validation error and
// repository failures pass through unchanged.
func (a *AccessControl) RequirePermission(ctx context.Context, user Principal, kind, action string, rc ResourceContext) error {
	action = strings.ToLower(strings.TrimSpace(action))

	if rc.ResourceOwnerID != nil && user.UserID != "" && *rc.ResourceOwnerID == user.UserID && ownerActions[kind][action] {
		a.metrics.ObserveDecision(kind, a.actionLabel(action), obs.OutcomeSuccess)
		return nil
	}

	if kind == KindDocument && rc.ResourceID != nil {
		docID, err := ids.ParseDocumentID(*rc.ResourceID)
		if err != nil {
			return err
		}
		userID, err := ids.ParseUserID(string(user.UserID))
		if err != nil {
			return err
		}
		ok, err := a.policies.HasPermission(ctx, docID, userID, user.Roles, action)
		if err != nil {
			a.metrics.ObserveDecision(kind, a.actionLabel(action), obs.OutcomeFailure)
			return err
		}
		if ok {
			a.metrics.ObserveDecision(kind, a.actionLabel(action), obs.OutcomeSuccess)
			return nil
		}
	}

	a.metrics.ObserveDecision(kind, a.actionLabel(action), obs.OutcomeDenied)
	a.logger().WarnContext(ctx, "access denied",
		slog.String("user_id", string(user.UserID)),
		slog.String("resource_kind", kind),
		slog.String("action", action),
	)
	return apperrors.AccessDenied(string(user.UserID), kind, action)
}

// Can is the role-based check for kinds without a policy lookup. Admins and
// owners may do anything, workspace members may read, and everyone else
// falls back to the role table after synonym normalization.
func (a *AccessControl) Can(user Principal, kind, action string, rc ResourceContext) bool {
	if a.roles.IsSuper(user.Roles) {
		return true
	}
	if rc.ResourceOwnerID != nil && user.UserID != "" && *rc.ResourceOwnerID == user.UserID {
		return true
	}
	normalized := a.roles.Normalize(action)
	if rc.WorkspaceID != nil && user.WorkspaceID != "" && *rc.WorkspaceID == user.WorkspaceID && normalized == rbac.ActionRead {
		return true
	}
	return a.roles.Allowed(user.Roles, kind, normalized)
}

// actionLabel keeps the decision counter's action label bounded.
func (a *AccessControl) actionLabel(action string) string {
	if normalized := a.roles.Normalize(action); rbac.IsCanonicalAction(normalized) {
		return normalized
	}
	return obs.ActionOther
}

func (a *AccessControl) logger() *slog.Logger {
	if a.log != nil {
		return a.log
	}
	return obs.Logger()
}
