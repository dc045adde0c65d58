package policy

import (
	"context"

	"docgate.io/internal/ids"
)

// Repository persists access policies. Lookups of a missing policy return
// an error matching apperrors.ErrNotFound.
type Repository interface {
	FindByID(ctx context.Context, id ids.AccessPolicyID) (AccessPolicy, error)
	FindByResourceID(ctx context.Context, resourceID ids.DocumentID) ([]AccessPolicy, error)
	// FindBySubject takes a user id for SubjectUser and a role name for SubjectRole.
	FindBySubject(ctx context.Context, subjectType SubjectType, key string) ([]AccessPolicy, error)
	FindByUserAndResource(ctx context.Context, userID ids.UserID, resourceID ids.DocumentID) ([]AccessPolicy, error)
	// HasPermission matches role policies against roles merged with the
	// roles stored for the user. Inactive policies and priority are ignored.
	HasPermission(ctx context.Context, resourceID ids.DocumentID, userID ids.UserID, roles []string, action string) (bool, error)
	Save(ctx context.Context, p AccessPolicy) error
	Delete(ctx context.Context, id ids.AccessPolicyID) error
	DeleteByResourceID(ctx context.Context, resourceID ids.DocumentID) (int64, error)
	DeleteByUserID(ctx context.Context, userID ids.UserID) (int64, error)
}

// RoleDirectory resolves role memberships used by role-subject policies.
type RoleDirectory interface {
	RolesOf(ctx context.Context, userID ids.UserID) ([]string, error)
	AssignRole(ctx context.Context, userID ids.UserID, role string) error
	RemoveRole(ctx context.Context, userID ids.UserID, role string) error
}
