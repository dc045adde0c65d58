package sqlstore

import (
	"context"
	"strings"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/ids"
)

func (s *Store) RolesOf(ctx context.Context, userID ids.UserID) ([]string, error) {
	return queryAll(ctx, s, "list user roles",
		`select role_name from user_roles where user_id=? order by role_name`,
		func(sc scanner) (string, error) {
			var role string
			err := sc.Scan(&role)
			return role, err
		}, string(userID))
}

func (s *Store) AssignRole(ctx context.Context, userID ids.UserID, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return apperrors.Validation("role is required")
	}
	_, err := s.exec(ctx, "assign role",
		`insert into user_roles(user_id, role_name) values(?,?) on conflict do nothing`,
		string(userID), role)
	return err
}

func (s *Store) RemoveRole(ctx context.Context, userID ids.UserID, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	_, err := s.exec(ctx, "remove role",
		`delete from user_roles where user_id=? and role_name=?`, string(userID), role)
	return err
}
