package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docgate.io/internal/access"
	"docgate.io/internal/app"
	"docgate.io/internal/apperrors"
	"docgate.io/internal/audit"
	"docgate.io/internal/auth"
	"docgate.io/internal/document"
	"docgate.io/internal/ids"
	"docgate.io/internal/rbac"
)

// withApp runs fn against a ready App. The command context carries a
// fresh audit request id and, when --as is set, the acting principal.
func withApp(fn func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer finish(a)
		parent := cmd.Context()
		defer cmd.SetContext(parent)
		ctx := audit.WithRequestID(parent, audit.NewRequestID())
		if actingUser != "" {
			p, err := principal(ctx, a)
			if err != nil {
				return err
			}
			ctx = auth.ContextWithPrincipal(ctx, p)
		}
		cmd.SetContext(ctx)
		return fn(cmd, a, args)
	}
}

func acting(ctx context.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, errors.New("--as is required")
	}
	return p, nil
}

// documents command
var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Register and delete document metadata",
}

var documentsAddCmd = &cobra.Command{
	Use:   "add [document-id]",
	Short: "Register a document; the id is generated when omitted",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		id := ids.NewDocumentID()
		if len(args) == 1 {
			var err error
			if id, err = ids.ParseDocumentID(args[0]); err != nil {
				return err
			}
		}
		owner, _ := cmd.Flags().GetString("owner")
		ws, _ := cmd.Flags().GetString("workspace-id")
		title, _ := cmd.Flags().GetString("title")
		ownerID, err := ids.ParseUserID(owner)
		if err != nil {
			return fmt.Errorf("--owner: %w", err)
		}
		d := document.Document{ID: id, OwnerID: ownerID, WorkspaceID: ws, Title: title, CreatedAt: time.Now().UTC()}
		if err := d.Validate(); err != nil {
			return err
		}
		if err := a.Backend.Documents.Save(cmd.Context(), d); err != nil {
			return err
		}
		return printJSON(d)
	}),
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document with its policies and tokens",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		ctx := cmd.Context()
		p, err := acting(ctx)
		if err != nil {
			return err
		}
		id, err := ids.ParseDocumentID(args[0])
		if err != nil {
			return err
		}
		doc, err := a.Backend.Documents.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := a.AccessControl.RequirePermission(ctx, p, auth.KindDocument, rbac.ActionDelete, auth.ForDocument(doc.ID, doc.OwnerID)); err != nil {
			return err
		}
		// Purge first: SQL backends cascade on the document row.
		res, err := a.Access.DocumentDeleted(ctx, p.UserID, id)
		if err != nil {
			return err
		}
		if err := a.Backend.Documents.Delete(ctx, id); err != nil {
			return err
		}
		return printJSON(res)
	}),
}

// roles command
var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage stored user roles",
}

func roleAction(use, short string, run func(a *app.App, cmd *cobra.Command, user ids.UserID, role string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id> <role>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			p, err := acting(cmd.Context())
			if err != nil {
				return err
			}
			if !p.HasRole(string(rbac.RoleAdmin)) {
				return apperrors.AccessDenied(string(p.UserID), "role", use)
			}
			user, err := ids.ParseUserID(args[0])
			if err != nil {
				return err
			}
			if err := run(a, cmd, user, args[1]); err != nil {
				return err
			}
			roles, err := a.Backend.Roles.RolesOf(cmd.Context(), user)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"user_id": user, "roles": roles})
		}),
	}
}

var rolesAssignCmd = roleAction("assign", "Assign a role to a user", func(a *app.App, cmd *cobra.Command, user ids.UserID, role string) error {
	return a.Backend.Roles.AssignRole(cmd.Context(), user, role)
})

var rolesRemoveCmd = roleAction("remove", "Remove a role from a user", func(a *app.App, cmd *cobra.Command, user ids.UserID, role string) error {
	return a.Backend.Roles.RemoveRole(cmd.Context(), user, role)
})

// access command
var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Grant, revoke and check document access",
}

var accessGrantCmd = &cobra.Command{
	Use:   "grant <document-id> <user-id>",
	Short: "Grant a user actions on a document",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		p, err := acting(cmd.Context())
		if err != nil {
			return err
		}
		actions, _ := cmd.Flags().GetStringSlice("actions")
		priority, _ := cmd.Flags().GetInt("priority")
		pol, err := a.Access.GrantAccess(cmd.Context(), p, access.GrantAccess{
			DocumentID: ids.DocumentID(args[0]),
			GrantedTo:  ids.UserID(args[1]),
			Actions:    actions,
			Priority:   priority,
		})
		if err != nil {
			return err
		}
		return printJSON(pol)
	}),
}

var accessGrantRoleCmd = &cobra.Command{
	Use:   "grant-role <role> [document-id]",
	Short: "Grant a role actions on a document, or on every document when none is given",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		p, err := acting(cmd.Context())
		if err != nil {
			return err
		}
		actions, _ := cmd.Flags().GetStringSlice("actions")
		priority, _ := cmd.Flags().GetInt("priority")
		in := access.GrantRoleAccess{Role: args[0], Actions: actions, Priority: priority}
		if len(args) == 2 {
			in.DocumentID = ids.DocumentID(args[1])
		}
		pol, err := a.Access.GrantRoleAccess(cmd.Context(), p, in)
		if err != nil {
			return err
		}
		return printJSON(pol)
	}),
}

var accessRevokeRoleCmd = &cobra.Command{
	Use:   "revoke-role <role> [document-id]",
	Short: "Revoke a role's document or global policy",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		p, err := acting(cmd.Context())
		if err != nil {
			return err
		}
		in := access.RevokeRoleAccess{Role: args[0]}
		if len(args) == 2 {
			in.DocumentID = ids.DocumentID(args[1])
		}
		if err := a.Access.RevokeRoleAccess(cmd.Context(), p, in); err != nil {
			return err
		}
		fmt.Printf("Revoked access of role %s\n", args[0])
		return nil
	}),
}

var accessRevokeCmd = &cobra.Command{
	Use:   "revoke <document-id> <user-id>",
	Short: "Revoke a user's access to a document",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		p, err := acting(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.Access.RevokeAccess(cmd.Context(), p, access.RevokeAccess{
			DocumentID:  ids.DocumentID(args[0]),
			RevokedFrom: ids.UserID(args[1]),
		}); err != nil {
			return err
		}
		fmt.Printf("Revoked access of %s to %s\n", args[1], args[0])
		return nil
	}),
}

var accessCheckCmd = &cobra.Command{
	Use:   "check <document-id> <user-id> <action>",
	Short: "Check whether a user may perform an action",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		allowed, err := a.Access.CheckAccess(cmd.Context(), access.CheckAccess{
			DocumentID: ids.DocumentID(args[0]),
			UserID:     ids.UserID(args[1]),
			Action:     args[2],
		})
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%s may not %s %s", args[1], args[2], args[0])
		}
		fmt.Println("allowed")
		return nil
	}),
}

var accessListCmd = &cobra.Command{
	Use:   "list <document-id>",
	Short: "List the policies attached to a document",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		p, err := acting(cmd.Context())
		if err != nil {
			return err
		}
		policies, err := a.Access.ListDocumentPolicies(cmd.Context(), p, ids.DocumentID(args[0]))
		if err != nil {
			return err
		}
		return printJSON(policies)
	}),
}

// tokens command
var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Issue and redeem single-use download tokens",
}

var tokensIssueCmd = &cobra.Command{
	Use:   "issue <document-id> <user-id>",
	Short: "Issue a download token for a user",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		p, err := acting(cmd.Context())
		if err != nil {
			return err
		}
		in := access.CreateDownloadToken{DocumentID: ids.DocumentID(args[0]), IssuedTo: ids.UserID(args[1])}
		if ttl, _ := cmd.Flags().GetDuration("ttl"); ttl > 0 {
			in.ExpiresAt = time.Now().Add(ttl)
		}
		t, err := a.Access.CreateDownloadToken(cmd.Context(), p, in)
		if err != nil {
			return err
		}
		return printJSON(t)
	}),
}

var tokensRedeemCmd = &cobra.Command{
	Use:   "redeem <token-id>",
	Short: "Redeem a download token as the acting user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		p, err := acting(cmd.Context())
		if err != nil {
			return err
		}
		t, err := a.Access.ValidateDownloadToken(cmd.Context(), access.ValidateDownloadToken{
			TokenID: ids.DownloadTokenID(args[0]),
			UserID:  p.UserID,
		})
		if err != nil {
			return err
		}
		return printJSON(t)
	}),
}

var tokensCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete used and expired tokens",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		p, err := acting(cmd.Context())
		if err != nil {
			return err
		}
		n, err := a.Access.CleanupTokens(cmd.Context(), p)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d tokens\n", n)
		return nil
	}),
}

// users command
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "User lifecycle hooks",
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Remove a deleted user's policies, tokens and roles",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		ctx := cmd.Context()
		p, err := acting(ctx)
		if err != nil {
			return err
		}
		if !p.HasRole(string(rbac.RoleAdmin)) {
			return apperrors.AccessDenied(string(p.UserID), "user", rbac.ActionDelete)
		}
		res, err := a.Access.UserDeleted(ctx, p.UserID, ids.UserID(args[0]))
		if err != nil {
			return err
		}
		roles, err := a.Backend.Roles.RolesOf(ctx, ids.UserID(args[0]))
		if err != nil {
			return err
		}
		for _, r := range roles {
			if err := a.Backend.Roles.RemoveRole(ctx, ids.UserID(args[0]), r); err != nil {
				return err
			}
		}
		return printJSON(res)
	}),
}

// audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read persisted audit events",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit events",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := a.Backend.Audit.AuditEvents(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printJSON(events)
	}),
}

func init() {
	documentsAddCmd.Flags().String("owner", "", "Owner user id")
	documentsAddCmd.Flags().String("workspace-id", "", "Workspace the document belongs to")
	documentsAddCmd.Flags().String("title", "", "Document title")
	_ = documentsAddCmd.MarkFlagRequired("owner")
	documentsCmd.AddCommand(documentsAddCmd, documentsDeleteCmd)

	rolesCmd.AddCommand(rolesAssignCmd, rolesRemoveCmd)

	accessGrantCmd.Flags().StringSlice("actions", []string{"read"}, "Actions to grant")
	accessGrantCmd.Flags().Int("priority", 0, "Policy priority, 1 to 100")
	accessGrantRoleCmd.Flags().StringSlice("actions", []string{"read"}, "Actions to grant")
	accessGrantRoleCmd.Flags().Int("priority", 0, "Policy priority, 1 to 100")
	accessCmd.AddCommand(accessGrantCmd, accessRevokeCmd, accessGrantRoleCmd, accessRevokeRoleCmd, accessCheckCmd, accessListCmd)

	tokensIssueCmd.Flags().Duration("ttl", 0, "Token lifetime; the configured default when unset")
	tokensCmd.AddCommand(tokensIssueCmd, tokensRedeemCmd, tokensCleanupCmd)

	usersCmd.AddCommand(usersDeleteCmd)

	auditTailCmd.Flags().IntP("limit", "n", 50, "Maximum number of events to show")
	auditCmd.AddCommand(auditTailCmd)
}
