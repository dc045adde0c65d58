package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/audit"
	"docgate.io/internal/document"
	"docgate.io/internal/ids"
	"docgate.io/internal/migrate"
	"docgate.io/internal/policy"
	"docgate.io/internal/token"
)

var now = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	s, err := Open(SQLite, filepath.Join(t.TempDir(), "docgate.db"), PoolConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	m, err := migrate.NewManager(s.DB(), migrate.DialectSQLite)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	ctx := context.Background()
	for _, d := range []document.Document{
		{ID: "d1", OwnerID: "u1", WorkspaceID: "ws", Title: "Q1 report", CreatedAt: now},
		{ID: "d2", OwnerID: "u1", CreatedAt: now},
	} {
		if err := s.Documents().Save(ctx, d); err != nil {
			t.Fatalf("save document: %v", err)
		}
	}
	return s, ctx
}

func userPolicy(t *testing.T, user, doc string, actions ...string) policy.AccessPolicy {
	t.Helper()
	u, d := ids.UserID(user), ids.DocumentID(doc)
	p, err := policy.New(policy.Params{SubjectType: policy.SubjectUser, SubjectID: &u, ResourceType: policy.ResourceDocument, ResourceID: &d, Actions: actions, CreatedAt: now})
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	return p
}

func newToken(t *testing.T, doc, user string) token.DownloadToken {
	t.Helper()
	tok, err := token.New(token.Params{DocumentID: ids.DocumentID(doc), IssuedTo: ids.UserID(user), ExpiresAt: now.Add(time.Hour)}, now)
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	return tok
}

func TestSQLiteDocumentRoundTrip(t *testing.T) {
	s, ctx := newSQLiteStore(t)
	d, err := s.Documents().FindByID(ctx, "d1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if d.OwnerID != "u1" || d.Title != "Q1 report" || !d.CreatedAt.Equal(now) {
		t.Fatalf("unexpected document: %+v", d)
	}
	if _, err := s.Documents().FindByID(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("missing document err = %v", err)
	}
}

func TestSQLitePolicyRoundTrip(t *testing.T) {
	s, ctx := newSQLiteStore(t)
	repo := s.Policies()
	p := userPolicy(t, "u2", "d1", "read", "download")
	if err := repo.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.SubjectID == nil || *got.SubjectID != "u2" || got.RoleName != nil || len(got.Actions) != 2 || !got.IsActive || !got.CreatedAt.Equal(now) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	updated, err := got.WithGrant([]string{"read"}, 5, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, updated); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = repo.FindByID(ctx, p.ID)
	if got.Priority != 5 || len(got.Actions) != 1 || got.UpdatedAt == nil {
		t.Fatalf("upsert not applied: %+v", got)
	}

	if err := repo.Save(ctx, userPolicy(t, "u2", "nope", "read")); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("orphan policy err = %v", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("delete missing err = %v", err)
	}
}

func TestSQLiteHasPermission(t *testing.T) {
	s, ctx := newSQLiteStore(t)
	repo := s.Policies()
	role := "auditor"
	global, err := policy.New(policy.Params{SubjectType: policy.SubjectRole, RoleName: &role, ResourceType: policy.ResourceGlobal, Actions: []string{"download"}, CreatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []policy.AccessPolicy{
		userPolicy(t, "u2", "d1", "read"),
		global,
		userPolicy(t, "u4", "d1", "read").Deactivate(now),
	} {
		if err := repo.Save(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AssignRole(ctx, "u3", " Auditor "); err != nil {
		t.Fatal(err)
	}
	if err := s.AssignRole(ctx, "u3", "auditor"); err != nil {
		t.Fatalf("repeated AssignRole: %v", err)
	}

	cases := []struct {
		doc    ids.DocumentID
		user   ids.UserID
		roles  []string
		action string
		want   bool
	}{
		{"d1", "u2", nil, "read", true},
		{"d1", "u2", nil, "write", false},
		{"d2", "u2", nil, "read", false},
		{"d2", "u3", nil, "download", true},
		{"d2", "u3", nil, "read", false},
		{"d1", "u4", nil, "read", false},
		// session roles count alongside stored ones
		{"d2", "u5", []string{" Auditor "}, "download", true},
		{"d2", "u5", []string{"viewer", "auditor"}, "read", false},
		{"d2", "u5", []string{"viewer"}, "download", false},
	}
	for _, tc := range cases {
		got, err := repo.HasPermission(ctx, tc.doc, tc.user, tc.roles, tc.action)
		if err != nil {
			t.Fatalf("HasPermission: %v", err)
		}
		if got != tc.want {
			t.Fatalf("HasPermission(%s,%s,%v,%s) = %v, want %v", tc.doc, tc.user, tc.roles, tc.action, got, tc.want)
		}
	}

	roles, _ := s.RolesOf(ctx, "u3")
	if len(roles) != 1 || roles[0] != "auditor" {
		t.Fatalf("roles = %v", roles)
	}
	if err := s.RemoveRole(ctx, "u3", "auditor"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.HasPermission(ctx, "d2", "u3", nil, "download"); ok {
		t.Fatal("role removal not honored")
	}
}

func TestSQLiteTokenLifecycle(t *testing.T) {
	s, ctx := newSQLiteStore(t)
	repo := s.Tokens()
	tok := newToken(t, "d1", "u2")
	if err := repo.Save(ctx, tok); err != nil {
		t.Fatalf("Save: %v", err)
	}
	dup := newToken(t, "d1", "u2")
	dup.Secret = tok.Secret
	if err := repo.Save(ctx, dup); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("duplicate secret err = %v", err)
	}
	if err := repo.Save(ctx, newToken(t, "nope", "u2")); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("orphan token err = %v", err)
	}

	got, err := repo.FindBySecret(ctx, tok.Secret)
	if err != nil {
		t.Fatalf("FindBySecret: %v", err)
	}
	if got.ID != tok.ID || got.UsedAt != nil || !got.ExpiresAt.Equal(tok.ExpiresAt) {
		t.Fatalf("unexpected token: %+v", got)
	}
	if _, err := repo.FindBySecret(ctx, "nope"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown secret err = %v", err)
	}

	if err := repo.MarkUsed(ctx, tok.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := repo.MarkUsed(ctx, tok.ID, now.Add(2*time.Minute)); !errors.Is(err, apperrors.ErrAlreadyUsed) {
		t.Fatalf("second MarkUsed err = %v", err)
	}
	got, _ = repo.FindByID(ctx, tok.ID)
	if got.UsedAt == nil || !got.UsedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("used_at = %v", got.UsedAt)
	}
}

func TestSQLiteConcurrentRedemptionSingleWinner(t *testing.T) {
	s, ctx := newSQLiteStore(t)
	repo := s.Tokens()
	tok := newToken(t, "d1", "u2")
	if err := repo.Save(ctx, tok); err != nil {
		t.Fatal(err)
	}

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.MarkUsed(ctx, tok.ID, now.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrAlreadyUsed):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
}

func TestSQLiteCascadesAndCleanup(t *testing.T) {
	s, ctx := newSQLiteStore(t)
	pols, toks := s.Policies(), s.Tokens()
	for _, p := range []policy.AccessPolicy{userPolicy(t, "u2", "d1", "read"), userPolicy(t, "u2", "d2", "read"), userPolicy(t, "u3", "d2", "read")} {
		if err := pols.Save(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	used := newToken(t, "d2", "u3")
	live := newToken(t, "d2", "u3")
	for _, tok := range []token.DownloadToken{newToken(t, "d1", "u2"), used, live} {
		if err := toks.Save(ctx, tok); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Documents().Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if left, _ := pols.FindByResourceID(ctx, "d1"); len(left) != 0 {
		t.Fatalf("policies survived document delete: %d", len(left))
	}
	if left, _ := toks.FindByDocumentID(ctx, "d1"); len(left) != 0 {
		t.Fatalf("tokens survived document delete: %d", len(left))
	}
	if n, err := pols.DeleteByUserID(ctx, "u2"); err != nil || n != 1 {
		t.Fatalf("DeleteByUserID = %d, %v", n, err)
	}

	if err := toks.MarkUsed(ctx, used.ID, now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if n, err := toks.DeleteExpiredOrUsed(ctx, now.Add(2*time.Minute)); err != nil || n != 1 {
		t.Fatalf("DeleteExpiredOrUsed = %d, %v", n, err)
	}
	if n, err := toks.DeleteExpiredOrUsed(ctx, now.Add(2*time.Hour)); err != nil || n != 1 {
		t.Fatalf("DeleteExpiredOrUsed after expiry = %d, %v", n, err)
	}
	if n, err := toks.DeleteByIssuedTo(ctx, "u3"); err != nil || n != 0 {
		t.Fatalf("DeleteByIssuedTo = %d, %v", n, err)
	}
}

func TestSQLiteAuditEvents(t *testing.T) {
	s, ctx := newSQLiteStore(t)
	logger := audit.NewLogger(audit.WithStore(s), audit.WithoutLogLines(), audit.WithClock(func() time.Time { return now }))
	err := logger.LogAccessControlChange(audit.WithRequestID(ctx, "req-1"), audit.AccessControlChange{
		EventType:  audit.EventAccessGranted,
		ResourceID: "d1",
		Actor:      "u1",
		Target:     "u2",
		Outcome:    audit.OutcomeSuccess,
		Details:    map[string]any{"actions": []string{"read"}},
	})
	if err != nil {
		t.Fatalf("LogAccessControlChange: %v", err)
	}
	events, err := s.AuditEvents(ctx, 10)
	if err != nil {
		t.Fatalf("AuditEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	e := events[0]
	if e.EventType != audit.EventAccessGranted || e.RequestID != "req-1" || e.Target != "u2" || !e.OccurredAt.Equal(now) {
		t.Fatalf("unexpected event: %+v", e)
	}
	if _, ok := e.Details["actions"]; !ok {
		t.Fatalf("details lost: %v", e.Details)
	}
}
