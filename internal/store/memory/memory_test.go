package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/document"
	"docgate.io/internal/ids"
	"docgate.io/internal/policy"
	"docgate.io/internal/token"
)

var now = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func seed(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	s := New()
	for _, d := range []document.Document{
		{ID: "d1", OwnerID: "u1", CreatedAt: now},
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

func TestDocumentNotFound(t *testing.T) {
	s, ctx := seed(t)
	if _, err := s.Documents().FindByID(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestPolicySaveAndFind(t *testing.T) {
	s, ctx := seed(t)
	repo := s.Policies()
	p := userPolicy(t, "u2", "d1", "read")
	if err := repo.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	got.Actions[0] = "tampered"
	again, _ := repo.FindByID(ctx, p.ID)
	if again.Actions[0] != "read" {
		t.Fatal("stored state shared with caller")
	}

	byRes, _ := repo.FindByResourceID(ctx, "d1")
	bySubj, _ := repo.FindBySubject(ctx, policy.SubjectUser, "u2")
	byBoth, _ := repo.FindByUserAndResource(ctx, "u2", "d1")
	if len(byRes) != 1 || len(bySubj) != 1 || len(byBoth) != 1 {
		t.Fatalf("lookups: %d %d %d", len(byRes), len(bySubj), len(byBoth))
	}

	orphan := userPolicy(t, "u2", "nope", "read")
	if err := repo.Save(ctx, orphan); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("orphan save err = %v", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("delete missing err = %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	s, ctx := seed(t)
	repo := s.Policies()
	if err := repo.Save(ctx, userPolicy(t, "u2", "d1", "read")); err != nil {
		t.Fatal(err)
	}
	role := "auditor"
	global, _ := policy.New(policy.Params{SubjectType: policy.SubjectRole, RoleName: &role, ResourceType: policy.ResourceGlobal, Actions: []string{"download"}})
	if err := repo.Save(ctx, global); err != nil {
		t.Fatal(err)
	}
	inactive := userPolicy(t, "u4", "d1", "read").Deactivate(now)
	if err := repo.Save(ctx, inactive); err != nil {
		t.Fatal(err)
	}
	if err := s.AssignRole(ctx, "u3", "Auditor"); err != nil {
		t.Fatal(err)
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

	if err := s.RemoveRole(ctx, "u3", "auditor"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.HasPermission(ctx, "d2", "u3", nil, "download"); ok {
		t.Fatal("role removal not honored")
	}
}

func TestTokenSaveConflicts(t *testing.T) {
	s, ctx := seed(t)
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
	if err := repo.Save(ctx, tok); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("duplicate id err = %v", err)
	}
	got, err := repo.FindBySecret(ctx, tok.Secret)
	if err != nil || got.ID != tok.ID {
		t.Fatalf("FindBySecret = %v, %v", got.ID, err)
	}
}

func TestMarkUsedSingleWinner(t *testing.T) {
	s, ctx := seed(t)
	repo := s.Tokens()
	tok := newToken(t, "d1", "u2")
	if err := repo.Save(ctx, tok); err != nil {
		t.Fatal(err)
	}

	const attempts = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		losers    int
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
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || losers != attempts-1 {
		t.Fatalf("successes=%d losers=%d", successes, losers)
	}
	got, _ := repo.FindByID(ctx, tok.ID)
	if got.UsedAt == nil {
		t.Fatal("used_at not persisted")
	}
}

func TestCascadesAndCleanup(t *testing.T) {
	s, ctx := seed(t)
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
	if _, err := toks.FindBySecret(ctx, live.Secret); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("secret index not cleaned: %v", err)
	}
}
