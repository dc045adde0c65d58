package access

import (
	"context"
	"errors"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/audit"
	"docgate.io/internal/auth"
	"docgate.io/internal/ids"
	"docgate.io/internal/obs"
	"docgate.io/internal/rbac"
	"docgate.io/internal/token"
)

type CreateDownloadToken struct {
	DocumentID ids.DocumentID
	IssuedTo   ids.UserID
	// ExpiresAt defaults to now plus the default TTL when zero.
	ExpiresAt time.Time
}

type ValidateDownloadToken struct {
	TokenID ids.DownloadTokenID
	UserID  ids.UserID
}

// CreateDownloadToken issues a single-use token for the document. Only a
// requester who may read the document can delegate a download of it.
func (s *Service) CreateDownloadToken(ctx context.Context, requester auth.Principal, in CreateDownloadToken) (token.DownloadToken, error) {
	t, err := s.issue(ctx, requester, in)
	details := map[string]any{"issued_to": string(in.IssuedTo)}
	if err == nil {
		details["token_id"] = string(t.ID)
		details["expires_at"] = t.ExpiresAt
		s.metrics.ObserveIssue(obs.OutcomeSuccess)
	} else {
		s.metrics.ObserveIssue(string(outcomeOf(err)))
	}
	s.recordChange(ctx, audit.AccessControlChange{
		EventType:  audit.EventTokenIssued,
		ResourceID: string(in.DocumentID),
		Action:     rbac.ActionDownload,
		Actor:      requester.UserID,
		Target:     string(in.IssuedTo),
		Outcome:    outcomeOf(err),
		Details:    details,
		Err:        err,
	})
	return t, err
}

func (s *Service) issue(ctx context.Context, requester auth.Principal, in CreateDownloadToken) (token.DownloadToken, error) {
	recipient, err := ids.ParseUserID(string(in.IssuedTo))
	if err != nil {
		return token.DownloadToken{}, err
	}
	doc, err := s.findDocument(ctx, in.DocumentID)
	if err != nil {
		return token.DownloadToken{}, err
	}
	if err := s.ac.RequirePermission(ctx, requester, auth.KindDocument, rbac.ActionRead, auth.ForDocument(doc.ID, doc.OwnerID)); err != nil {
		return token.DownloadToken{}, err
	}

	now := s.clock()
	expiresAt := in.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.defaultTTL)
	}
	if expiresAt.After(now.Add(s.maxTTL)) {
		return token.DownloadToken{}, apperrors.Validationf("expires_at must be within %s", s.maxTTL)
	}
	t, err := token.New(token.Params{DocumentID: doc.ID, IssuedTo: recipient, ExpiresAt: expiresAt}, now)
	if err != nil {
		return token.DownloadToken{}, err
	}
	if err := s.tokens.Save(ctx, t); err != nil {
		return token.DownloadToken{}, err
	}
	return t, nil
}

// ValidateDownloadToken redeems a token for UserID. Checks run in order:
// already used, expired, wrong recipient. The final write is conditional,
// so of several concurrent redemptions exactly one succeeds and the rest
// fail with apperrors.ErrAlreadyUsed. Failed attempts leave the token as is.
func (s *Service) ValidateDownloadToken(ctx context.Context, in ValidateDownloadToken) (token.DownloadToken, error) {
	now := s.clock()
	if !s.limiter.Allow(in.UserID, now) {
		err := apperrors.RateLimited(string(in.UserID))
		s.metrics.ObserveRedemption(apperrors.CodeRateLimited)
		s.recordSecurity(ctx, audit.SecurityEvent{
			EventType: audit.EventTokenRedeemThrottle,
			Actor:     in.UserID,
			Outcome:   audit.OutcomeDenied,
			Details:   map[string]any{"token_id": string(in.TokenID)},
		})
		return token.DownloadToken{}, err
	}

	t, err := s.redeem(ctx, in, now)
	if err == nil {
		s.metrics.ObserveRedemption(obs.OutcomeSuccess)
	} else {
		s.metrics.ObserveRedemption(redemptionOutcome(err))
	}

	if errors.Is(err, apperrors.ErrNotFound) {
		s.recordSecurity(ctx, audit.SecurityEvent{
			EventType: audit.EventTokenRedeemMissing,
			Actor:     in.UserID,
			Outcome:   audit.OutcomeFailure,
			Details:   map[string]any{"token_id": string(in.TokenID)},
		})
		return token.DownloadToken{}, err
	}
	details := map[string]any{"token_id": string(in.TokenID)}
	if code := apperrors.Code(err); code != "" {
		details["reason"] = code
	}
	s.recordChange(ctx, audit.AccessControlChange{
		EventType:  audit.EventTokenRedeemed,
		ResourceID: string(t.DocumentID),
		Action:     rbac.ActionDownload,
		Actor:      in.UserID,
		Target:     string(t.IssuedTo),
		Outcome:    outcomeOf(err),
		Details:    details,
		Err:        err,
	})
	if err != nil {
		return token.DownloadToken{}, err
	}
	return t, nil
}

// redeem returns the looked-up token alongside business failures so the
// audit entry can name its document.
func (s *Service) redeem(ctx context.Context, in ValidateDownloadToken, now time.Time) (token.DownloadToken, error) {
	id, err := ids.ParseDownloadTokenID(string(in.TokenID))
	if err != nil {
		return token.DownloadToken{}, err
	}
	user, err := ids.ParseUserID(string(in.UserID))
	if err != nil {
		return token.DownloadToken{}, err
	}
	t, err := s.tokens.FindByID(ctx, id)
	if err != nil {
		return token.DownloadToken{}, err
	}
	if err := t.CheckRedeemable(user, now); err != nil {
		return t, err
	}
	used, err := t.MarkUsed(now)
	if err != nil {
		return t, err
	}
	if err := s.tokens.MarkUsed(ctx, id, now); err != nil {
		return t, err
	}
	return used, nil
}

func redemptionOutcome(err error) string {
	if code := apperrors.Code(err); code != "" {
		return code
	}
	return obs.OutcomeFailure
}

// CleanupTokens deletes used and expired tokens. Admins only.
func (s *Service) CleanupTokens(ctx context.Context, actor auth.Principal) (int64, error) {
	var (
		n   int64
		err error
	)
	if !s.ac.Can(actor, auth.KindDownloadToken, rbac.ActionDelete, auth.ResourceContext{}) {
		err = apperrors.AccessDenied(string(actor.UserID), auth.KindDownloadToken, rbac.ActionDelete)
	} else {
		n, err = s.tokens.DeleteExpiredOrUsed(ctx, s.clock())
	}
	s.recordChange(ctx, audit.AccessControlChange{
		EventType: audit.EventTokensCleaned,
		Action:    rbac.ActionDelete,
		Actor:     actor.UserID,
		Outcome:   outcomeOf(err),
		Details:   map[string]any{"deleted": n},
		Err:       err,
	})
	return n, err
}
