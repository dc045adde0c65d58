// Package access orchestrates the grant, revoke and check workflows and the
// download token lifecycle on top of the decision engine and repositories.
// Every workflow audits its outcome; audit failures never fail the call.
package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/audit"
	"docgate.io/internal/auth"
	"docgate.io/internal/document"
	"docgate.io/internal/ids"
	"docgate.io/internal/obs"
	"docgate.io/internal/policy"
	"docgate.io/internal/token"
)

const (
	DefaultTokenTTL    = 15 * time.Minute
	DefaultMaxTokenTTL = 7 * 24 * time.Hour
)

// Auditor receives the audit trail of every workflow.
type Auditor interface {
	LogAccessControlChange(ctx context.Context, c audit.AccessControlChange) error
	LogSecurityEvent(ctx context.Context, e audit.SecurityEvent) error
}

// Deps are the collaborators of Service. All fields are required.
type Deps struct {
	Documents     document.Repository
	Policies      policy.Repository
	Tokens        token.Repository
	AccessControl *auth.AccessControl
	Audit         Auditor
}

type Service struct {
	documents document.Repository
	policies  policy.Repository
	tokens    token.Repository
	ac        *auth.AccessControl
	audit     Auditor

	log        *slog.Logger
	metrics    *obs.Metrics
	now        func() time.Time
	defaultTTL time.Duration
	maxTTL     time.Duration
	limiter    *RedemptionLimiter
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *obs.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLimiter throttles redemption attempts per user.
func WithLimiter(l *RedemptionLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithTokenTTL sets the expiry applied when none is requested and the
// longest expiry accepted.
func WithTokenTTL(defaultTTL, maxTTL time.Duration) Option {
	return func(s *Service) {
		if defaultTTL > 0 {
			s.defaultTTL = defaultTTL
		}
		if maxTTL > 0 {
			s.maxTTL = maxTTL
		}
	}
}

func NewService(d Deps, opts ...Option) (*Service, error) {
	switch {
	case d.Documents == nil:
		return nil, errors.New("document repository is required")
	case d.Policies == nil:
		return nil, errors.New("policy repository is required")
	case d.Tokens == nil:
		return nil, errors.New("token repository is required")
	case d.AccessControl == nil:
		return nil, errors.New("access control is required")
	case d.Audit == nil:
		return nil, errors.New("auditor is required")
	}
	s := &Service{
		documents:  d.Documents,
		policies:   d.Policies,
		tokens:     d.Tokens,
		ac:         d.AccessControl,
		audit:      d.Audit,
		now:        time.Now,
		defaultTTL: DefaultTokenTTL,
		maxTTL:     DefaultMaxTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxTTL < s.defaultTTL {
		return nil, errors.New("max token ttl is shorter than the default ttl")
	}
	return s, nil
}

func (s *Service) clock() time.Time { return s.now().UTC() }

func (s *Service) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return obs.Logger()
}

func (s *Service) recordChange(ctx context.Context, c audit.AccessControlChange) {
	if err := s.audit.LogAccessControlChange(ctx, c); err != nil {
		s.auditFailed(ctx, c.EventType, err)
	}
}

func (s *Service) recordSecurity(ctx context.Context, e audit.SecurityEvent) {
	if err := s.audit.LogSecurityEvent(ctx, e); err != nil {
		s.auditFailed(ctx, e.EventType, err)
	}
}

func (s *Service) auditFailed(ctx context.Context, event string, err error) {
	s.metrics.AuditFailed()
	s.logger().ErrorContext(ctx, "audit event dropped",
		slog.String("event", event),
		slog.String("error", audit.SanitizeMessage(err.Error())),
	)
}

func outcomeOf(err error) audit.Outcome {
	switch {
	case err == nil:
		return audit.OutcomeSuccess
	case errors.Is(err, apperrors.ErrAccessDenied):
		return audit.OutcomeDenied
	default:
		return audit.OutcomeFailure
	}
}

func (s *Service) findDocument(ctx context.Context, raw ids.DocumentID) (document.Document, error) {
	id, err := ids.ParseDocumentID(string(raw))
	if err != nil {
		return document.Document{}, err
	}
	return s.documents.FindByID(ctx, id)
}
