package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"docgate.io/internal/ids"
	"docgate.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// NewRequestID returns a random request identifier.
func NewRequestID() string { return uuid.NewString() }

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

const (
	CategoryAccessControl = "access_control"
	CategorySecurity      = "security"
)

// Event types emitted by the access workflows.
const (
	EventAccessGranted       = "access.granted"
	EventAccessRevoked       = "access.revoked"
	EventAccessChecked       = "access.checked"
	EventRoleAccessGranted   = "access.role_granted"
	EventRoleAccessRevoked   = "access.role_revoked"
	EventPoliciesListed      = "access.policies_listed"
	EventDocumentPurged      = "access.document_purged"
	EventUserPurged          = "access.user_purged"
	EventTokenIssued         = "download_token.issued"
	EventTokenRedeemed       = "download_token.redeemed"
	EventTokenRedeemMissing  = "download_token.not_found"
	EventTokenRedeemThrottle = "download_token.throttled"
	EventTokensCleaned       = "download_token.cleanup"
)

// AccessControlChange describes the outcome of a grant, revoke, check or
// token operation.
type AccessControlChange struct {
	EventType  string
	ResourceID string
	Action     string
	Actor      ids.UserID
	Target     string
	Outcome    Outcome
	Details    map[string]any
	Err        error
}

// SecurityEvent describes a suspicious or noteworthy occurrence not tied
// to a single resource change.
type SecurityEvent struct {
	EventType string
	Actor     ids.UserID
	Outcome   Outcome
	Details   map[string]any
}

// Event is the stored form of both kinds.
type Event struct {
	ID         string         `json:"id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Category   string         `json:"category"`
	EventType  string         `json:"event_type"`
	RequestID  string         `json:"request_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Action     string         `json:"action,omitempty"`
	Target     string         `json:"target,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	Details    map[string]any `json:"details"`
	Error      string         `json:"error,omitempty"`
}

// Store persists audit events.
type Store interface {
	AppendAuditEvent(ctx context.Context, e Event) error
}

// Reader lists persisted events, newest first.
type Reader interface {
	AuditEvents(ctx context.Context, limit int) ([]Event, error)
}

// Logger records audit events as structured log lines and, when a Store
// is configured, as persisted rows.
type Logger struct {
	store Store
	log   *slog.Logger
	toLog bool
	now   func() time.Time
	newID func() string
}

type Option func(*Logger)

func WithStore(s Store) Option {
	return func(l *Logger) { l.store = s }
}

func WithSlog(log *slog.Logger) Option {
	return func(l *Logger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithoutLogLines disables log output, leaving only the store.
func WithoutLogLines() Option {
	return func(l *Logger) { l.toLog = false }
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLogger(opts ...Option) *Logger {
	l := &Logger{
		toLog: true,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) LogAccessControlChange(ctx context.Context, c AccessControlChange) error {
	e := Event{
		Category:   CategoryAccessControl,
		EventType:  c.EventType,
		Actor:      string(c.Actor),
		ResourceID: c.ResourceID,
		Action:     c.Action,
		Target:     c.Target,
		Outcome:    c.Outcome,
		Details:    c.Details,
	}
	if c.Err != nil {
		e.Error = c.Err.Error()
	}
	return l.record(ctx, e)
}

func (l *Logger) LogSecurityEvent(ctx context.Context, s SecurityEvent) error {
	return l.record(ctx, Event{
		Category:  CategorySecurity,
		EventType: s.EventType,
		Actor:     string(s.Actor),
		Outcome:   s.Outcome,
		Details:   s.Details,
	})
}

func (l *Logger) record(ctx context.Context, e Event) error {
	e.EventType = strings.TrimSpace(e.EventType)
	if e.EventType == "" {
		return errors.New("event name is required")
	}
	if e.Outcome == "" {
		return errors.New("event outcome is required")
	}
	e.ID = l.newID()
	e.OccurredAt = l.now().UTC()
	e.RequestID = requestIDFromContext(ctx)
	e.Details = SanitizeMap(e.Details)
	e.Error = SanitizeMessage(e.Error)

	if l.toLog {
		l.logger().LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("type", "audit"),
			slog.String("audit_id", e.ID),
			slog.String("category", e.Category),
			slog.String("event", e.EventType),
			slog.String("request_id", e.RequestID),
			slog.String("actor", e.Actor),
			slog.String("resource_id", e.ResourceID),
			slog.String("action", e.Action),
			slog.String("target", e.Target),
			slog.String("outcome", string(e.Outcome)),
			slog.Any("fields", e.Details),
			slog.String("error", e.Error),
		)
	}
	if l.store != nil {
		return l.store.AppendAuditEvent(ctx, e)
	}
	return nil
}

func (l *Logger) logger() *slog.Logger {
	if l.log != nil {
		return l.log
	}
	return obs.Logger()
}
