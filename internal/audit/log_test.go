package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"docgate.io/internal/obs"
)

type memStore struct {
	events []Event
	err    error
}

func (m *memStore) AppendAuditEvent(_ context.Context, e Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

const secret = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func TestLogAccessControlChange(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewLogger(&buf, "info"))
	defer obs.SetLogger(prev)

	fixed := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	store := &memStore{}
	l := NewLogger(WithStore(store), WithClock(func() time.Time { return fixed }))

	ctx := WithRequestID(context.Background(), "req-123")
	err := l.LogAccessControlChange(ctx, AccessControlChange{
		EventType:  EventTokenIssued,
		ResourceID: "d1",
		Action:     "read",
		Actor:      "u1",
		Target:     "u2",
		Outcome:    OutcomeSuccess,
		Details:    map[string]any{"token_id": "t1", "token": secret},
	})
	if err != nil {
		t.Fatalf("LogAccessControlChange failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.Contains(line, secret) {
		t.Fatal("bearer secret leaked into log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != EventTokenIssued {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor"] != "u1" {
		t.Fatalf("unexpected actor: %v", entry["actor"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["token_id"] != "t1" || fields["token"] != redactedPlaceholder {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}

	if len(store.events) != 1 {
		t.Fatalf("stored %d events", len(store.events))
	}
	got := store.events[0]
	if got.ID == "" || !got.OccurredAt.Equal(fixed) || got.Category != CategoryAccessControl {
		t.Fatalf("unexpected stored event: %+v", got)
	}
	if got.Details["token"] != redactedPlaceholder {
		t.Fatal("stored event not sanitized")
	}
}

func TestLogSecurityEventWithoutLogLines(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewLogger(&buf, "info"))
	defer obs.SetLogger(prev)

	store := &memStore{}
	l := NewLogger(WithStore(store), WithoutLogLines())
	err := l.LogSecurityEvent(context.Background(), SecurityEvent{
		EventType: EventTokenRedeemMissing,
		Actor:     "u3",
		Outcome:   OutcomeFailure,
		Details:   map[string]any{"token_id": "missing"},
	})
	if err != nil {
		t.Fatalf("LogSecurityEvent: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected log output: %q", buf.String())
	}
	if len(store.events) != 1 || store.events[0].Category != CategorySecurity {
		t.Fatalf("unexpected events: %+v", store.events)
	}
}

func TestLogErrors(t *testing.T) {
	l := NewLogger(WithoutLogLines(), WithStore(&memStore{err: errors.New("disk full")}))
	if err := l.LogSecurityEvent(context.Background(), SecurityEvent{EventType: "x", Outcome: OutcomeFailure}); err == nil {
		t.Fatal("expected store error")
	}
	if err := l.LogSecurityEvent(context.Background(), SecurityEvent{EventType: " ", Outcome: OutcomeFailure}); err == nil {
		t.Fatal("expected missing event name error")
	}
	if err := l.LogSecurityEvent(context.Background(), SecurityEvent{EventType: "x"}); err == nil {
		t.Fatal("expected missing outcome error")
	}
}

func TestSanitize(t *testing.T) {
	in := map[string]any{
		"token_id":      "01J8ZK3X",
		"Token":         "abc",
		"client_secret": "s3cr3t",
		"note":          "issued " + secret,
		"nested":        map[string]any{"password": "hunter2"},
		"actions":       []string{"read"},
	}
	out := SanitizeMap(in)
	if out["token_id"] != "01J8ZK3X" {
		t.Fatalf("identifier redacted: %v", out["token_id"])
	}
	if out["Token"] != redactedPlaceholder || out["client_secret"] != redactedPlaceholder {
		t.Fatalf("sensitive keys kept: %v", out)
	}
	if out["note"] != "issued "+redactedPlaceholder {
		t.Fatalf("secret-shaped value kept: %v", out["note"])
	}
	nested := out["nested"].(map[string]any)
	if nested["password"] != redactedPlaceholder {
		t.Fatalf("nested password kept: %v", nested)
	}
	if in["Token"] != "abc" {
		t.Fatal("input mutated")
	}
	if got := SanitizeMessage("login failed password=hunter2"); got != "login failed password="+redactedPlaceholder {
		t.Fatalf("SanitizeMessage = %q", got)
	}
}
