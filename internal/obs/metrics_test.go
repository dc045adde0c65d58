package obs

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.ObserveDecision("document", "read", OutcomeDenied)
	m.ObserveDecision("document", "read", OutcomeDenied)
	m.ObserveIssue(OutcomeSuccess)
	m.ObserveRedemption("ALREADY_USED")
	m.AuditFailed()

	if got := testutil.ToFloat64(m.decisions.WithLabelValues("document", "read", OutcomeDenied)); got != 2 {
		t.Fatalf("decisions = %v", got)
	}
	if got := testutil.ToFloat64(m.tokensIssued.WithLabelValues(OutcomeSuccess)); got != 1 {
		t.Fatalf("issued = %v", got)
	}
	if got := testutil.ToFloat64(m.redemptions.WithLabelValues("ALREADY_USED")); got != 1 {
		t.Fatalf("redemptions = %v", got)
	}
	if got := testutil.ToFloat64(m.auditFailures); got != 1 {
		t.Fatalf("audit failures = %v", got)
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("document", "read", OutcomeSuccess)
	m.ObserveIssue(OutcomeFailure)
	m.ObserveRedemption(OutcomeSuccess)
	m.AuditFailed()
}

func TestBuildInfo(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterBuildInfo(reg, "1.2.3", "abc"); err != nil {
		t.Fatalf("RegisterBuildInfo: %v", err)
	}
	expected := `
# HELP docgate_build_info docgate build information.
# TYPE docgate_build_info gauge
docgate_build_info{commit="abc",version="1.2.3"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "docgate_build_info"); err != nil {
		t.Fatalf("unexpected build info: %v", err)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "warn")
	l.Info("hidden")
	l.Warn("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "shown" || entry["level"] != "WARN" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestSetLoggerReturnsPrevious(t *testing.T) {
	var buf bytes.Buffer
	prev := SetLogger(NewLogger(&buf, "info"))
	defer SetLogger(prev)
	Logger().Info("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("shared logger not replaced: %q", buf.String())
	}
}
