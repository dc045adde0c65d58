package testutil

import (
	"context"
	"sync"

	"docgate.io/internal/audit"
)

// RecordingAuditor keeps every audit call in memory. Setting Err makes
// each call record the entry and then fail with Err.
type RecordingAuditor struct {
	mu       sync.Mutex
	changes  []audit.AccessControlChange
	security []audit.SecurityEvent
	Err      error
}

func (r *RecordingAuditor) LogAccessControlChange(_ context.Context, c audit.AccessControlChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return r.Err
}

func (r *RecordingAuditor) LogSecurityEvent(_ context.Context, e audit.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.security = append(r.security, e)
	return r.Err
}

func (r *RecordingAuditor) Changes() []audit.AccessControlChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.AccessControlChange(nil), r.changes...)
}

func (r *RecordingAuditor) SecurityEvents() []audit.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.SecurityEvent(nil), r.security...)
}

// Last returns the most recent access control change of the given type.
func (r *RecordingAuditor) Last(eventType string) (audit.AccessControlChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.changes) - 1; i >= 0; i-- {
		if r.changes[i].EventType == eventType {
			return r.changes[i], true
		}
	}
	return audit.AccessControlChange{}, false
}
