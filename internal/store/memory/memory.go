// Package memory is an in-process implementation of the repository
// contracts. Records are held as deterministic CBOR snapshots so callers
// never share memory with stored state.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/audit"
	"docgate.io/internal/codec"
	"docgate.io/internal/ids"
	"docgate.io/internal/policy"
)

// Store keeps documents, policies, tokens, role memberships and audit
// events in memory. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	documents map[ids.DocumentID][]byte
	policies  map[ids.AccessPolicyID][]byte
	tokens    map[ids.DownloadTokenID][]byte
	secrets   map[string]ids.DownloadTokenID
	roles     map[ids.UserID][]string
	events    []audit.Event
}

var (
	_ policy.RoleDirectory = (*Store)(nil)
	_ audit.Store          = (*Store)(nil)
)

func New() *Store {
	return &Store{
		documents: make(map[ids.DocumentID][]byte),
		policies:  make(map[ids.AccessPolicyID][]byte),
		tokens:    make(map[ids.DownloadTokenID][]byte),
		secrets:   make(map[string]ids.DownloadTokenID),
		roles:     make(map[ids.UserID][]string),
	}
}

func (s *Store) Close() error { return nil }

// Documents returns the document repository view of the store.
func (s *Store) Documents() *DocumentRepository { return &DocumentRepository{s: s} }

// Policies returns the access policy repository view of the store.
func (s *Store) Policies() *PolicyRepository { return &PolicyRepository{s: s} }

// Tokens returns the download token repository view of the store.
func (s *Store) Tokens() *TokenRepository { return &TokenRepository{s: s} }

func encode(v any) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, apperrors.Database("encode record", err)
	}
	return data, nil
}

func decode[T any](data []byte) (T, error) {
	var out T
	if err := codec.Unmarshal(data, &out); err != nil {
		return out, apperrors.Database("decode record", err)
	}
	return out, nil
}

// Roles

func (s *Store) RolesOf(_ context.Context, userID ids.UserID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roles[userID]), nil
}

func (s *Store) AssignRole(_ context.Context, userID ids.UserID, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return apperrors.Validation("role is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.roles[userID], role) {
		s.roles[userID] = append(s.roles[userID], role)
		sort.Strings(s.roles[userID])
	}
	return nil
}

func (s *Store) RemoveRole(_ context.Context, userID ids.UserID, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = slices.DeleteFunc(s.roles[userID], func(r string) bool { return r == role })
	if len(s.roles[userID]) == 0 {
		delete(s.roles, userID)
	}
	return nil
}

// Audit

func (s *Store) AppendAuditEvent(_ context.Context, e audit.Event) error {
	copied, err := codec.Clone(e)
	if err != nil {
		return apperrors.Database("append audit event", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, copied)
	return nil
}

// AuditEvents returns up to limit recorded events, newest first.
func (s *Store) AuditEvents(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]audit.Event, 0, min(limit, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}
