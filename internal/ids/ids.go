package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	"docgate.io/internal/apperrors"
)

const maxIDLength = 128

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Distinct identifier types. A UserID cannot be passed where a DocumentID
// is expected without an explicit conversion.
type (
	UserID          string
	DocumentID      string
	AccessPolicyID  string
	DownloadTokenID string
)

func (id UserID) String() string          { return string(id) }
func (id DocumentID) String() string      { return string(id) }
func (id AccessPolicyID) String() string  { return string(id) }
func (id DownloadTokenID) String() string { return string(id) }

func NewDocumentID() DocumentID           { return DocumentID(New()) }
func NewAccessPolicyID() AccessPolicyID   { return AccessPolicyID(New()) }
func NewDownloadTokenID() DownloadTokenID { return DownloadTokenID(New()) }

func ParseUserID(raw string) (UserID, error) {
	s, err := parse("user_id", raw)
	return UserID(s), err
}

func ParseDocumentID(raw string) (DocumentID, error) {
	s, err := parse("document_id", raw)
	return DocumentID(s), err
}

func ParseDownloadTokenID(raw string) (DownloadTokenID, error) {
	s, err := parse("download_token_id", raw)
	return DownloadTokenID(s), err
}

// parse trims raw and rejects empty, oversized or whitespace-bearing values.
func parse(field, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperrors.Validationf("%s is required", field)
	}
	if len(s) > maxIDLength {
		return "", apperrors.Validationf("%s exceeds %d characters", field, maxIDLength)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", apperrors.Validationf("%s must not contain whitespace", field)
	}
	return s, nil
}
