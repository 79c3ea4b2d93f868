package memory

import (
	"math"
	"strings"
	"time"

	"github.com/aschepis/memvault/memerr"
)

// RecordType describes the kind of memory record.
type RecordType string

const (
	TypeConversation RecordType = "CONVERSATION"
	TypeContext      RecordType = "CONTEXT"
	TypeFact         RecordType = "FACT"
	TypePrompt       RecordType = "PROMPT"
	TypePreference   RecordType = "PREFERENCE"
)

// RecordTypes lists every valid RecordType.
var RecordTypes = []RecordType{
	TypeConversation,
	TypeContext,
	TypeFact,
	TypePrompt,
	TypePreference,
}

// Importance bounds, inclusive.
const (
	MinImportance = 0
	MaxImportance = 10
)

// Valid reports whether t belongs to the closed set of record types.
func (t RecordType) Valid() bool {
	for _, rt := range RecordTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// ParseRecordType parses a record type case-insensitively.
func ParseRecordType(s string) (RecordType, error) {
	t := RecordType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", memerr.NewValidationError("unknown memory type %q", s)
	}
	return t, nil
}

// Record is a single stored memory.
type Record struct {
	ID         int64          `json:"id"`
	Type       RecordType     `json:"type"`
	Content    any            `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Importance int            `json:"importance"`
}

// Expired reports whether the record is logically deleted at now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// StoreParams holds parameters for storing a record.
type StoreParams struct {
	Content    any
	Type       RecordType
	Metadata   map[string]any
	ExpiresAt  *time.Time
	Importance int
}

// RetrieveParams holds parameters for listing records.
type RetrieveParams struct {
	Type          RecordType // empty means all types
	Limit         int
	MinImportance int
}

func validateImportance(importance int) error {
	if importance < MinImportance || importance > MaxImportance {
		return memerr.NewValidationError("importance %d out of range [%d,%d]", importance, MinImportance, MaxImportance)
	}
	return nil
}

// Timestamps are stored as Unix nanoseconds, which bounds the representable
// expiry instants.
var (
	minExpiresAt = time.Unix(0, math.MinInt64)
	maxExpiresAt = time.Unix(0, math.MaxInt64)
)

func validateExpiresAt(t *time.Time) error {
	if t == nil {
		return nil
	}
	if t.Before(minExpiresAt) || t.After(maxExpiresAt) {
		return memerr.NewValidationError("expires_at %s outside supported range [%s, %s]",
			t.UTC().Format(time.RFC3339), minExpiresAt.UTC().Format(time.RFC3339), maxExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}
