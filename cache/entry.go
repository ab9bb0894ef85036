package cache

import (
	"strings"
	"time"
)

// Priority controls how an entry competes for space in the in-process tier.
// High priority entries are never chosen as LRU eviction victims.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority maps a textual priority to a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func (p Priority) orDefault() Priority {
	if p == "" {
		return PriorityMedium
	}
	return p
}

// Entry is a single cached value together with its bookkeeping metadata.
type Entry struct {
	Key         string
	Value       any
	CreatedAt   time.Time
	TTL         time.Duration
	TenantID    string
	Priority    Priority
	AccessCount int64
	LastAccess  time.Time
}

// ExpiresAt returns the instant after which the entry is logically absent.
func (e Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether now is past CreatedAt + TTL.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// EntryOptions carries the per-write metadata accepted by a tier.
// A zero TTL means the tier default.
type EntryOptions struct {
	TenantID string
	Priority Priority
	TTL      time.Duration
}

// StoredEntry is the persistent-tier representation of an entry. The value
// is kept as an encoded payload so the store never needs to know its type.
type StoredEntry struct {
	Key         string
	TenantID    string
	Payload     []byte
	Priority    Priority
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessCount int64
	LastAccess  time.Time
}

// Expired reports whether now is past the stored expiry.
func (e StoredEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Clock returns the current time. Tiers and the orchestrator accept one so
// tests can drive expiry deterministically.
type Clock func() time.Time
