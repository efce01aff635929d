// Package idempotency provides an idempotency key store for preventing duplicate
// dispatches. A client that retries a request with the same key gets the
// transaction that is already in flight instead of a second one.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tenfinney/assist/internal/clock"
)

var (
	ErrDuplicateKey = fmt.Errorf("duplicate idempotency key: transaction already dispatched")
	ErrKeyNotFound  = fmt.Errorf("idempotency key not found")
)

// Status of the dispatch a key was claimed for
type Status int

const (
	StatusPending   Status = iota // preflight running, no transaction id yet
	StatusSubmitted               // queued or sent to the provider
	StatusConfirmed               // mined
	StatusFailed                  // failed permanently, key may be reused
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Record is what a key currently maps to
type Record struct {
	Key       string      `json:"key"`
	Status    Status      `json:"status"`
	TxID      string      `json:"txId,omitempty"`
	TxHash    common.Hash `json:"txHash"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Store claims and tracks idempotency keys. Implementations return copies, so
// a caller must Update to persist changes to a record.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)

	// Create claims key with a pending record. If the key is taken it returns
	// the existing record together with ErrDuplicateKey.
	Create(ctx context.Context, key string) (*Record, error)

	// Update overwrites the record stored under record.Key without extending
	// its lifetime.
	Update(ctx context.Context, record *Record) error

	Delete(ctx context.Context, key string) error
}

type entry struct {
	record  Record
	expires time.Time // zero never expires
}

// InMemoryStore keeps records in process memory. Expired keys are treated as
// free on access and swept at most once per ttl during Create, so the store
// needs no background goroutine.
type InMemoryStore struct {
	ttl   time.Duration
	clock clock.Clock

	mu        sync.Mutex
	entries   map[string]entry
	lastSweep time.Time
}

// InMemoryOption configures an InMemoryStore
type InMemoryOption func(*InMemoryStore)

// WithClock sets the clock used for expiry
func WithClock(c clock.Clock) InMemoryOption {
	return func(s *InMemoryStore) {
		s.clock = c
	}
}

// NewInMemoryStore creates a store whose keys live for ttl. A ttl of zero
// keeps keys until deleted.
func NewInMemoryStore(ttl time.Duration, opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		ttl:     ttl,
		clock:   clock.New(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.clock.Now()
	return s
}

func (s *InMemoryStore) liveLocked(key string, now time.Time) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !now.Before(e.expires) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key, s.clock.Now())
	if !ok {
		return nil, ErrKeyNotFound
	}
	record := e.record
	return &record, nil
}

func (s *InMemoryStore) Create(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.sweepLocked(now)

	if e, ok := s.liveLocked(key, now); ok {
		existing := e.record
		return &existing, ErrDuplicateKey
	}

	e := entry{record: Record{
		Key:       key,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	if s.ttl > 0 {
		e.expires = now.Add(s.ttl)
	}
	s.entries[key] = e

	record := e.record
	return &record, nil
}

func (s *InMemoryStore) Update(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	e, ok := s.liveLocked(record.Key, now)
	if !ok {
		return ErrKeyNotFound
	}
	record.UpdatedAt = now
	e.record = *record
	s.entries[record.Key] = e
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *InMemoryStore) sweepLocked(now time.Time) {
	if s.ttl <= 0 || now.Sub(s.lastSweep) < s.ttl {
		return
	}
	s.lastSweep = now
	for key, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, key)
		}
	}
}
