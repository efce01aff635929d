package assist

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Queue is the in-memory set of in-flight transactions, kept in insertion
// order. Readers always receive clones; records change only through Update.
type Queue struct {
	mu      sync.RWMutex
	records *orderedmap.OrderedMap[string, *TransactionRecord]
	used    map[string]struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		records: orderedmap.New[string, *TransactionRecord](),
		used:    make(map[string]struct{}),
	}
}

// Insert adds a record. Ids are never reused, even after removal.
func (q *Queue) Insert(record *TransactionRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, seen := q.used[record.ID]; seen {
		return fmt.Errorf("%w: %s", ErrTxExists, record.ID)
	}
	q.used[record.ID] = struct{}{}
	q.records.Set(record.ID, record.Clone())
	return nil
}

// Get returns a copy of the record with the given id.
func (q *Queue) Get(id string) (*TransactionRecord, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	record, ok := q.records.Get(id)
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Update applies mutate to a copy of the record and stores it if the result
// keeps the id and nonce unchanged and only moves status along an allowed
// transition. The stored copy is returned.
func (q *Queue) Update(id string, mutate func(record *TransactionRecord) error) (*TransactionRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.records.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, id)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	if next.ID != current.ID {
		return nil, fmt.Errorf("%w: id changed from %s to %s", ErrInvalidTransition, current.ID, next.ID)
	}
	if next.Params.Nonce != current.Params.Nonce {
		return nil, fmt.Errorf("%w: %d -> %d", ErrNonceAssigned, current.Params.Nonce, next.Params.Nonce)
	}
	if next.Status != current.Status && !current.Status.CanTransition(next.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next.Status)
	}

	q.records.Set(id, next)
	return next.Clone(), nil
}

// Remove drops a record that reached completed or failed.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, ok := q.records.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTxNotFound, id)
	}
	if !record.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot remove %s record", ErrInvalidTransition, record.Status)
	}
	q.records.Delete(id)
	return nil
}

// Len returns the number of queued records
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.records.Len()
}

// Snapshot returns copies of every queued record in insertion order.
func (q *Queue) Snapshot() []*TransactionRecord {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*TransactionRecord, 0, q.records.Len())
	for pair := q.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Clone())
	}
	return out
}

// FindByHash returns the record whose provider hash matches.
func (q *Queue) FindByHash(hash common.Hash) (*TransactionRecord, bool) {
	if hash == (common.Hash{}) {
		return nil, false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	for pair := q.records.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Params.Hash == hash {
			return pair.Value.Clone(), true
		}
	}
	return nil, false
}

// CountUnconfirmed counts queued records from account that have not been mined.
func (q *Queue) CountUnconfirmed(account common.Address) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	count := 0
	for pair := q.records.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Params.From == account && pair.Value.Status.IsUnconfirmed() {
			count++
		}
	}
	return count
}

// AnyAwaitingApproval reports whether some record is still waiting for the
// user to approve it.
func (q *Queue) AnyAwaitingApproval() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for pair := q.records.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Status == StatusAwaitingApproval {
			return true
		}
	}
	return false
}
