package assist

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Tx is the caller's handle on a dispatched transaction. It resolves with the
// hash once the provider accepts the transaction and with the receipt once it
// is confirmed; either wait returns the error if the transaction fails first.
type Tx struct {
	id string

	mu      sync.Mutex
	hash    common.Hash
	receipt *types.Receipt
	err     error

	hashReady chan struct{}
	done      chan struct{}
	hashOnce  sync.Once
	doneOnce  sync.Once
}

func newTx(id string) *Tx {
	return &Tx{
		id:        id,
		hashReady: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the queue id of the transaction
func (t *Tx) ID() string { return t.id }

// Done is closed once the transaction is confirmed or failed.
func (t *Tx) Done() <-chan struct{} { return t.done }

// WaitHash blocks until the provider returned a hash, the transaction
// failed, or ctx is done.
func (t *Tx) WaitHash(ctx context.Context) (common.Hash, error) {
	select {
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	case <-t.hashReady:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hash == (common.Hash{}) && t.err != nil {
		return common.Hash{}, t.err
	}
	return t.hash, nil
}

// Wait blocks until the transaction is confirmed, failed, or ctx is done.
func (t *Tx) Wait(ctx context.Context) (*types.Receipt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receipt, t.err
}

func (t *Tx) resolveHash(hash common.Hash) {
	t.hashOnce.Do(func() {
		t.mu.Lock()
		t.hash = hash
		t.mu.Unlock()
		close(t.hashReady)
	})
}

func (t *Tx) resolveReceipt(receipt *types.Receipt) {
	t.resolveHash(receipt.TxHash)
	t.doneOnce.Do(func() {
		t.mu.Lock()
		t.receipt = receipt
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *Tx) fail(err error) {
	t.mu.Lock()
	if t.err == nil && t.receipt == nil {
		t.err = err
	}
	t.mu.Unlock()
	t.hashOnce.Do(func() { close(t.hashReady) })
	t.doneOnce.Do(func() { close(t.done) })
}
