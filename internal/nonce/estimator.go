// Package nonce infers the next usable nonce for an account from the provider's
// transaction count and the transactions still queued locally.
// This is an internal package and should not be imported directly by external code.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// CountReader reports how many transactions an account has sent.
type CountReader interface {
	TransactionCount(ctx context.Context, account common.Address) (uint64, error)
}

// QueueCounter reports how many locally queued transactions for an account
// have not been confirmed yet.
type QueueCounter interface {
	CountUnconfirmed(account common.Address) int
}

// Estimator infers nonces. Reserve serializes inference and insertion per
// account so two concurrent dispatches never observe the same queue size.
type Estimator struct {
	reader CountReader
	queue  QueueCounter

	// walletLocks provides per-account locking
	walletLocks sync.Map // map[common.Address]*sync.Mutex
}

// NewEstimator creates an estimator over the given reader and queue
func NewEstimator(reader CountReader, queue QueueCounter) *Estimator {
	return &Estimator{
		reader: reader,
		queue:  queue,
	}
}

func (e *Estimator) getWalletLock(account common.Address) *sync.Mutex {
	lock, _ := e.walletLocks.LoadOrStore(account, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Infer returns providerCount + queuedUnconfirmed for the account.
func (e *Estimator) Infer(ctx context.Context, account common.Address) (uint64, error) {
	onChain, err := e.reader.TransactionCount(ctx, account)
	if err != nil {
		logger.WithFields(logger.Fields{
			"wallet": account.Hex(),
			"error":  err,
		}).Debug("inferNonce: transaction count unavailable")
		return 0, errors.Join(ErrCountUnavailable, fmt.Errorf("account %s: %w", account.Hex(), err))
	}

	queued := e.queue.CountUnconfirmed(account)
	next := onChain + uint64(queued)

	logger.WithFields(logger.Fields{
		"wallet":         account.Hex(),
		"provider_count": onChain,
		"queued":         queued,
		"nonce":          next,
	}).Debug("inferNonce: nonce inferred")

	return next, nil
}

// Reserve infers the next nonce and hands it to commit while holding the
// account lock. commit is expected to insert the record that consumes the
// nonce; if it fails, the nonce is not considered used.
func (e *Estimator) Reserve(ctx context.Context, account common.Address, commit func(nonce uint64) error) (uint64, error) {
	lock := e.getWalletLock(account)
	lock.Lock()
	defer lock.Unlock()

	next, err := e.Infer(ctx, account)
	if err != nil {
		return 0, err
	}

	if err := commit(next); err != nil {
		logger.WithFields(logger.Fields{
			"wallet": account.Hex(),
			"nonce":  next,
			"error":  err,
		}).Debug("reserveNonce: commit rejected nonce")
		return 0, errors.Join(ErrReserveAborted, err)
	}
	return next, nil
}
