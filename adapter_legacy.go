package assist

import (
	"context"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tenfinney/assist/internal/clock"
)

// LegacyProvider submits a transaction and returns its hash, leaving the
// caller to poll for the receipt.
type LegacyProvider interface {
	SendTransaction(ctx context.Context, params TxParams) (common.Hash, error)
	// TransactionReceipt returns nil, nil while the transaction is not mined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// BlockNumberReader is implemented by legacy providers that can report the
// chain head, enabling confirmation depth tracking.
type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// LegacyAdapter drives a LegacyProvider: submit, report the hash, poll for
// the receipt, then report it again once it is buried Confirmations blocks deep.
type LegacyAdapter struct {
	provider      LegacyProvider
	pollInterval  time.Duration
	confirmations uint64
	clock         clock.Clock
}

// LegacyAdapterOption configures a LegacyAdapter
type LegacyAdapterOption func(*LegacyAdapter)

// WithPollInterval sets the receipt polling interval
func WithPollInterval(d time.Duration) LegacyAdapterOption {
	return func(a *LegacyAdapter) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

// WithConfirmations sets how many blocks past the receipt block must exist
// before the second receipt is reported. With zero, delivery ends right after
// the first receipt.
func WithConfirmations(n uint64) LegacyAdapterOption {
	return func(a *LegacyAdapter) {
		a.confirmations = n
	}
}

// WithAdapterClock sets the clock used between polls
func WithAdapterClock(c clock.Clock) LegacyAdapterOption {
	return func(a *LegacyAdapter) {
		a.clock = c
	}
}

// NewLegacyAdapter creates an adapter for a polling provider
func NewLegacyAdapter(provider LegacyProvider, opts ...LegacyAdapterOption) *LegacyAdapter {
	a := &LegacyAdapter{
		provider:      provider,
		pollInterval:  DefaultPollInterval,
		confirmations: DefaultConfirmations,
		clock:         clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LegacyAdapter) Submit(ctx context.Context, params TxParams, h Handlers) {
	go a.run(ctx, params, h)
}

func (a *LegacyAdapter) run(ctx context.Context, params TxParams, h Handlers) {
	hash, err := a.provider.SendTransaction(ctx, params)
	if err != nil {
		h.OnError(ClassifyProviderError(err))
		return
	}
	h.OnHash(hash)

	receipt, err := a.pollReceipt(ctx, hash)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.OnError(newTxError(EventTxSendFail, ErrProviderUnavailable, err.Error(), err))
		return
	}
	h.OnReceipt(receipt)

	head, ok := a.provider.(BlockNumberReader)
	if ok && a.confirmations > 0 && receipt.BlockNumber != nil {
		if !a.waitForDepth(ctx, head, hash, receipt.BlockNumber.Uint64()+a.confirmations) {
			return
		}
		h.OnReceipt(receipt)
	}
	h.done()
}

func (a *LegacyAdapter) pollReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := a.provider.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("couldn't poll receipt for %s: %w", hash.Hex(), err)
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.clock.After(a.pollInterval):
		}
	}
}

// waitForDepth polls the head until it reaches target. Head read failures are
// retried since the receipt is already known.
func (a *LegacyAdapter) waitForDepth(ctx context.Context, head BlockNumberReader, hash common.Hash, target uint64) bool {
	for {
		current, err := head.BlockNumber(ctx)
		if err != nil {
			logger.WithFields(logger.Fields{
				"tx_hash": hash.Hex(),
				"target":  target,
				"error":   err,
			}).Debug("couldn't read head while waiting for confirmations, retrying")
		} else if current >= target {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-a.clock.After(a.pollInterval):
		}
	}
}
