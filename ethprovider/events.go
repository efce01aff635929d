package ethprovider

import (
	"context"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tenfinney/assist"
	"github.com/tenfinney/assist/internal/clock"
)

// EventClient wraps Client as an assist.EventProvider: the handle reports
// the hash, the receipt once mined, and the receipt again once the chain
// head is Confirmations blocks past it.
type EventClient struct {
	*Client
	confirmations uint64
	headInterval  time.Duration
	clock         clock.Clock
}

// EventOption configures an EventClient
type EventOption func(*EventClient)

// WithEventConfirmations sets the depth of the second receipt report. Zero
// disables it.
func WithEventConfirmations(n uint64) EventOption {
	return func(c *EventClient) {
		c.confirmations = n
	}
}

// WithHeadInterval sets how often the chain head is read while waiting for depth
func WithHeadInterval(d time.Duration) EventOption {
	return func(c *EventClient) {
		if d > 0 {
			c.headInterval = d
		}
	}
}

// WithEventClock sets the clock used between head reads
func WithEventClock(clk clock.Clock) EventOption {
	return func(c *EventClient) {
		c.clock = clk
	}
}

// NewEventClient creates an event-style provider over client
func NewEventClient(client *Client, opts ...EventOption) *EventClient {
	c := &EventClient{
		Client:        client,
		confirmations: assist.DefaultConfirmations,
		headInterval:  assist.DefaultPollInterval,
		clock:         clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendTransaction signs and broadcasts params. Signing and broadcast errors
// are returned directly; later failures arrive on the handle.
func (c *EventClient) SendTransaction(ctx context.Context, params assist.TxParams) (assist.TxHandle, error) {
	signed, err := c.sign(params)
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}

	handle := make(assist.ChanHandle, 3)
	handle <- assist.HandleEvent{Kind: assist.HandleEventHash, Hash: signed.Hash()}
	go c.watch(ctx, signed, handle)
	return handle, nil
}

func (c *EventClient) watch(ctx context.Context, tx *types.Transaction, handle assist.ChanHandle) {
	defer close(handle)

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		if ctx.Err() == nil {
			handle <- assist.HandleEvent{Kind: assist.HandleEventError, Err: &assist.ProviderError{
				Kind: assist.ProviderErrorUnavailable,
				Err:  err,
			}}
		}
		return
	}
	handle <- assist.HandleEvent{Kind: assist.HandleEventReceipt, Receipt: receipt}

	if c.confirmations == 0 || receipt.BlockNumber == nil {
		return
	}
	target := receipt.BlockNumber.Uint64() + c.confirmations
	for {
		head, err := c.backend.BlockNumber(ctx)
		if err == nil && head >= target {
			handle <- assist.HandleEvent{Kind: assist.HandleEventReceipt, Receipt: receipt}
			return
		}
		if err != nil {
			logger.WithFields(logger.Fields{
				"tx_hash": tx.Hash().Hex(),
				"error":   err,
			}).Debug("couldn't read chain head, retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.headInterval):
		}
	}
}
