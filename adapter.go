package assist

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Handlers receive the outcome of a submission. OnHash fires at most once
// and precedes any OnReceipt. OnReceipt may fire more than once as
// confirmations accumulate. OnError fires at most once and ends delivery.
// OnDone fires when delivery ends without an error, so no further receipt
// will follow. It does not fire when ctx is cancelled.
type Handlers struct {
	OnHash    func(hash common.Hash)
	OnReceipt func(receipt *types.Receipt)
	OnError   func(err *TxError)
	OnDone    func()
}

func (h Handlers) done() {
	if h.OnDone != nil {
		h.OnDone()
	}
}

// ProtocolAdapter hides whether the provider reports progress by polling or
// by pushing events. Submit returns immediately; handlers run on other
// goroutines until ctx is cancelled or delivery ends.
type ProtocolAdapter interface {
	Submit(ctx context.Context, params TxParams, handlers Handlers)
}

// ProtocolAdapterFunc adapts a function to ProtocolAdapter. It is useful for
// contract-call collaborators that bring their own send operation.
type ProtocolAdapterFunc func(ctx context.Context, params TxParams, handlers Handlers)

func (f ProtocolAdapterFunc) Submit(ctx context.Context, params TxParams, handlers Handlers) {
	f(ctx, params, handlers)
}
