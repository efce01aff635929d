package assist

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var errUnspecifiedProviderFailure = fmt.Errorf("provider reported a failure without detail")

// HandleEventKind distinguishes the events a TxHandle can push.
type HandleEventKind int

const (
	HandleEventHash HandleEventKind = iota
	HandleEventReceipt
	HandleEventError
)

// HandleEvent is one notification pushed by an event-style provider.
type HandleEvent struct {
	Kind    HandleEventKind
	Hash    common.Hash
	Receipt *types.Receipt
	Err     error
}

// TxHandle streams submission progress. The channel is closed when the
// provider has nothing more to report.
type TxHandle interface {
	Events() <-chan HandleEvent
}

// ChanHandle is a TxHandle backed by a plain channel.
type ChanHandle chan HandleEvent

func (c ChanHandle) Events() <-chan HandleEvent { return c }

// EventProvider submits a transaction and pushes its progress through a handle.
type EventProvider interface {
	SendTransaction(ctx context.Context, params TxParams) (TxHandle, error)
}

// EventAdapter forwards a handle's hash, receipt and error events to Handlers.
type EventAdapter struct {
	provider EventProvider
}

// NewEventAdapter creates an adapter for an event-pushing provider
func NewEventAdapter(provider EventProvider) *EventAdapter {
	return &EventAdapter{provider: provider}
}

func (a *EventAdapter) Submit(ctx context.Context, params TxParams, h Handlers) {
	go a.run(ctx, params, h)
}

func (a *EventAdapter) run(ctx context.Context, params TxParams, h Handlers) {
	handle, err := a.provider.SendTransaction(ctx, params)
	if err != nil {
		h.OnError(ClassifyProviderError(err))
		return
	}

	events := handle.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				h.done()
				return
			}
			switch ev.Kind {
			case HandleEventHash:
				h.OnHash(ev.Hash)
			case HandleEventReceipt:
				h.OnReceipt(ev.Receipt)
			case HandleEventError:
				err := ev.Err
				if err == nil {
					err = errUnspecifiedProviderFailure
				}
				h.OnError(ClassifyProviderError(err))
				return
			}
		}
	}
}
