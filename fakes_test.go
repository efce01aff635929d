package assist

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/tenfinney/assist/internal/circuitbreaker"
	"github.com/tenfinney/assist/internal/clock"
	"github.com/tenfinney/assist/testutil"
)

// fakeProvider serves balances and transaction counts from maps.
type fakeProvider struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	counts     map[common.Address]uint64
	balanceErr error
	countErr   error
	reads      int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		balances: map[common.Address]*big.Int{},
		counts:   map[common.Address]uint64{},
	}
}

func (p *fakeProvider) setBalance(account common.Address, balance *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[account] = balance
}

func (p *fakeProvider) setCount(account common.Address, count uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[account] = count
}

func (p *fakeProvider) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.balanceErr != nil {
		return nil, p.balanceErr
	}
	if b, ok := p.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (p *fakeProvider) TransactionCount(_ context.Context, account common.Address) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.countErr != nil {
		return 0, p.countErr
	}
	return p.counts[account], nil
}

// gasProvider also estimates gas and suggests a price.
type gasProvider struct {
	*fakeProvider
	gas         uint64
	price       *big.Int
	estimateErr error
}

func (p *gasProvider) EstimateGas(context.Context, TxParams) (uint64, error) {
	if p.estimateErr != nil {
		return 0, p.estimateErr
	}
	return p.gas, nil
}

func (p *gasProvider) SuggestGasPrice(context.Context) (*big.Int, error) { return p.price, nil }

// submission is one captured call to scriptedAdapter.Submit.
type submission struct {
	params   TxParams
	handlers Handlers
}

// scriptedAdapter records submissions so tests drive the handlers by hand.
type scriptedAdapter struct {
	mu          sync.Mutex
	submissions []submission
}

func (a *scriptedAdapter) Submit(_ context.Context, params TxParams, h Handlers) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submissions = append(a.submissions, submission{params: params, handlers: h})
}

func (a *scriptedAdapter) last(t *testing.T) submission {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.submissions, "no submission captured")
	return a.submissions[len(a.submissions)-1]
}

func (a *scriptedAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submissions)
}

// recordingNotifier keeps every event and reports a configurable live channel.
type recordingNotifier struct {
	mu        sync.Mutex
	events    []Event
	connected bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{connected: true}
}

func (n *recordingNotifier) Notify(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

func (n *recordingNotifier) setConnected(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = v
}

func (n *recordingNotifier) all() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

func (n *recordingNotifier) codes() []EventCode {
	var out []EventCode
	for _, ev := range n.all() {
		out = append(out, ev.EventCode)
	}
	return out
}

func (n *recordingNotifier) count(code EventCode) int {
	c := 0
	for _, ev := range n.all() {
		if ev.EventCode == code {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) find(code EventCode) (Event, bool) {
	for _, ev := range n.all() {
		if ev.EventCode == code {
			return ev, true
		}
	}
	return Event{}, false
}

// callbackRecorder captures callback invocations.
type callbackRecorder struct {
	mu      sync.Mutex
	errs    []error
	results []CallbackResult
}

func (c *callbackRecorder) callback() Callback {
	return func(err error, result CallbackResult) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.errs = append(c.errs, err)
		c.results = append(c.results, result)
	}
}

func (c *callbackRecorder) calls() ([]error, []CallbackResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...), append([]CallbackResult(nil), c.results...)
}

// harness wires a dispatcher to fakes and a fake clock.
type harness struct {
	clock    *clock.Fake
	provider *fakeProvider
	adapter  *scriptedAdapter
	notifier *recordingNotifier
	d        *Dispatcher
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewFake(testutil.Epoch),
		provider: newFakeProvider(),
		adapter:  &scriptedAdapter{},
		notifier: newRecordingNotifier(),
	}
	h.provider.setBalance(testutil.TestAddr1, testutil.OneEth)

	base := []Option{
		WithAccount(testutil.TestAddr1),
		WithNetwork(testutil.NewNetwork(1337, "devnet")),
		WithClock(h.clock),
		WithNotifier(h.notifier),
		WithProviderName("metamask"),
		WithCircuitBreaker(circuitbreaker.Config{TripAfter: 100, Cooldown: time.Minute}),
	}
	h.d = NewDispatcher(h.provider, h.adapter, append(base, opts...)...)
	t.Cleanup(h.d.Close)
	return h
}

// transfer builds a plain value transfer costing 21000 * 1 gwei in fees.
func (h *harness) transfer(value *big.Int) *Request {
	return h.d.R().
		SetTo(testutil.TestAddr2).
		SetValue(value).
		SetGas(testutil.TransferGas).
		SetGasPrice(testutil.OneGwei)
}

func (h *harness) status(t *testing.T, id string) Status {
	t.Helper()
	record, ok := h.d.Lookup(id)
	require.True(t, ok, "record %s not queued", id)
	return record.Status
}

func receiptFor(hash common.Hash) *types.Receipt {
	return testutil.NewSuccessReceipt(hash)
}
