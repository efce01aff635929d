package assist

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/tranvictor/jarvis/networks"

	"github.com/tenfinney/assist/idempotency"
	"github.com/tenfinney/assist/internal/circuitbreaker"
	"github.com/tenfinney/assist/internal/clock"
	"github.com/tenfinney/assist/internal/metrics"
	"github.com/tenfinney/assist/internal/nonce"
)

// Provider is the read side of the wallet provider used during preflight.
type Provider interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	TransactionCount(ctx context.Context, account common.Address) (uint64, error)
}

// GasEstimator is implemented by providers that can estimate a gas limit.
// It is consulted when a request leaves gas unset.
type GasEstimator interface {
	EstimateGas(ctx context.Context, params TxParams) (uint64, error)
}

// GasPricer is implemented by providers that can suggest a gas price.
// It is consulted when a request leaves the gas price unset.
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// inflight is the per-transaction state that lives beside the queue record
// but must not be copied into snapshots.
type inflight struct {
	tx             *Tx
	callback       Callback
	idempotencyKey string
}

// Dispatcher runs preflight checks, queues transactions, drives them
// through a ProtocolAdapter and emits lifecycle events.
//
// Locking: a per-account lock covers nonce inference through insertion, and a
// per-transaction gate covers every read-check-update sequence on one record.
// Events, callbacks and Tx resolution run after both are released; events of one
// transaction still reach the notifier in the order their updates happened.
type Dispatcher struct {
	defaultsMu sync.RWMutex
	defaults   Defaults

	account     common.Address
	network     networks.Network
	provider    Provider
	adapter     ProtocolAdapter
	notifier    Notifier
	liveChannel func() bool
	clock       clock.Clock

	queue      *Queue
	duplicates *DuplicateDetector
	nonces     *nonce.Estimator
	monitor    *LifecycleMonitor
	breaker    *circuitbreaker.Breaker
	breakerCfg circuitbreaker.Config

	idempotencyStore idempotency.Store

	txGates  sync.Map // map[string]*txGate
	inflight sync.Map // map[string]*inflight
	balances sync.Map // map[common.Address]*big.Int

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithAccount sets the sending account used when a request has no From
func WithAccount(account common.Address) Option {
	return func(d *Dispatcher) {
		d.account = account
	}
}

// WithNetwork sets the network the dispatcher operates on
func WithNetwork(network networks.Network) Option {
	return func(d *Dispatcher) {
		d.network = network
	}
}

// WithNotifier sets the event sink
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) {
		d.notifier = n
	}
}

// WithLiveChannel overrides how the dispatcher learns whether the live
// notification channel is connected
func WithLiveChannel(connected func() bool) Option {
	return func(d *Dispatcher) {
		d.liveChannel = connected
	}
}

// WithClock sets the clock driving timers
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithCircuitBreaker sets the breaker configuration for provider reads
func WithCircuitBreaker(cfg circuitbreaker.Config) Option {
	return func(d *Dispatcher) {
		d.breakerCfg = cfg
	}
}

// WithIdempotencyStore sets the store used for request idempotency keys
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(d *Dispatcher) {
		d.idempotencyStore = store
	}
}

// WithDefaultIdempotencyStore sets up an in-memory idempotency store with the given TTL
func WithDefaultIdempotencyStore(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.idempotencyStore = idempotency.NewInMemoryStore(ttl)
	}
}

// WithReminderDelay sets how long approval may take before a reminder
func WithReminderDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		d.defaults.ReminderDelay = delay
	}
}

// WithStallDelay sets how long after the hash a transaction may stay unconfirmed
func WithStallDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		d.defaults.StallDelay = delay
	}
}

// WithMinimumBalance sets the minimum balance reported in wallet snapshots
func WithMinimumBalance(minimum *big.Int) Option {
	return func(d *Dispatcher) {
		d.defaults.MinimumBalance = minimum
	}
}

// WithProviderName sets the provider name reported in wallet snapshots
func WithProviderName(name string) Option {
	return func(d *Dispatcher) {
		d.defaults.ProviderName = name
	}
}

// WithFeeBufferDivisor sets the divisor of the preflight fee buffer
func WithFeeBufferDivisor(divisor int64) Option {
	return func(d *Dispatcher) {
		d.defaults.FeeBufferDivisor = divisor
	}
}

// WithDefaults sets all default configuration at once
func WithDefaults(defaults Defaults) Option {
	return func(d *Dispatcher) {
		d.defaults = defaults
	}
}

// NewDispatcher creates a dispatcher reading from provider and submitting
// through adapter. adapter may be nil if every request brings its own.
func NewDispatcher(provider Provider, adapter ProtocolAdapter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider: provider,
		adapter:  adapter,
		defaults: Defaults{
			ReminderDelay:    DefaultReminderDelay,
			StallDelay:       DefaultStallDelay,
			FeeBufferDivisor: DefaultFeeBufferDivisor,
			MinimumBalance:   big.NewInt(0),
		},
		breakerCfg: circuitbreaker.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.clock == nil {
		d.clock = clock.New()
	}
	if d.network == nil {
		d.network = networks.EthereumMainnet
	}
	if d.breakerCfg.Clock == nil {
		d.breakerCfg.Clock = d.clock
	}

	d.queue = NewQueue()
	d.duplicates = NewDuplicateDetector(d.queue)
	d.nonces = nonce.NewEstimator(guardedReader{d: d}, d.queue)
	d.monitor = NewLifecycleMonitor(d.clock)
	d.breaker = circuitbreaker.New(d.breakerCfg)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d
}

// Defaults returns the current default configuration
func (d *Dispatcher) Defaults() Defaults {
	d.defaultsMu.RLock()
	defer d.defaultsMu.RUnlock()
	return d.defaults
}

// SetDefaults updates the default configuration. Timers already armed keep
// their original deadline.
func (d *Dispatcher) SetDefaults(defaults Defaults) {
	d.defaultsMu.Lock()
	defer d.defaultsMu.Unlock()
	d.defaults = defaults
}

// Account returns the default sending account
func (d *Dispatcher) Account() common.Address { return d.account }

// Network returns the network the dispatcher operates on
func (d *Dispatcher) Network() networks.Network { return d.network }

// Queue returns snapshots of every tracked transaction in insertion order.
func (d *Dispatcher) Queue() []*TransactionRecord {
	return d.queue.Snapshot()
}

// Lookup returns a snapshot of the transaction with the given id.
func (d *Dispatcher) Lookup(id string) (*TransactionRecord, bool) {
	return d.queue.Get(id)
}

// CircuitBreakerStats returns the provider-read breaker statistics
func (d *Dispatcher) CircuitBreakerStats() circuitbreaker.Stats {
	return d.breaker.Stats()
}

// Close stops submissions and timers. Records still in flight stay queued.
func (d *Dispatcher) Close() {
	d.cancel()
	d.monitor.Stop()
}

func (d *Dispatcher) closed() bool {
	return d.ctx.Err() != nil
}

// txGate serializes one transaction. mu covers each check and update of the
// record; events are delivered after mu is released, in the order their
// updates took mu, so notifiers may call back into the dispatcher.
type txGate struct {
	mu sync.Mutex

	issued uint64 // guarded by mu

	turnMu sync.Mutex
	turn   *sync.Cond
	served uint64 // guarded by turnMu
}

// pendingEvent is an event decided under a gate, delivered after release.
type pendingEvent struct {
	code     EventCode
	category string
	record   *TransactionRecord
	reason   string
}

func (d *Dispatcher) txGate(id string) *txGate {
	if g, ok := d.txGates.Load(id); ok {
		return g.(*txGate)
	}
	g := &txGate{}
	g.turn = sync.NewCond(&g.turnMu)
	actual, _ := d.txGates.LoadOrStore(id, g)
	return actual.(*txGate)
}

// forgetGate drops g once its record is gone, so late signals for a finished
// transaction leave nothing behind.
func (d *Dispatcher) forgetGate(id string, g *txGate) {
	d.txGates.CompareAndDelete(id, g)
}

// ticket reserves the next delivery slot. Caller holds g.mu.
func (g *txGate) ticket() uint64 {
	t := g.issued
	g.issued++
	return t
}

// unlockAndEmit releases g.mu and then delivers events in gate order.
func (d *Dispatcher) unlockAndEmit(g *txGate, events ...pendingEvent) {
	if len(events) == 0 {
		g.mu.Unlock()
		return
	}
	t := g.ticket()
	g.mu.Unlock()
	d.deliver(g, t, events)
}

func (d *Dispatcher) deliver(g *txGate, ticket uint64, events []pendingEvent) {
	g.turnMu.Lock()
	for g.served != ticket {
		g.turn.Wait()
	}
	g.turnMu.Unlock()

	for _, ev := range events {
		d.emit(ev.code, ev.category, ev.record, ev.reason)
	}

	g.turnMu.Lock()
	g.served++
	g.turn.Broadcast()
	g.turnMu.Unlock()
}

func (d *Dispatcher) loadInflight(id string) *inflight {
	v, ok := d.inflight.Load(id)
	if !ok {
		return nil
	}
	return v.(*inflight)
}

// release drops per-transaction bookkeeping once the record left the queue.
func (d *Dispatcher) release(id string) {
	d.inflight.Delete(id)
	d.txGates.Delete(id)
	metrics.QueueSize.Set(float64(d.queue.Len()))
}

// guardRead runs a provider read through the breaker and counts failures,
// including reads rejected by an open breaker.
func (d *Dispatcher) guardRead(op string, read func() error) error {
	err := d.breaker.Execute(op, read)
	if err != nil {
		metrics.ProviderReadFailures.WithLabelValues(op).Inc()
	}
	return err
}

// guardedReader routes nonce reads through the provider breaker.
type guardedReader struct {
	d *Dispatcher
}

func (g guardedReader) TransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	var count uint64
	err := g.d.guardRead("transaction_count", func() error {
		var err error
		count, err = g.d.provider.TransactionCount(ctx, account)
		return err
	})
	if err != nil {
		return 0, errors.Join(ErrProviderUnavailable, err)
	}
	return count, nil
}

func (d *Dispatcher) readBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var balance *big.Int
	err := d.guardRead("balance", func() error {
		var err error
		balance, err = d.provider.BalanceAt(ctx, account)
		return err
	})
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, fmt.Errorf("couldn't read balance of %s: %w", account.Hex(), err))
	}
	if balance == nil {
		balance = new(big.Int)
	}
	d.balances.Store(account, new(big.Int).Set(balance))
	return balance, nil
}

// fillGas asks the provider for a gas limit and price when the request left
// them unset and the provider can supply them. An estimate the node refuses
// comes back as a *TxError; unreachable providers as ErrProviderUnavailable.
func (d *Dispatcher) fillGas(ctx context.Context, params *TxParams) error {
	if params.Gas == 0 {
		if estimator, ok := d.provider.(GasEstimator); ok {
			var (
				gas      uint64
				rejected error
			)
			// a node that answers with an error is reachable; only transport
			// failures count against the breaker
			err := d.guardRead("estimate_gas", func() error {
				var err error
				gas, err = estimator.EstimateGas(ctx, *params)
				if err != nil && estimateAnswered(err) {
					rejected = err
					return nil
				}
				return err
			})
			if err != nil {
				return errors.Join(ErrProviderUnavailable, fmt.Errorf("couldn't estimate gas: %w", err))
			}
			if rejected != nil {
				return classifyEstimateError(rejected)
			}
			params.Gas = gas
		}
	}

	if params.GasPrice.Sign() == 0 {
		if pricer, ok := d.provider.(GasPricer); ok {
			var price *big.Int
			err := d.guardRead("gas_price", func() error {
				var err error
				price, err = pricer.SuggestGasPrice(ctx)
				return err
			})
			if err != nil {
				return errors.Join(ErrProviderUnavailable, fmt.Errorf("couldn't get gas price: %w", err))
			}
			if price != nil {
				params.GasPrice = price
			}
		}
	}
	return nil
}

func (d *Dispatcher) walletSnapshot(account common.Address) WalletSnapshot {
	defaults := d.Defaults()
	snapshot := WalletSnapshot{
		Provider: defaults.ProviderName,
		Address:  account,
		Minimum:  new(big.Int).Set(orZero(defaults.MinimumBalance)),
	}
	if v, ok := d.balances.Load(account); ok {
		snapshot.Balance = new(big.Int).Set(v.(*big.Int))
	}
	return snapshot
}

func (d *Dispatcher) liveConnected() bool {
	if d.liveChannel != nil {
		return d.liveChannel()
	}
	if lc, ok := d.notifier.(LiveChannel); ok {
		return lc.Connected()
	}
	return true
}

// emit builds and delivers an event. record must already be a snapshot.
func (d *Dispatcher) emit(code EventCode, category string, record *TransactionRecord, reason string) {
	event := Event{
		EventCode:    code,
		CategoryCode: category,
		Transaction:  record,
		Reason:       reason,
		Timestamp:    d.clock.Now(),
	}
	if record != nil {
		event.Contract = record.Contract.clone()
		event.Wallet = d.walletSnapshot(record.Params.From)
	}

	metrics.EventsTotal.WithLabelValues(string(code)).Inc()
	logger.WithFields(logger.Fields{
		"event_code": string(code),
		"category":   category,
		"tx_id":      event.TransactionID(),
		"chain_id":   d.network.GetChainID(),
		"reason":     reason,
	}).Debug("emitting lifecycle event")

	if d.notifier != nil {
		d.notifier.Notify(event)
	}
}

// MarkInPool records that the transaction was seen in the node's pool,
// moving it from approved to pending.
func (d *Dispatcher) MarkInPool(id string) error {
	g := d.txGate(id)
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := d.queue.Get(id)
	if !ok {
		d.forgetGate(id, g)
		return fmt.Errorf("%w: %s", ErrTxNotFound, id)
	}
	if record.Status == StatusPending {
		return nil
	}

	_, err := d.queue.Update(id, func(r *TransactionRecord) error {
		r.Status = StatusPending
		r.UpdatedAt = d.clock.Now()
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"tx_id":   id,
		"tx_hash": record.Params.Hash.Hex(),
	}).Debug("transaction seen in pool")
	return nil
}

// ObserveReceipt feeds a receipt learned out of band, for example from a
// block watcher, into the lifecycle of the matching queued transaction.
func (d *Dispatcher) ObserveReceipt(receipt *types.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("%w: nil receipt", ErrTxNotFound)
	}
	record, ok := d.queue.FindByHash(receipt.TxHash)
	if !ok {
		return fmt.Errorf("%w: hash %s", ErrTxNotFound, receipt.TxHash.Hex())
	}
	d.onReceipt(record.ID, receipt)
	return nil
}
