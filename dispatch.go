package assist

import (
	"context"
	"errors"
	"fmt"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/tenfinney/assist/idempotency"
	"github.com/tenfinney/assist/internal/metrics"
)

func (d *Dispatcher) dispatch(ctx context.Context, r *Request) (*Tx, error) {
	if d.closed() {
		return nil, ErrDispatcherClosed
	}

	adapter := r.adapter
	if adapter == nil {
		adapter = d.adapter
	}
	if adapter == nil {
		return nil, ErrNoAdapter
	}

	params := r.params.clone()
	if params.From == (common.Address{}) {
		return nil, ErrAccountZero
	}
	params.Value = orZero(params.Value)
	params.GasPrice = orZero(params.GasPrice)
	params.Hash = common.Hash{}

	category := r.category
	if category == "" {
		category = CategoryActiveTransaction
		if r.contract != nil {
			category = CategoryActiveContract
		}
	}

	if r.idempotencyKey != "" && d.idempotencyStore != nil {
		existing, err := d.claimIdempotencyKey(ctx, r.idempotencyKey)
		if existing != nil || err != nil {
			return existing, err
		}
	}

	tx, err := d.preflightAndQueue(ctx, adapter, params, category, r.contract.clone(), r.callback, r.idempotencyKey)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(category, "rejected").Inc()
		if r.idempotencyKey != "" && d.idempotencyStore != nil {
			d.updateIdempotency(r.idempotencyKey, idempotency.StatusFailed, "", common.Hash{}, err)
		}
		return nil, err
	}
	metrics.DispatchTotal.WithLabelValues(category, "accepted").Inc()
	return tx, nil
}

// claimIdempotencyKey returns the handle of a transaction already dispatched
// under key, or nil if the key is free and now held by the caller.
func (d *Dispatcher) claimIdempotencyKey(ctx context.Context, key string) (*Tx, error) {
	record, err := d.idempotencyStore.Create(ctx, key)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, idempotency.ErrDuplicateKey) {
		return nil, errors.Join(ErrProviderUnavailable, fmt.Errorf("couldn't claim idempotency key %q: %w", key, err))
	}

	if record != nil && record.Status == idempotency.StatusFailed {
		if err := d.idempotencyStore.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("couldn't reset failed idempotency key %q: %w", key, err)
		}
		return d.claimIdempotencyKey(ctx, key)
	}

	if record != nil && record.TxID != "" {
		if state := d.loadInflight(record.TxID); state != nil {
			logger.WithFields(logger.Fields{
				"idempotency_key": key,
				"tx_id":           record.TxID,
				"status":          record.Status.String(),
			}).Info("returning in-flight transaction for idempotency key")
			return state.tx, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, key)
}

func (d *Dispatcher) updateIdempotency(key string, status idempotency.Status, txID string, hash common.Hash, cause error) {
	if key == "" || d.idempotencyStore == nil {
		return
	}
	ctx := context.Background()
	record, err := d.idempotencyStore.Get(ctx, key)
	if err != nil {
		logger.WithFields(logger.Fields{
			"idempotency_key": key,
			"error":           err,
		}).Warn("couldn't load idempotency record")
		return
	}
	record.Status = status
	if txID != "" {
		record.TxID = txID
	}
	if hash != (common.Hash{}) {
		record.TxHash = hash
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	if err := d.idempotencyStore.Update(ctx, record); err != nil {
		logger.WithFields(logger.Fields{
			"idempotency_key": key,
			"error":           err,
		}).Warn("couldn't update idempotency record")
	}
}

func (d *Dispatcher) preflightAndQueue(
	ctx context.Context,
	adapter ProtocolAdapter,
	params TxParams,
	category string,
	contract *ContractMeta,
	callback Callback,
	idempotencyKey string,
) (*Tx, error) {
	id := uuid.NewString()
	fail := func(err error) (*Tx, error) {
		invokeCallback(callback, err, CallbackResult{ID: id})
		return nil, err
	}

	balance, err := d.readBalance(ctx, params.From)
	if err != nil {
		return fail(err)
	}

	newCandidate := func() *TransactionRecord {
		return &TransactionRecord{
			ID:        id,
			Category:  category,
			Params:    params,
			Contract:  contract,
			StartTime: d.clock.Now(),
		}
	}
	rejectFunds := func(fields logger.Fields, cause error) (*Tx, error) {
		fields["wallet"] = params.From.Hex()
		fields["chain_id"] = d.network.GetChainID()
		fields["balance"] = balance.String()
		logger.WithFields(fields).Info("preflight rejected: insufficient funds")

		snapshot := newCandidate()
		snapshot.Status = StatusFailed
		d.emit(EventNsfFail, CategoryActivePreflight, snapshot, ErrInsufficientFunds.Error())
		return fail(newTxError(EventNsfFail, ErrInsufficientFunds, ErrInsufficientFunds.Error(), cause))
	}

	if err := d.fillGas(ctx, &params); err != nil {
		var txErr *TxError
		if errors.As(err, &txErr) && txErr.Code == EventNsfFail {
			return rejectFunds(logger.Fields{"error": txErr.Cause}, txErr.Cause)
		}
		return fail(err)
	}

	check := NewBalanceValidator(d.Defaults().FeeBufferDivisor).Check(balance, params.Value, params.Gas, params.GasPrice)
	if !check.Sufficient {
		return rejectFunds(logger.Fields{
			"total_cost": check.TotalCost.String(),
			"fee":        check.Fee.String(),
			"buffer":     check.Buffer.String(),
		}, nil)
	}

	candidate := newCandidate()

	if d.duplicates.IsDuplicate(params, contract) {
		logger.WithFields(logger.Fields{
			"wallet": params.From.Hex(),
			"to":     params.To.Hex(),
			"value":  params.Value.String(),
		}).Info("preflight: duplicate of an in-flight transaction")
		d.emit(EventTxRepeat, CategoryActivePreflight, candidate.Clone(), "")
	}

	if d.queue.AnyAwaitingApproval() {
		d.emit(EventTxAwaitingApproval, CategoryActivePreflight, candidate.Clone(), "")
	}

	tx := newTx(id)
	g := d.txGate(id)
	var (
		queued  *TransactionRecord
		request uint64
	)
	_, err = d.nonces.Reserve(ctx, params.From, func(n uint64) error {
		record := candidate.Clone()
		record.Params.Nonce = n
		record.Status = StatusAwaitingApproval
		record.UpdatedAt = record.StartTime

		g.mu.Lock()
		defer g.mu.Unlock()

		if err := d.queue.Insert(record); err != nil {
			return err
		}
		d.inflight.Store(id, &inflight{
			tx:             tx,
			callback:       callback,
			idempotencyKey: idempotencyKey,
		})
		metrics.QueueSize.Set(float64(d.queue.Len()))

		request = g.ticket()
		d.monitor.Arm(id, TimerApprovalReminder, d.Defaults().ReminderDelay, d.onApprovalReminder)
		queued = record
		return nil
	})
	if err != nil {
		d.txGates.Delete(id)
		return fail(err)
	}
	// txRequest is delivered outside the account lock, still ahead of any
	// event the reminder timer or adapter produce for this transaction
	d.deliver(g, request, []pendingEvent{{code: EventTxRequest, category: category, record: queued.Clone()}})

	logger.WithFields(logger.Fields{
		"tx_id":    id,
		"wallet":   params.From.Hex(),
		"chain_id": d.network.GetChainID(),
		"nonce":    queued.Params.Nonce,
		"to":       params.To.Hex(),
		"category": category,
	}).Info("transaction queued, awaiting approval")

	d.updateIdempotency(idempotencyKey, idempotency.StatusSubmitted, id, common.Hash{}, nil)

	adapter.Submit(d.ctx, queued.Params, d.handlersFor(id))
	return tx, nil
}
