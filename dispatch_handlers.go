package assist

import (
	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tenfinney/assist/idempotency"
	"github.com/tenfinney/assist/internal/metrics"
)

// handlersFor binds adapter callbacks to the lifecycle of one transaction.
func (d *Dispatcher) handlersFor(id string) Handlers {
	return Handlers{
		OnHash:    func(hash common.Hash) { d.onHash(id, hash) },
		OnReceipt: func(receipt *types.Receipt) { d.onReceipt(id, receipt) },
		OnError:   func(err *TxError) { d.onError(id, err) },
		OnDone:    func() { d.onDone(id) },
	}
}

// approveLocked moves an awaiting record to approved with its hash and
// returns the txSent event to deliver. Caller holds the gate.
func (d *Dispatcher) approveLocked(id string, hash common.Hash) (*TransactionRecord, pendingEvent, error) {
	approved, err := d.queue.Update(id, func(r *TransactionRecord) error {
		r.Status = StatusApproved
		r.Params.Hash = hash
		r.UpdatedAt = d.clock.Now()
		return nil
	})
	if err != nil {
		return nil, pendingEvent{}, err
	}

	d.monitor.Cancel(id, TimerApprovalReminder)
	d.monitor.Arm(id, TimerStall, d.Defaults().StallDelay, d.onStallTimer)

	logger.WithFields(logger.Fields{
		"tx_id":    id,
		"tx_hash":  hash.Hex(),
		"wallet":   approved.Params.From.Hex(),
		"chain_id": d.network.GetChainID(),
		"nonce":    approved.Params.Nonce,
	}).Info("transaction approved and broadcasted")
	return approved, pendingEvent{code: EventTxSent, category: approved.Category, record: approved.Clone()}, nil
}

func (d *Dispatcher) onHash(id string, hash common.Hash) {
	g := d.txGate(id)
	g.mu.Lock()

	record, ok := d.queue.Get(id)
	if !ok || record.Status != StatusAwaitingApproval {
		if !ok {
			d.forgetGate(id, g)
		}
		g.mu.Unlock()
		logger.WithFields(logger.Fields{
			"tx_id":   id,
			"tx_hash": hash.Hex(),
		}).Debug("ignoring hash for transaction no longer awaiting approval")
		return
	}

	_, sent, err := d.approveLocked(id, hash)
	if err != nil {
		g.mu.Unlock()
		logger.WithFields(logger.Fields{
			"tx_id": id,
			"error": err,
		}).Error("couldn't record transaction hash")
		return
	}
	d.unlockAndEmit(g, sent)

	d.afterApproved(id, hash)
}

func (d *Dispatcher) afterApproved(id string, hash common.Hash) {
	state := d.loadInflight(id)
	if state == nil {
		return
	}
	state.tx.resolveHash(hash)
	invokeCallback(state.callback, nil, CallbackResult{ID: id, Hash: hash})
}

func (d *Dispatcher) onReceipt(id string, receipt *types.Receipt) {
	if receipt == nil {
		return
	}

	g := d.txGate(id)
	g.mu.Lock()

	record, ok := d.queue.Get(id)
	if !ok {
		d.forgetGate(id, g)
		g.mu.Unlock()
		return
	}

	// a provider may skip the hash event; the receipt carries it
	var events []pendingEvent
	approvedByReceipt := false
	if record.Status == StatusAwaitingApproval {
		approved, sent, err := d.approveLocked(id, receipt.TxHash)
		if err != nil {
			g.mu.Unlock()
			logger.WithFields(logger.Fields{
				"tx_id": id,
				"error": err,
			}).Error("couldn't approve transaction from receipt")
			return
		}
		record = approved
		events = append(events, sent)
		approvedByReceipt = true
	}

	switch record.Status {
	case StatusApproved, StatusPending, StatusStalled:
		confirmed, err := d.queue.Update(id, func(r *TransactionRecord) error {
			r.Status = StatusConfirmed
			r.Receipt = receipt
			r.UpdatedAt = d.clock.Now()
			return nil
		})
		if err != nil {
			d.unlockAndEmit(g, events...)
			logger.WithFields(logger.Fields{
				"tx_id": id,
				"error": err,
			}).Error("couldn't confirm transaction")
			return
		}
		d.monitor.Cancel(id, TimerStall)
		events = append(events, pendingEvent{code: EventTxConfirmedClient, category: confirmed.Category, record: confirmed.Clone()})
		d.unlockAndEmit(g, events...)

		metrics.ConfirmationDuration.Observe(confirmed.UpdatedAt.Sub(confirmed.StartTime).Seconds())
		fields := logger.Fields{
			"tx_id":    id,
			"tx_hash":  receipt.TxHash.Hex(),
			"chain_id": d.network.GetChainID(),
			"status":   receipt.Status,
		}
		if receipt.BlockNumber != nil {
			fields["block"] = receipt.BlockNumber.Uint64()
		}
		if receipt.Status == types.ReceiptStatusFailed {
			logger.WithFields(fields).Warn("transaction mined but reverted")
		} else {
			logger.WithFields(fields).Info("transaction confirmed")
		}

		if approvedByReceipt {
			d.afterApproved(id, receipt.TxHash)
		}
		state := d.loadInflight(id)
		if state != nil {
			state.tx.resolveReceipt(receipt)
			invokeCallback(state.callback, nil, CallbackResult{ID: id, Hash: receipt.TxHash, Receipt: receipt})
			d.updateIdempotency(state.idempotencyKey, idempotency.StatusConfirmed, "", receipt.TxHash, nil)
		}

	case StatusConfirmed:
		err := d.completeLocked(id)
		g.mu.Unlock()
		d.afterCompleted(id, receipt.TxHash, err)

	default:
		d.unlockAndEmit(g, events...)
	}
}

// onDone ends delivery for a transaction. A confirmed record no longer waits
// for a deeper receipt and completes.
func (d *Dispatcher) onDone(id string) {
	g := d.txGate(id)
	g.mu.Lock()

	record, ok := d.queue.Get(id)
	if !ok || record.Status != StatusConfirmed {
		if !ok {
			d.forgetGate(id, g)
		}
		g.mu.Unlock()
		if ok {
			logger.WithFields(logger.Fields{
				"tx_id":  id,
				"status": record.Status.String(),
			}).Debug("delivery ended before confirmation")
		}
		return
	}

	err := d.completeLocked(id)
	g.mu.Unlock()
	d.afterCompleted(id, record.Params.Hash, err)
}

// completeLocked moves a confirmed record to completed and drops it from the
// queue. Caller holds the gate.
func (d *Dispatcher) completeLocked(id string) error {
	_, err := d.queue.Update(id, func(r *TransactionRecord) error {
		r.Status = StatusCompleted
		r.UpdatedAt = d.clock.Now()
		return nil
	})
	if err != nil {
		return err
	}
	return d.queue.Remove(id)
}

func (d *Dispatcher) afterCompleted(id string, hash common.Hash, err error) {
	if err != nil {
		logger.WithFields(logger.Fields{
			"tx_id": id,
			"error": err,
		}).Error("couldn't complete transaction")
		return
	}
	d.release(id)
	logger.WithFields(logger.Fields{
		"tx_id":   id,
		"tx_hash": hash.Hex(),
	}).Info("transaction completed")
}

func (d *Dispatcher) onError(id string, txErr *TxError) {
	if txErr == nil {
		return
	}

	g := d.txGate(id)
	g.mu.Lock()

	record, ok := d.queue.Get(id)
	if !ok || record.Status.IsTerminal() || record.Status == StatusConfirmed {
		if !ok {
			d.forgetGate(id, g)
		}
		g.mu.Unlock()
		logger.WithFields(logger.Fields{
			"tx_id": id,
			"error": txErr,
		}).Debug("ignoring error for transaction past failure point")
		return
	}

	failed, err := d.queue.Update(id, func(r *TransactionRecord) error {
		r.Status = StatusFailed
		r.UpdatedAt = d.clock.Now()
		return nil
	})
	if err != nil {
		g.mu.Unlock()
		logger.WithFields(logger.Fields{
			"tx_id": id,
			"error": err,
		}).Error("couldn't mark transaction failed")
		return
	}
	d.monitor.CancelAll(id)
	removeErr := d.queue.Remove(id)
	d.unlockAndEmit(g, pendingEvent{code: txErr.Code, category: failed.Category, record: failed.Clone(), reason: txErr.Reason})

	if removeErr != nil {
		logger.WithFields(logger.Fields{
			"tx_id": id,
			"error": removeErr,
		}).Error("couldn't remove failed transaction")
	}

	logger.WithFields(logger.Fields{
		"tx_id":      id,
		"wallet":     failed.Params.From.Hex(),
		"chain_id":   d.network.GetChainID(),
		"event_code": string(txErr.Code),
		"error":      txErr,
	}).Warn("transaction failed")

	state := d.loadInflight(id)
	d.release(id)
	if state != nil {
		state.tx.fail(txErr)
		invokeCallback(state.callback, txErr, CallbackResult{ID: id, Hash: failed.Params.Hash})
		d.updateIdempotency(state.idempotencyKey, idempotency.StatusFailed, "", failed.Params.Hash, txErr)
	}
}

func (d *Dispatcher) onApprovalReminder(id string) {
	g := d.txGate(id)
	g.mu.Lock()

	record, ok := d.queue.Get(id)
	if !ok || record.Status != StatusAwaitingApproval {
		if !ok {
			d.forgetGate(id, g)
		}
		g.mu.Unlock()
		return
	}
	d.unlockAndEmit(g, pendingEvent{code: EventTxConfirmReminder, category: record.Category, record: record})
}

func (d *Dispatcher) onStallTimer(id string) {
	g := d.txGate(id)
	g.mu.Lock()

	record, ok := d.queue.Get(id)
	if !ok || (record.Status != StatusApproved && record.Status != StatusPending) {
		if !ok {
			d.forgetGate(id, g)
		}
		g.mu.Unlock()
		return
	}
	if !d.liveConnected() {
		g.mu.Unlock()
		logger.WithFields(logger.Fields{
			"tx_id": id,
		}).Debug("live channel disconnected, not reporting stall")
		return
	}

	stalled, err := d.queue.Update(id, func(r *TransactionRecord) error {
		r.Status = StatusStalled
		r.UpdatedAt = d.clock.Now()
		return nil
	})
	if err != nil {
		g.mu.Unlock()
		logger.WithFields(logger.Fields{
			"tx_id": id,
			"error": err,
		}).Error("couldn't mark transaction stalled")
		return
	}
	d.unlockAndEmit(g, pendingEvent{code: EventTxStall, category: stalled.Category, record: stalled})
}
