// Package assist tracks wallet transactions from request to confirmation.
//
// A Dispatcher runs preflight checks (balance with fee buffer, duplicate and
// pending-approval advisories), infers the nonce, queues a TransactionRecord
// and hands the transaction to a ProtocolAdapter. Provider signals drive the
// record through
//
//	awaitingApproval -> approved -> [pending] -> [stalled] -> confirmed -> completed
//
// and every step is reported to a Notifier as an Event. Failures at any
// point before confirmation move the record to failed and remove it.
//
// # Usage
//
//	d := assist.NewDispatcher(provider, assist.NewLegacyAdapter(legacy),
//	    assist.WithAccount(account),
//	    assist.WithNotifier(notifier),
//	)
//	defer d.Close()
//
//	tx, err := d.R().
//	    SetTo(to).
//	    SetValue(value).
//	    Dispatch(ctx)
//	if err != nil {
//	    // preflight rejected the request
//	}
//	receipt, err := tx.Wait(ctx)
package assist
