package assist

import (
	"time"
)

// EventCode identifies a lifecycle notification.
type EventCode string

const (
	EventTxRequest          EventCode = "txRequest"
	EventTxSent             EventCode = "txSent"
	EventTxConfirmedClient  EventCode = "txConfirmedClient"
	EventTxSendFail         EventCode = "txSendFail"
	EventTxUnderpriced      EventCode = "txUnderpriced"
	EventNsfFail            EventCode = "nsfFail"
	EventTxRepeat           EventCode = "txRepeat"
	EventTxAwaitingApproval EventCode = "txAwaitingApproval"
	EventTxConfirmReminder  EventCode = "txConfirmReminder"
	EventTxStall            EventCode = "txStall"
)

// EventCodes lists every code the dispatcher can emit.
var EventCodes = []EventCode{
	EventTxRequest,
	EventTxSent,
	EventTxConfirmedClient,
	EventTxSendFail,
	EventTxUnderpriced,
	EventNsfFail,
	EventTxRepeat,
	EventTxAwaitingApproval,
	EventTxConfirmReminder,
	EventTxStall,
}

func (c EventCode) String() string { return string(c) }

// Event is the payload handed to notifiers. Transaction is a snapshot taken
// after the state change that produced the event.
type Event struct {
	EventCode    EventCode          `json:"eventCode"`
	CategoryCode string             `json:"categoryCode"`
	Transaction  *TransactionRecord `json:"transaction"`
	Contract     *ContractMeta      `json:"contract,omitempty"`
	Wallet       WalletSnapshot     `json:"wallet"`
	Reason       string             `json:"reason,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// TransactionID is a convenience accessor tolerant of preflight events that
// have no queued record behind them.
func (e Event) TransactionID() string {
	if e.Transaction == nil {
		return ""
	}
	return e.Transaction.ID
}
