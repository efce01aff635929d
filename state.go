package assist

// Status is the lifecycle stage of a TransactionRecord.
type Status string

const (
	StatusAwaitingApproval Status = "awaitingApproval"
	StatusApproved         Status = "approved"
	StatusPending          Status = "pending"
	StatusStalled          Status = "stalled"
	StatusConfirmed        Status = "confirmed"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// transitions lists the allowed forward moves. Anything else is rejected.
var transitions = map[Status][]Status{
	StatusAwaitingApproval: {StatusApproved, StatusFailed},
	StatusApproved:         {StatusPending, StatusStalled, StatusConfirmed, StatusFailed},
	StatusPending:          {StatusStalled, StatusConfirmed, StatusFailed},
	StatusStalled:          {StatusConfirmed, StatusFailed},
	StatusConfirmed:        {StatusCompleted},
}

// CanTransition reports whether a record in s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsUnconfirmed reports whether the transaction may still consume its nonce
// without having been mined.
func (s Status) IsUnconfirmed() bool {
	switch s {
	case StatusAwaitingApproval, StatusApproved, StatusPending, StatusStalled:
		return true
	default:
		return false
	}
}

// HasHash reports whether records in this status carry a provider hash.
func (s Status) HasHash() bool {
	switch s {
	case StatusApproved, StatusPending, StatusStalled, StatusConfirmed, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }
