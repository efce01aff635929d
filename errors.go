package assist

import "fmt"

// Dispatch and lifecycle errors
var (
	ErrInsufficientFunds   = fmt.Errorf("user has insufficient funds to complete transaction")
	ErrProviderUnavailable = fmt.Errorf("provider unavailable")
	ErrUserRejected        = fmt.Errorf("user denied transaction signature")
	ErrUnderpriced         = fmt.Errorf("transaction underpriced")
	ErrGasEstimation       = fmt.Errorf("gas estimation failed")

	ErrTxNotFound        = fmt.Errorf("transaction not found in queue")
	ErrTxExists          = fmt.Errorf("transaction id already used")
	ErrInvalidTransition = fmt.Errorf("invalid status transition")
	ErrNonceAssigned     = fmt.Errorf("nonce cannot change once assigned")
	ErrAccountZero       = fmt.Errorf("sending account cannot be zero")
	ErrNoAdapter         = fmt.Errorf("no protocol adapter configured")
	ErrDispatcherClosed  = fmt.Errorf("dispatcher is closed")

	ErrDuplicateIdempotencyKey = fmt.Errorf("duplicate idempotency key: transaction already dispatched")
)

// TxError is a classified failure carrying the event code emitted for it.
// It unwraps to both the sentinel for its code and the underlying cause.
type TxError struct {
	Code     EventCode
	Reason   string
	Sentinel error
	Cause    error
}

func (e *TxError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Reason {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *TxError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Sentinel != nil {
		errs = append(errs, e.Sentinel)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func newTxError(code EventCode, sentinel error, reason string, cause error) *TxError {
	return &TxError{
		Code:     code,
		Reason:   reason,
		Sentinel: sentinel,
		Cause:    cause,
	}
}
