package assist

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ProviderErrorKind is the structured category a provider may attach to an error.
type ProviderErrorKind int

const (
	ProviderErrorUnknown ProviderErrorKind = iota
	ProviderErrorUserRejected
	ProviderErrorUnderpriced
	ProviderErrorUnavailable
)

// ProviderError lets providers report a known failure kind instead of
// relying on message text.
type ProviderError struct {
	Kind    ProviderErrorKind
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "provider error"
}

func (e *ProviderError) Unwrap() error { return e.Err }

// JSON-RPC codes with a known meaning for submission.
const (
	rpcCodeUserRejected = 4001
)

// messages that mean the account can't cover value plus fees
var insufficientFundsMarkers = []string{
	"insufficient funds",
}

// messages that mean the gas price was too low to be accepted
var underpricedMarkers = []string{
	"underpriced",
	"fee too low",
	"max fee per gas less than block base fee",
}

// ClassifyProviderError maps a submission failure onto the event code and
// sentinel to report. Structured information wins; the message text is the
// fallback. Anything unrecognized is a send failure with the user-rejection
// reason.
func ClassifyProviderError(err error) *TxError {
	if err == nil {
		return nil
	}

	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		switch providerErr.Kind {
		case ProviderErrorUnderpriced:
			return underpriced(err)
		case ProviderErrorUserRejected:
			return rejected(err)
		case ProviderErrorUnavailable:
			return newTxError(EventTxSendFail, ErrProviderUnavailable, providerErr.Error(), err)
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcCodeUserRejected {
		return rejected(err)
	}

	if containsAny(err, underpricedMarkers) {
		return underpriced(err)
	}
	return rejected(err)
}

func underpriced(cause error) *TxError {
	return newTxError(EventTxUnderpriced, ErrUnderpriced, ErrUnderpriced.Error(), cause)
}

func rejected(cause error) *TxError {
	return newTxError(EventTxSendFail, ErrUserRejected, "User denied transaction signature", cause)
}

func containsAny(err error, markers []string) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// estimateAnswered reports whether a gas estimation error came back from the
// node, such as a revert or a JSON-RPC error object, rather than from failing
// to reach it.
func estimateAnswered(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return true
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return containsAny(err, insufficientFundsMarkers)
}

// classifyEstimateError maps an answered estimation failure onto nsfFail when
// the node says the account can't pay, and txSendFail otherwise.
func classifyEstimateError(err error) *TxError {
	if containsAny(err, insufficientFundsMarkers) {
		return newTxError(EventNsfFail, ErrInsufficientFunds, ErrInsufficientFunds.Error(), err)
	}
	return newTxError(EventTxSendFail, ErrGasEstimation, ErrGasEstimation.Error(), err)
}
