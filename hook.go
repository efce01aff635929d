package assist

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallbackResult is delivered to a request callback on success.
type CallbackResult struct {
	ID      string
	Hash    common.Hash
	Receipt *types.Receipt
}

// Callback is the error-first completion hook of a request. It is called
// once when the hash is obtained and once on confirmation with a nil err,
// or once with the error when preflight or submission fails.
type Callback func(err error, result CallbackResult)

func invokeCallback(cb Callback, err error, result CallbackResult) {
	if cb == nil {
		return
	}
	cb(err, result)
}
