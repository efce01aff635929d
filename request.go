package assist

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Request is a transaction dispatch built with setters, similar to go-resty's R().
type Request struct {
	d *Dispatcher

	category       string
	params         TxParams
	contract       *ContractMeta
	callback       Callback
	adapter        ProtocolAdapter
	idempotencyKey string
}

// R creates a new dispatch request sending from the dispatcher's account.
func (d *Dispatcher) R() *Request {
	return &Request{
		d: d,
		params: TxParams{
			From:     d.account,
			Value:    big.NewInt(0),
			GasPrice: big.NewInt(0),
		},
	}
}

// SetFrom overrides the sending account
func (r *Request) SetFrom(from common.Address) *Request {
	r.params.From = from
	return r
}

// SetTo sets the recipient or contract address
func (r *Request) SetTo(to common.Address) *Request {
	r.params.To = to
	return r
}

// SetValue sets the value in wei
func (r *Request) SetValue(value *big.Int) *Request {
	if value != nil {
		r.params.Value = value
	}
	return r
}

// SetGas sets the gas limit. Zero lets the provider estimate it.
func (r *Request) SetGas(gas uint64) *Request {
	r.params.Gas = gas
	return r
}

// SetGasPrice sets the gas price in wei. Zero lets the provider suggest one.
func (r *Request) SetGasPrice(gasPrice *big.Int) *Request {
	if gasPrice != nil {
		r.params.GasPrice = gasPrice
	}
	return r
}

// SetData sets the call data
func (r *Request) SetData(data []byte) *Request {
	r.params.Data = data
	return r
}

// SetCategory sets the category code reported with lifecycle events
func (r *Request) SetCategory(category string) *Request {
	r.category = category
	return r
}

// SetContract marks the request as a contract call of method with parameters.
// They are compared during duplicate detection and attached to events.
func (r *Request) SetContract(method string, parameters ...any) *Request {
	r.contract = &ContractMeta{
		MethodName: method,
		Parameters: parameters,
	}
	return r
}

// SetCallback sets the error-first callback
func (r *Request) SetCallback(cb Callback) *Request {
	r.callback = cb
	return r
}

// SetAdapter overrides the dispatcher's adapter for this request, typically
// with a contract method's own send operation.
func (r *Request) SetAdapter(adapter ProtocolAdapter) *Request {
	r.adapter = adapter
	return r
}

// SetIdempotencyKey sets a key that makes retries of this request return
// the transaction already dispatched for it
func (r *Request) SetIdempotencyKey(key string) *Request {
	r.idempotencyKey = key
	return r
}

// Dispatch runs preflight, queues the transaction and starts submission.
// The returned Tx resolves asynchronously. Preflight failures are returned
// directly and also delivered to the callback.
func (r *Request) Dispatch(ctx context.Context) (*Tx, error) {
	return r.d.dispatch(ctx, r)
}
