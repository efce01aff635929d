package assist

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Default lifecycle timings and preflight settings.
const (
	DefaultReminderDelay    = 20 * time.Second
	DefaultStallDelay       = 30 * time.Second
	DefaultPollInterval     = time.Second
	DefaultConfirmations    = 1
	DefaultFeeBufferDivisor = 10
)

// Category codes attached to emitted events.
const (
	CategoryActivePreflight   = "activePreflight"
	CategoryActiveTransaction = "activeTransaction"
	CategoryActiveContract    = "activeContract"
)

// TxParams are the fields describing a value transfer or contract call.
// Hash stays zero until the provider accepts the transaction.
type TxParams struct {
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    *big.Int       `json:"value"`
	Gas      uint64         `json:"gas"`
	GasPrice *big.Int       `json:"gasPrice"`
	Nonce    uint64         `json:"nonce"`
	Data     hexutil.Bytes  `json:"data,omitempty"`
	Hash     common.Hash    `json:"hash"`
}

func (p TxParams) clone() TxParams {
	out := p
	if p.Value != nil {
		out.Value = new(big.Int).Set(p.Value)
	}
	if p.GasPrice != nil {
		out.GasPrice = new(big.Int).Set(p.GasPrice)
	}
	if p.Data != nil {
		out.Data = append(hexutil.Bytes(nil), p.Data...)
	}
	return out
}

// ContractMeta identifies the contract method a transaction invokes.
type ContractMeta struct {
	MethodName string `json:"methodName"`
	Parameters []any  `json:"parameters"`
}

func (c *ContractMeta) clone() *ContractMeta {
	if c == nil {
		return nil
	}
	out := &ContractMeta{MethodName: c.MethodName}
	if c.Parameters != nil {
		out.Parameters = append([]any(nil), c.Parameters...)
	}
	return out
}

// TransactionRecord is the tracked entity for one dispatched transaction.
type TransactionRecord struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Category  string         `json:"categoryCode"`
	Params    TxParams       `json:"params"`
	Contract  *ContractMeta  `json:"contract,omitempty"`
	Receipt   *types.Receipt `json:"receipt,omitempty"`
	StartTime time.Time      `json:"startTime"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand outside the queue.
func (r *TransactionRecord) Clone() *TransactionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Params = r.Params.clone()
	out.Contract = r.Contract.clone()
	return &out
}

// WalletSnapshot is the account context attached to every event.
type WalletSnapshot struct {
	Provider string         `json:"provider"`
	Address  common.Address `json:"address"`
	Balance  *big.Int       `json:"balance"`
	Minimum  *big.Int       `json:"minimum"`
}

// Defaults holds dispatcher-wide settings that can be changed at runtime.
type Defaults struct {
	ReminderDelay    time.Duration
	StallDelay       time.Duration
	FeeBufferDivisor int64
	MinimumBalance   *big.Int
	ProviderName     string
}
