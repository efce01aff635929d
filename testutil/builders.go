package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var receiptBlockHash = common.HexToHash("0xb10c")

// HashFromInt returns a deterministic transaction hash for i
func HashFromInt(i uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(0xa55e7000 + i))
}

// NewReceipt builds a receipt for hash mined at block with status
func NewReceipt(hash common.Hash, status uint64, block int64) *types.Receipt {
	return &types.Receipt{
		Status:            status,
		TxHash:            hash,
		BlockNumber:       big.NewInt(block),
		BlockHash:         receiptBlockHash,
		GasUsed:           TransferGas,
		CumulativeGasUsed: TransferGas,
	}
}

// NewSuccessReceipt builds a successful receipt at DefaultReceiptBlock
func NewSuccessReceipt(hash common.Hash) *types.Receipt {
	return NewReceipt(hash, types.ReceiptStatusSuccessful, DefaultReceiptBlock)
}
