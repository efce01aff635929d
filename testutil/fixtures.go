package testutil

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Accounts. TestAddr1 sends by default, the others receive.
var (
	TestAddr1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
	TestAddr2 = common.HexToAddress("0x2222222222222222222222222222222222222222")
	TestAddr3 = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// Signing key for provider tests. Never funded anywhere.
var (
	TestPrivateKeyHex      = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	TestPrivateKey1, _     = crypto.HexToECDSA(TestPrivateKeyHex)
	TestPrivateKey1Address = crypto.PubkeyToAddress(TestPrivateKey1.PublicKey)
)

const (
	TransferGas         = uint64(21000)
	DefaultReceiptBlock = int64(19_000_000)
)

// Amounts in wei
var (
	OneEth     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	TwentyGwei = big.NewInt(20_000_000_000)
	TwoGwei    = big.NewInt(2_000_000_000)
	OneGwei    = big.NewInt(1_000_000_000)
)

// Epoch is where fake clocks start
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
