// Package ethprovider implements the assist provider interfaces over a
// go-ethereum JSON-RPC client holding a local signing key.
package ethprovider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tranvictor/jarvis/networks"

	"github.com/tenfinney/assist"
)

var (
	ErrInvalidKey     = fmt.Errorf("invalid private key")
	ErrUnknownAccount = fmt.Errorf("account is not managed by this provider")
)

// Backend is the subset of *ethclient.Client the provider needs.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client signs with one local key and serves preflight reads, legacy
// submission and receipt polling. It satisfies assist.Provider,
// assist.GasEstimator, assist.GasPricer, assist.LegacyProvider and
// assist.BlockNumberReader.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	network networks.Network
	signer  types.Signer
}

// New creates a client signing for network with key
func New(backend Backend, key *ecdsa.PrivateKey, network networks.Network) *Client {
	chainID := new(big.Int).SetUint64(network.GetChainID())
	return &Client{
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		network: network,
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// Dial connects to rpcURL and parses keyHex, with or without a 0x prefix.
// The returned close function releases the connection.
func Dial(ctx context.Context, rpcURL, keyHex string, network networks.Network) (*Client, func(), error) {
	key, err := ParseKey(keyHex)
	if err != nil {
		return nil, nil, err
	}

	rpcClient, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't connect to %s: %w", rpcURL, err)
	}

	c := New(rpcClient, key, network)
	logger.WithFields(logger.Fields{
		"wallet":   c.address.Hex(),
		"network":  network.GetName(),
		"chain_id": network.GetChainID(),
	}).Info("connected to rpc provider")
	return c, rpcClient.Close, nil
}

// ParseKey decodes a hex encoded secp256k1 private key
func ParseKey(keyHex string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}
	return key, nil
}

// Address returns the account the client signs for
func (c *Client) Address() common.Address { return c.address }

func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.backend.BalanceAt(ctx, account, nil)
}

// TransactionCount returns the number of mined transactions sent from account.
func (c *Client) TransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	return c.backend.NonceAt(ctx, account, nil)
}

func (c *Client) EstimateGas(ctx context.Context, params assist.TxParams) (uint64, error) {
	to := params.To
	return c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     params.From,
		To:       &to,
		Value:    params.Value,
		GasPrice: params.GasPrice,
		Data:     params.Data,
	})
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.backend.SuggestGasPrice(ctx)
}

// SendTransaction signs params as a legacy transaction and broadcasts it.
func (c *Client) SendTransaction(ctx context.Context, params assist.TxParams) (common.Hash, error) {
	signed, err := c.sign(params)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}

	logger.WithFields(logger.Fields{
		"wallet":   c.address.Hex(),
		"tx_hash":  signed.Hash().Hex(),
		"nonce":    signed.Nonce(),
		"chain_id": c.network.GetChainID(),
	}).Debug("broadcasted signed transaction")
	return signed.Hash(), nil
}

// TransactionReceipt returns nil, nil while the transaction is not mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return receipt, err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

func (c *Client) sign(params assist.TxParams) (*types.Transaction, error) {
	if params.From != c.address {
		return nil, &assist.ProviderError{
			Kind:    assist.ProviderErrorUserRejected,
			Message: fmt.Sprintf("%s: %s", ErrUnknownAccount, params.From.Hex()),
			Err:     ErrUnknownAccount,
		}
	}

	to := params.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    params.Nonce,
		To:       &to,
		Value:    orZero(params.Value),
		Gas:      params.Gas,
		GasPrice: orZero(params.GasPrice),
		Data:     params.Data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, fmt.Errorf("couldn't sign transaction: %w", err)
	}
	return signed, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
