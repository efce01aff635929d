package ethprovider

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenfinney/assist"
	"github.com/tenfinney/assist/testutil"
)

type fakeBackend struct {
	mu       sync.Mutex
	balance  *big.Int
	nonce    uint64
	gas      uint64
	price    *big.Int
	sent     []*types.Transaction
	sendErr  error
	receipts map[common.Hash]*types.Receipt
	head     uint64
	headStep uint64
	calls    map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balance:  testutil.OneEth,
		price:    testutil.TwentyGwei,
		gas:      testutil.TransferGas,
		receipts: map[common.Hash]*types.Receipt{},
		calls:    map[string]int{},
	}
}

func (b *fakeBackend) record(name string) {
	b.calls[name]++
}

func (b *fakeBackend) BalanceAt(_ context.Context, _ common.Address, block *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("BalanceAt")
	return b.balance, nil
}

func (b *fakeBackend) NonceAt(_ context.Context, _ common.Address, _ *big.Int) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("NonceAt")
	return b.nonce, nil
}

func (b *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("EstimateGas")
	return b.gas, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.price, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head += b.headStep
	return b.head, nil
}

func (b *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func (b *fakeBackend) mine(hash common.Hash, block int64) *types.Receipt {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := testutil.NewReceipt(hash, types.ReceiptStatusSuccessful, block)
	b.receipts[hash] = r
	return r
}

func (b *fakeBackend) lastSent(t *testing.T) *types.Transaction {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.sent)
	return b.sent[len(b.sent)-1]
}

func newTestClient(b *fakeBackend) *Client {
	return New(b, testutil.TestPrivateKey1, testutil.NewNetwork(1337, "devnet"))
}

func transferParams() assist.TxParams {
	return assist.TxParams{
		From:     testutil.TestPrivateKey1Address,
		To:       testutil.TestAddr2,
		Value:    testutil.OneGwei,
		Gas:      testutil.TransferGas,
		GasPrice: testutil.TwoGwei,
		Nonce:    7,
	}
}

func TestClient_Reads(t *testing.T) {
	b := newFakeBackend()
	b.nonce = 3
	c := newTestClient(b)

	balance, err := c.BalanceAt(context.Background(), testutil.TestAddr1)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Cmp(testutil.OneEth))

	count, err := c.TransactionCount(context.Background(), testutil.TestAddr1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	gas, err := c.EstimateGas(context.Background(), transferParams())
	require.NoError(t, err)
	assert.Equal(t, testutil.TransferGas, gas)

	price, err := c.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, price.Cmp(testutil.TwentyGwei))
}

func TestClient_SendTransactionSignsForChain(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(b)
	params := transferParams()

	hash, err := c.SendTransaction(context.Background(), params)
	require.NoError(t, err)

	tx := b.lastSent(t)
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, testutil.TestAddr2, *tx.To())
	assert.Equal(t, 0, tx.GasPrice().Cmp(testutil.TwoGwei))
	assert.Equal(t, uint64(1337), tx.ChainId().Uint64())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestPrivateKey1Address, sender)
}

func TestClient_SendTransactionErrors(t *testing.T) {
	t.Run("foreign account is rejected", func(t *testing.T) {
		c := newTestClient(newFakeBackend())
		params := transferParams()
		params.From = testutil.TestAddr3

		_, err := c.SendTransaction(context.Background(), params)
		require.ErrorIs(t, err, ErrUnknownAccount)
		assert.ErrorIs(t, assist.ClassifyProviderError(err), assist.ErrUserRejected)
	})

	t.Run("node error is classified by message", func(t *testing.T) {
		b := newFakeBackend()
		b.sendErr = errors.New("replacement transaction underpriced")
		c := newTestClient(b)

		_, err := c.SendTransaction(context.Background(), transferParams())
		require.Error(t, err)
		assert.Equal(t, assist.EventTxUnderpriced, assist.ClassifyProviderError(err).Code)
	})
}

func TestClient_TransactionReceipt(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(b)
	hash := testutil.HashFromInt(9)

	receipt, err := c.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err, "not found is not an error")
	assert.Nil(t, receipt)

	mined := b.mine(hash, 100)
	receipt, err = c.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Same(t, mined, receipt)
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("0x" + testutil.TestPrivateKeyHex)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestPrivateKey1.D, key.D)

	_, err = ParseKey("not-a-key")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func collect(t *testing.T, handle assist.TxHandle) []assist.HandleEvent {
	t.Helper()
	var out []assist.HandleEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-handle.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("handle not closed, got %d events", len(out))
		}
	}
}

func TestEventClient_ReportsHashReceiptAndDepth(t *testing.T) {
	b := newFakeBackend()
	b.head = 100
	b.headStep = 1
	c := NewEventClient(newTestClient(b), WithEventConfirmations(2), WithHeadInterval(time.Millisecond))

	params := transferParams()
	signed, err := c.sign(params)
	require.NoError(t, err)
	b.mine(signed.Hash(), 100)

	handle, err := c.SendTransaction(context.Background(), params)
	require.NoError(t, err)

	events := collect(t, handle)
	require.Len(t, events, 3)
	assert.Equal(t, assist.HandleEventHash, events[0].Kind)
	assert.Equal(t, signed.Hash(), events[0].Hash)
	assert.Equal(t, assist.HandleEventReceipt, events[1].Kind)
	assert.Equal(t, assist.HandleEventReceipt, events[2].Kind)
	assert.GreaterOrEqual(t, b.head, uint64(102))
}

func TestEventClient_NoDepthWait(t *testing.T) {
	b := newFakeBackend()
	c := NewEventClient(newTestClient(b), WithEventConfirmations(0))

	params := transferParams()
	signed, err := c.sign(params)
	require.NoError(t, err)
	b.mine(signed.Hash(), 5)

	handle, err := c.SendTransaction(context.Background(), params)
	require.NoError(t, err)

	events := collect(t, handle)
	require.Len(t, events, 2)
	assert.Equal(t, assist.HandleEventReceipt, events[1].Kind)
}

func TestEventClient_CancelledWhileWaiting(t *testing.T) {
	b := newFakeBackend()
	c := NewEventClient(newTestClient(b))
	ctx, cancel := context.WithCancel(context.Background())

	handle, err := c.SendTransaction(ctx, transferParams())
	require.NoError(t, err)
	cancel()

	events := collect(t, handle)
	require.Len(t, events, 1, "cancellation ends the handle without an error event")
	assert.Equal(t, assist.HandleEventHash, events[0].Kind)
}

func TestEventClient_SendErrorReturnedDirectly(t *testing.T) {
	b := newFakeBackend()
	b.sendErr = errors.New("insufficient funds for gas * price + value")
	c := NewEventClient(newTestClient(b))

	handle, err := c.SendTransaction(context.Background(), transferParams())
	assert.Error(t, err)
	assert.Nil(t, handle)
}
