package kafkanotifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenfinney/assist"
	"github.com/tenfinney/assist/testutil"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	gate   chan struct{}
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func sentEvent(id string) assist.Event {
	return assist.Event{
		EventCode:    assist.EventTxSent,
		CategoryCode: assist.CategoryActiveTransaction,
		Transaction: &assist.TransactionRecord{
			ID:     id,
			Status: assist.StatusApproved,
			Params: assist.TxParams{
				From:     testutil.TestAddr1,
				To:       testutil.TestAddr2,
				Value:    testutil.OneGwei,
				GasPrice: testutil.OneGwei,
				Hash:     testutil.HashFromInt(1),
			},
		},
		Wallet: assist.WalletSnapshot{
			Provider: "metamask",
			Address:  testutil.TestAddr1,
			Balance:  testutil.OneEth,
		},
		Timestamp: testutil.Epoch,
	}
}

func TestNotifier_PublishesEvents(t *testing.T) {
	w := &fakeWriter{}
	n := newNotifier(w, Config{Topic: "tx-events"})

	n.Notify(sentEvent("tx-1"))
	n.Notify(sentEvent("tx-2"))
	require.NoError(t, n.Close())

	msgs := w.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "tx-1", string(msgs[0].Key))
	assert.Equal(t, "tx-2", string(msgs[1].Key))
	assert.Equal(t, testutil.Epoch, msgs[0].Time)
	require.Len(t, msgs[0].Headers, 1)
	assert.Equal(t, "txSent", string(msgs[0].Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	assert.Equal(t, "txSent", decoded["eventCode"])
	assert.Equal(t, "activeTransaction", decoded["categoryCode"])
	tx := decoded["transaction"].(map[string]any)
	assert.Equal(t, "approved", tx["status"])
	assert.True(t, w.closed)
}

func TestNotifier_DropsWhenBufferFull(t *testing.T) {
	w := &fakeWriter{gate: make(chan struct{})}
	n := newNotifier(w, Config{Topic: "tx-events", Buffer: 1})

	// the writer goroutine takes one event and blocks on the gate; the
	// buffer holds one more; everything after that is dropped
	for i := 0; i < 10; i++ {
		n.Notify(sentEvent("tx"))
	}

	close(w.gate)
	require.NoError(t, n.Close())
	assert.LessOrEqual(t, len(w.messages()), 2)
	assert.NotEmpty(t, w.messages())
}

func TestNotifier_ConnectedFollowsWrites(t *testing.T) {
	w := &fakeWriter{}
	n := newNotifier(w, Config{Topic: "tx-events", WriteTimeout: time.Second})
	assert.True(t, n.Connected(), "optimistic before the first write")

	w.setErr(errors.New("dial tcp: connection refused"))
	n.Notify(sentEvent("tx-1"))
	assert.Eventually(t, func() bool { return !n.Connected() }, time.Second, 5*time.Millisecond)

	w.setErr(nil)
	n.Notify(sentEvent("tx-2"))
	assert.Eventually(t, n.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, n.Close())
}

func TestNotifier_NotifyAfterCloseIsIgnored(t *testing.T) {
	w := &fakeWriter{}
	n := newNotifier(w, Config{Topic: "tx-events"})
	require.NoError(t, n.Close())

	assert.NotPanics(t, func() { n.Notify(sentEvent("late")) })
	assert.NoError(t, n.Close())
	assert.Empty(t, w.messages())
}

func TestNotifier_IsLiveChannel(t *testing.T) {
	var _ assist.Notifier = (*Notifier)(nil)
	var _ assist.LiveChannel = (*Notifier)(nil)
}
