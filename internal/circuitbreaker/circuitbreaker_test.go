package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenfinney/assist/internal/clock"
	"github.com/tenfinney/assist/internal/metrics"
)

var errRefused = errors.New("dial tcp 127.0.0.1:8545: connection refused")

func fail() error { return errRefused }
func ok() error   { return nil }

func newBreaker(t *testing.T, tripAfter, closeAfter int) (*Breaker, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Unix(1_700_000_000, 0))
	return New(Config{
		Name:       t.Name(),
		TripAfter:  tripAfter,
		CloseAfter: closeAfter,
		Cooldown:   time.Minute,
		Clock:      c,
	}), c
}

func TestNew_FillsDefaults(t *testing.T) {
	b := New(Config{TripAfter: -1})
	assert.Equal(t, DefaultConfig().Name, b.cfg.Name)
	assert.Equal(t, 5, b.cfg.TripAfter)
	assert.Equal(t, 2, b.cfg.CloseAfter)
	assert.Equal(t, 30*time.Second, b.cfg.Cooldown)
	assert.NotNil(t, b.cfg.Clock)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_TripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newBreaker(t, 3, 1)

	assert.ErrorIs(t, b.Execute("balance", fail), errRefused)
	assert.ErrorIs(t, b.Execute("balance", fail), errRefused)
	require.NoError(t, b.Execute("balance", ok), "a success resets the run")
	assert.Equal(t, StateClosed, b.State())

	for i := 0; i < 3; i++ {
		_ = b.Execute("transaction_count", fail)
	}
	require.Equal(t, StateOpen, b.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ProviderBreakerOpen.WithLabelValues(t.Name())))

	called := false
	err := b.Execute("balance", func() error { called = true; return nil })
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Contains(t, err.Error(), "transaction_count")
	assert.Contains(t, err.Error(), "connection refused")

	stats := b.Stats()
	assert.Equal(t, 3, stats.ConsecutiveFailures)
	assert.Equal(t, "transaction_count", stats.LastFailedOp)
	assert.Equal(t, errRefused.Error(), stats.LastError)
}

func TestExecute_HalfOpen(t *testing.T) {
	t.Run("trial success closes", func(t *testing.T) {
		b, c := newBreaker(t, 1, 1)
		_ = b.Execute("balance", fail)
		require.Equal(t, StateOpen, b.State())

		c.Advance(59 * time.Second)
		assert.ErrorIs(t, b.Execute("balance", ok), ErrOpen)

		c.Advance(time.Second)
		require.Equal(t, StateHalfOpen, b.State())
		require.NoError(t, b.Execute("balance", ok))
		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ProviderBreakerOpen.WithLabelValues(t.Name())))
	})

	t.Run("trial failure restarts the cooldown", func(t *testing.T) {
		b, c := newBreaker(t, 1, 1)
		_ = b.Execute("balance", fail)
		c.Advance(time.Minute)

		assert.ErrorIs(t, b.Execute("balance", fail), errRefused)
		assert.Equal(t, StateOpen, b.State())

		c.Advance(30 * time.Second)
		assert.Equal(t, StateOpen, b.State())
	})

	t.Run("needs CloseAfter trial reads", func(t *testing.T) {
		b, c := newBreaker(t, 1, 2)
		_ = b.Execute("balance", fail)
		c.Advance(time.Minute)

		require.NoError(t, b.Execute("balance", ok))
		assert.Equal(t, StateHalfOpen, b.State())
		require.NoError(t, b.Execute("balance", ok))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("one trial read at a time", func(t *testing.T) {
		b, c := newBreaker(t, 1, 1)
		_ = b.Execute("balance", fail)
		c.Advance(time.Minute)

		inTrial := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- b.Execute("balance", func() error {
				close(inTrial)
				<-release
				return nil
			})
		}()
		<-inTrial

		assert.ErrorIs(t, b.Execute("estimate_gas", ok), ErrOpen)

		close(release)
		require.NoError(t, <-done)
		assert.Equal(t, StateClosed, b.State())
	})
}

func TestReset(t *testing.T) {
	b, _ := newBreaker(t, 1, 1)
	_ = b.Execute("balance", fail)
	require.Equal(t, StateOpen, b.State())

	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().ConsecutiveFailures)
	assert.NoError(t, b.Execute("balance", ok))
}

func TestOnStateChange(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var transitions []string

	b := New(Config{
		TripAfter:  1,
		CloseAfter: 1,
		Cooldown:   time.Second,
		Clock:      c,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Execute("balance", fail)
	c.Advance(time.Second)
	_ = b.Execute("balance", ok)

	assert.Equal(t, []string{"closed->open", "half-open->closed"}, transitions)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestExecute_Concurrent(t *testing.T) {
	b := New(Config{TripAfter: 1000, Cooldown: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (i+j)%2 == 0 {
					_ = b.Execute("balance", fail)
				} else {
					_ = b.Execute("balance", ok)
				}
				b.Stats()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}
