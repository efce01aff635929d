package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_Advance(t *testing.T) {
	t.Run("fires due timers in deadline order", func(t *testing.T) {
		c := NewFake(epoch)
		var fired []string

		c.AfterFunc(30*time.Second, func() { fired = append(fired, "stall") })
		c.AfterFunc(20*time.Second, func() { fired = append(fired, "reminder") })
		c.AfterFunc(time.Minute, func() { fired = append(fired, "late") })

		c.Advance(45 * time.Second)

		assert.Equal(t, []string{"reminder", "stall"}, fired)
		assert.Equal(t, 1, c.Pending())
		assert.Equal(t, epoch.Add(45*time.Second), c.Now())
	})

	t.Run("now reflects the deadline inside a callback", func(t *testing.T) {
		c := NewFake(epoch)
		var seen time.Time
		c.AfterFunc(10*time.Second, func() { seen = c.Now() })

		c.Advance(time.Minute)

		assert.Equal(t, epoch.Add(10*time.Second), seen)
	})

	t.Run("timers scheduled by callbacks fire within the same window", func(t *testing.T) {
		c := NewFake(epoch)
		count := 0
		c.AfterFunc(time.Second, func() {
			count++
			c.AfterFunc(time.Second, func() { count++ })
		})

		c.Advance(3 * time.Second)

		assert.Equal(t, 2, count)
	})
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop should report already stopped")

	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_After(t *testing.T) {
	c := NewFake(epoch)
	ch := c.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("channel fired before the clock advanced")
	default:
	}

	c.Advance(5 * time.Second)

	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(5*time.Second), got)
	default:
		t.Fatal("expected channel to fire")
	}
}

func TestRealClock(t *testing.T) {
	c := New()
	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real clock timer never fired")
	}
}
