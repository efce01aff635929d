package assist

import (
	"sync"
	"time"

	"github.com/KyberNetwork/logger"

	"github.com/tenfinney/assist/internal/clock"
)

// TimerKind names the lifecycle timers a record can have armed.
type TimerKind string

const (
	TimerApprovalReminder TimerKind = "approvalReminder"
	TimerStall            TimerKind = "stall"
)

type timerKey struct {
	id   string
	kind TimerKind
}

type armedTimer struct {
	timer clock.Timer
	gen   uint64
}

// LifecycleMonitor owns the per-record reminder and stall timers. It only
// schedules; the callbacks decide whether the record still qualifies.
type LifecycleMonitor struct {
	clock clock.Clock

	mu     sync.Mutex
	gen    uint64
	timers map[timerKey]armedTimer
}

// NewLifecycleMonitor creates a monitor driven by c
func NewLifecycleMonitor(c clock.Clock) *LifecycleMonitor {
	return &LifecycleMonitor{
		clock:  c,
		timers: make(map[timerKey]armedTimer),
	}
}

// Arm schedules fire(id) after delay, replacing any timer of the same kind
// already armed for id.
func (m *LifecycleMonitor) Arm(id string, kind TimerKind, delay time.Duration, fire func(id string)) {
	key := timerKey{id: id, kind: kind}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.timers[key]; ok {
		existing.timer.Stop()
	}

	m.gen++
	gen := m.gen
	t := m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		current, ok := m.timers[key]
		if !ok || current.gen != gen {
			m.mu.Unlock()
			return
		}
		delete(m.timers, key)
		m.mu.Unlock()

		logger.WithFields(logger.Fields{
			"tx_id": id,
			"timer": string(kind),
		}).Debug("lifecycle timer fired")
		fire(id)
	})
	m.timers[key] = armedTimer{timer: t, gen: gen}
}

// Cancel stops the timer of the given kind for id. It reports whether a
// timer was armed.
func (m *LifecycleMonitor) Cancel(id string, kind TimerKind) bool {
	key := timerKey{id: id, kind: kind}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.timers[key]
	if !ok {
		return false
	}
	existing.timer.Stop()
	delete(m.timers, key)
	return true
}

// CancelAll stops every timer armed for id.
func (m *LifecycleMonitor) CancelAll(id string) {
	m.Cancel(id, TimerApprovalReminder)
	m.Cancel(id, TimerStall)
}

// Armed reports whether a timer of the given kind is pending for id.
func (m *LifecycleMonitor) Armed(id string, kind TimerKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[timerKey{id: id, kind: kind}]
	return ok
}

// Pending returns the number of armed timers.
func (m *LifecycleMonitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop cancels every armed timer.
func (m *LifecycleMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, armed := range m.timers {
		armed.timer.Stop()
		delete(m.timers, key)
	}
}
