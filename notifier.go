package assist

// Notifier receives lifecycle events. Notify runs after the dispatcher has
// released its locks, so it may query the dispatcher, call MarkInPool or
// dispatch new transactions. Events of one transaction are delivered one at
// a time in order, so Notify must not block for long, and it must not wait
// on a signal for the transaction it is being notified about.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(event Event)

func (f NotifierFunc) Notify(event Event) { f(event) }

// LiveChannel is implemented by notifiers that know whether their transport
// is connected. Stall detection only fires while the live channel is up.
type LiveChannel interface {
	Connected() bool
}

// MultiNotifier fans events out to every member in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(event Event) {
	for _, n := range m {
		n.Notify(event)
	}
}

// Connected reports true if any member with a live channel is connected.
// Members without one are ignored; a MultiNotifier with none reports true.
func (m MultiNotifier) Connected() bool {
	seen := false
	for _, n := range m {
		lc, ok := n.(LiveChannel)
		if !ok {
			continue
		}
		seen = true
		if lc.Connected() {
			return true
		}
	}
	return !seen
}
