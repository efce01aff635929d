// Package kafkanotifier publishes lifecycle events to a Kafka topic.
package kafkanotifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KyberNetwork/logger"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"github.com/tenfinney/assist"
	"github.com/tenfinney/assist/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBuffer       = 256
	DefaultWriteTimeout = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config describes the topic events are written to
type Config struct {
	Brokers      []string
	Topic        string
	Buffer       int
	WriteTimeout time.Duration
}

// Notifier is an assist.Notifier and assist.LiveChannel backed by a Kafka
// writer. Notify never blocks: events are queued to a background writer and
// dropped when the queue is full. Connected reports whether the most recent
// write succeeded.
type Notifier struct {
	w            messageWriter
	topic        string
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan assist.Event

	connected atomic.Bool
	done      chan struct{}
}

// New creates a notifier writing to cfg.Topic on cfg.Brokers.
func New(cfg Config) *Notifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return newNotifier(w, cfg)
}

func newNotifier(w messageWriter, cfg Config) *Notifier {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	n := &Notifier{
		w:            w,
		topic:        cfg.Topic,
		writeTimeout: cfg.WriteTimeout,
		events:       make(chan assist.Event, cfg.Buffer),
		done:         make(chan struct{}),
	}
	n.connected.Store(true)
	go n.run()
	return n
}

// Notify queues event for publication.
func (n *Notifier) Notify(event assist.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	select {
	case n.events <- event:
	default:
		metrics.NotifierDropped.WithLabelValues("kafka").Inc()
		logger.WithFields(logger.Fields{
			"topic":      n.topic,
			"event_code": string(event.EventCode),
			"tx_id":      event.TransactionID(),
		}).Warn("kafka notifier buffer full, dropping event")
	}
}

// Connected reports whether the last write to the broker succeeded
func (n *Notifier) Connected() bool {
	return n.connected.Load()
}

// Close flushes queued events and closes the writer.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return nil
	}
	n.closed = true
	close(n.events)
	n.mu.Unlock()

	<-n.done
	return n.w.Close()
}

func (n *Notifier) run() {
	defer close(n.done)
	for event := range n.events {
		n.publish(event)
	}
}

func (n *Notifier) publish(event assist.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.WithFields(logger.Fields{
			"event_code": string(event.EventCode),
			"tx_id":      event.TransactionID(),
			"error":      err,
		}).Error("couldn't encode lifecycle event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.writeTimeout)
	defer cancel()

	err = n.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID()),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_code", Value: []byte(event.EventCode)},
		},
	})
	if err != nil {
		if n.connected.Swap(false) {
			logger.WithFields(logger.Fields{
				"topic": n.topic,
				"error": err,
			}).Warn("kafka notifier lost broker connection")
		}
		metrics.NotifierDropped.WithLabelValues("kafka").Inc()
		return
	}
	if !n.connected.Swap(true) {
		logger.WithFields(logger.Fields{
			"topic": n.topic,
		}).Info("kafka notifier reconnected")
	}
}
