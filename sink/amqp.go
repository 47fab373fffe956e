package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"QrScanServer/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Publisher is the part of *amqp.Channel the sink uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes code reads as JSON messages from a background goroutine.
// Reads arriving while the buffer is full are dropped and counted.
type AMQP struct {
	pub        Publisher
	exchange   string
	routingKey string
	log        *zap.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closers []func() error
}

func NewAMQP(pub Publisher, exchange, routingKey string, buffer int) *AMQP {
	if buffer <= 0 {
		buffer = 64
	}
	a := &AMQP{
		pub:        pub,
		exchange:   exchange,
		routingKey: routingKey,
		log:        logger.Log().With(zap.String("sink", "amqp")),
		queue:      make(chan Event, buffer),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// DialAMQP connects to url, declares a durable topic exchange and returns a
// sink publishing to it.
func DialAMQP(url, exchange, routingKey string, buffer int) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	a := NewAMQP(ch, exchange, routingKey, buffer)
	a.closers = []func() error{ch.Close, conn.Close}
	return a, nil
}

func (a *AMQP) OnCodeRead(payload string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- NewEvent(payload):
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many reads were not published.
func (a *AMQP) Dropped() uint64 { return a.dropped.Load() }

func (a *AMQP) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		if err := a.publish(ev); err != nil {
			a.dropped.Add(1)
			a.log.Warn("publish code read failed", zap.String("id", ev.ID), zap.Error(err))
		}
	}
}

func (a *AMQP) publish(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return a.pub.PublishWithContext(ctx, a.exchange, a.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    ev.ID,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.ReadAt,
	})
}

// Close flushes queued events and closes the connection if DialAMQP opened it.
func (a *AMQP) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	var firstErr error
	for _, c := range a.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
