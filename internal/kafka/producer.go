package kafka

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/segmentio/kafka-go"
)

// Producer buffers messages in an inbox and writes them from one goroutine,
// so request handlers never block on the brokers. When the inbox is full or
// the producer is closed, messages are dropped and logged.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

// drain flushes whatever is still buffered without waiting for new messages.
func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if !ok {
				_ = p.w.Close()
				return
			}
			p.write(m)
		default:
			_ = p.w.Close()
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("kafka write", "topic", m.Topic, "key", string(m.Key), "err", err)
	}
}

// Publish queues a message and reports whether it was accepted.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) bool {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Error("kafka producer closed, message dropped", "topic", topic, "key", string(key))
		return false
	}
	select {
	case p.inbox <- m:
		return true
	default:
		p.log.Error("kafka inbox full, message dropped", "topic", topic, "key", string(key), "cap", cap(p.inbox))
		return false
	}
}

// PublishEvent sends an envelope keyed by its order id.
func (p *Producer) PublishEvent(topic string, env orders.Envelope) {
	p.Publish(topic, orders.PartitionKey(env.CorrelationID), MustMarshal(env),
		kafka.Header{Key: HeaderEventType, Value: []byte(env.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}

// Close closes the inbox; the writer goroutine flushes the rest and exits.
// Later publishes are dropped. Close may be called more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the writer goroutine is done.
func (p *Producer) WaitClosed() { <-p.closeCh }
