package kafka

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer buffers messages in an inbox channel and flushes them from a
// single goroutine. Publish never blocks on the broker; shutdown drains
// whatever is still queued before the writer closes.
type Producer struct {
	w     *kafka.Writer
	inbox chan kafka.Message
	done  chan struct{}
	once  sync.Once
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 20 * time.Millisecond,
		},
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		defer p.w.Close()
		for {
			select {
			case m, ok := <-p.inbox:
				if !ok {
					return
				}
				p.write(m)
			case <-ctx.Done():
				p.stopIntake()
				for m := range p.inbox {
					p.write(m)
				}
				return
			}
		}
	}()
}

// write uses a detached context so queued confirmations still flush while
// the rest of the process is shutting down.
func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		log.Printf("kafka: write %s key=%s: %v", p.w.Topic, m.Key, err)
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}
}

func (p *Producer) stopIntake() { p.once.Do(func() { close(p.inbox) }) }

// Close stops intake; the flush loop exits once the inbox is empty.
func (p *Producer) Close() { p.stopIntake() }

// WaitClosed blocks until the flush loop has exited.
func (p *Producer) WaitClosed() { <-p.done }
