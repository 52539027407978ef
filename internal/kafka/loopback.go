package kafka

import (
	"context"
	"fmt"
	"sync"

	"ticket-booking/internal/logger"
)

// Loopback delivers published messages to in-process subscribers. It stands
// in for the broker when KAFKA_ENABLED is false so consumers still run.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *logger.Logger
}

func NewLoopback(log *logger.Logger) *Loopback {
	return &Loopback{handlers: make(map[string][]Handler), logger: log}
}

func (l *Loopback) Subscribe(topic string, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[topic] = append(l.handlers[topic], handler)
}

// Publish runs every handler of topic synchronously. Handler errors are
// logged, not returned, matching a fire-and-forget broker write.
func (l *Loopback) Publish(topic string, key string, value []byte) error {
	l.mu.RLock()
	handlers := append([]Handler(nil), l.handlers[topic]...)
	l.mu.RUnlock()

	for _, h := range handlers {
		if err := h(context.Background(), value); err != nil {
			l.logger.Error("KAFKA", fmt.Sprintf("Loopback handler for %s (%s) failed: %v", topic, key, err))
		}
	}
	l.logger.LogKafka("LOOPBACK", topic, key)
	return nil
}
