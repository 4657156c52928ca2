package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

const localBufferSize = 256

type localBus struct {
	log    *logger.Logger
	mu     sync.Mutex
	queue  chan realtime.SSEMessage
	closed bool
	wg     sync.WaitGroup
}

func NewLocalBus(log *logger.Logger) Bus {
	return &localBus{
		log:   log.With("service", "LocalSSEBus"),
		queue: make(chan realtime.SSEMessage, localBufferSize),
	}
}

func (b *localBus) Publish(ctx context.Context, msg realtime.SSEMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("local SSE bus closed")
	}
	select {
	case b.queue <- msg:
	default:
		b.log.Warn("Dropping bus message; queue full", "channel", msg.Channel, "event", msg.Event)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-b.queue:
				if !ok {
					return
				}
				onMsg(m)
			}
		}
	}()
	return nil
}

// Close stops accepting messages and waits for the forwarder to exit.
func (b *localBus) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
