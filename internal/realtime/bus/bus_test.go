package bus

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewWithoutRedisIsLocal(t *testing.T) {
	b, err := New(logger.Nop(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if RedisClient(b) != nil {
		t.Fatalf("expected local bus")
	}
}

func TestLocalBusForwardsInOrder(t *testing.T) {
	b := NewLocalBus(logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan realtime.SSEMessage, 4)
	if err := b.StartForwarder(ctx, func(m realtime.SSEMessage) { got <- m }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	for _, ev := range []realtime.SSEEvent{realtime.SSEEventBoxCreated, realtime.SSEEventBoxMoved} {
		if err := b.Publish(ctx, realtime.SSEMessage{Channel: realtime.ChannelWarehouse, Event: ev}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for _, want := range []realtime.SSEEvent{realtime.SSEEventBoxCreated, realtime.SSEEventBoxMoved} {
		select {
		case m := <-got:
			if m.Event != want {
				t.Fatalf("event = %s, want %s", m.Event, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Publish(ctx, realtime.SSEMessage{Channel: realtime.ChannelWarehouse}); err == nil {
		t.Fatalf("Publish after Close should fail")
	}
}
