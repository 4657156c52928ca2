package realtime

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubReconnectAndOrdering(t *testing.T) {
	hub := NewSSEHub(logger.Nop())

	clientA := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientA, ChannelWarehouse)

	hub.Broadcast(SSEMessage{Channel: ChannelWarehouse, Event: SSEEventBoxCreated, Data: map[string]any{"seq": 1}})
	hub.Broadcast(SSEMessage{Channel: ChannelWarehouse, Event: SSEEventBoxReserved, Data: map[string]any{"seq": 2}})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != SSEEventBoxCreated {
		t.Fatalf("first event: want=%s got=%s", SSEEventBoxCreated, got.Event)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != SSEEventBoxReserved {
		t.Fatalf("second event: want=%s got=%s", SSEEventBoxReserved, got.Event)
	}

	hub.CloseClient(clientA)
	hub.CloseClient(clientA)
	if _, ok := <-clientA.Outbound; ok {
		t.Fatalf("clientA outbound should be closed after disconnect")
	}
	if n := hub.Subscribers(ChannelWarehouse); n != 0 {
		t.Fatalf("subscribers after close = %d", n)
	}

	clientB := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientB, ChannelWarehouse)
	hub.Broadcast(SSEMessage{Channel: ChannelWarehouse, Event: SSEEventBoxReleased})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != SSEEventBoxReleased {
		t.Fatalf("reconnect event: got=%s", got.Event)
	}
	hub.CloseClient(clientB)
}

func TestSSEHubDropsWhenBufferFull(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, ChannelBeryll)
	defer hub.CloseClient(client)

	for i := 0; i < defaultOutboundSize+5; i++ {
		hub.Broadcast(SSEMessage{Channel: ChannelBeryll, Event: SSEEventServerUpdated, Data: i})
	}
	if got := len(client.Outbound); got != defaultOutboundSize {
		t.Fatalf("buffered = %d, want %d", got, defaultOutboundSize)
	}

	// Other channels are not delivered.
	other := hub.NewSSEClient(uuid.New())
	hub.AddChannel(other, ChannelAudit)
	defer hub.CloseClient(other)
	hub.Broadcast(SSEMessage{Channel: ChannelBeryll, Event: SSEEventServerUpdated})
	if len(other.Outbound) != 0 {
		t.Fatalf("audit subscriber received a beryll message")
	}
}

func TestSSEHubServeHTTPStreamsMessages(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, ChannelAudit)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r, client)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	transport := &http.Transport{}
	defer transport.CloseIdleConnections()
	resp, err := (&http.Client{Transport: transport}).Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	hub.Broadcast(SSEMessage{Channel: ChannelAudit, Event: SSEEventAuditLogged, Data: map[string]string{"action": "LOGIN"}})

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"event":"audit.logged"`) {
				t.Fatalf("unexpected payload %q", line)
			}
			cancel()
			hub.CloseClient(client)
			return
		}
	}
	t.Fatalf("no data line received")
}

func TestSSEHubCloseAll(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	a := hub.NewSSEClient(uuid.New())
	b := hub.NewSSEClient(uuid.New())
	hub.AddChannel(a, ChannelWarehouse)
	hub.AddChannel(a, ChannelDefects)
	hub.AddChannel(b, ChannelDefects)

	hub.CloseAll()

	for _, c := range []*SSEClient{a, b} {
		if _, ok := <-c.Outbound; ok {
			t.Fatalf("client %s outbound still open", c.ID)
		}
	}
	if n := hub.Subscribers(ChannelDefects); n != 0 {
		t.Fatalf("subscribers after CloseAll = %d", n)
	}
	hub.CloseClient(a)
}
