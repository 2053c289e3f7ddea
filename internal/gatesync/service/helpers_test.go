package service_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/service"
	"github.com/plategate/gatesync/internal/gatesync/store/memory"
	"github.com/plategate/gatesync/internal/transport"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// startCoordinator wires a coordinator to the bus and starts it. The
// coordinator stops when the test finishes.
func startCoordinator(t *testing.T, bus *transport.Bus, central *memory.CentralStore) {
	t.Helper()

	conn := bus.Endpoint()
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("coordinator connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	coord := service.NewCoordinator(conn, central, nil, testLogger())
	if err := coord.Start(ctx); err != nil {
		t.Fatalf("coordinator start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		coord.Stop()
	})
}

// subscribeChan registers a buffered deposit handler for topic and returns
// the channel payloads arrive on.
func subscribeChan(t *testing.T, conn *transport.Conn, topic string) chan []byte {
	t.Helper()

	ch := make(chan []byte, 8)
	err := conn.Subscribe(topic, func(_ string, payload []byte) {
		select {
		case ch <- payload:
		default:
		}
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	return ch
}

func receive(t *testing.T, ch chan []byte, timeout time.Duration) []byte {
	t.Helper()

	select {
	case payload := <-ch:
		return payload
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}
