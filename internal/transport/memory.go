package transport

import (
	"context"
	"sync"
)

// Bus is an in-process pub/sub bus. It connects agent and coordinator in
// tests and lets tests flip the link up and down to exercise offline
// behavior.
type Bus struct {
	mu        sync.RWMutex
	subs      []busSub
	connected map[*Conn]bool
}

type busSub struct {
	conn   *Conn
	filter string
	h      Handler
}

func NewBus() *Bus {
	return &Bus{connected: make(map[*Conn]bool)}
}

// Endpoint returns a new connection handle on the bus, initially
// disconnected.
func (b *Bus) Endpoint() *Conn {
	c := &Conn{bus: b}
	b.mu.Lock()
	b.connected[c] = false
	b.mu.Unlock()
	return c
}

func (b *Bus) publish(from *Conn, topic string, payload []byte) error {
	b.mu.RLock()
	if !b.connected[from] {
		b.mu.RUnlock()
		return ErrNotConnected
	}
	var targets []Handler
	for _, s := range b.subs {
		if b.connected[s.conn] && TopicMatches(s.filter, topic) {
			targets = append(targets, s.h)
		}
	}
	b.mu.RUnlock()

	// Deliver synchronously on the caller's goroutine; handlers only
	// deposit into channels so this cannot deadlock.
	for _, h := range targets {
		h(topic, append([]byte(nil), payload...))
	}
	return nil
}

// Conn is one endpoint's view of the bus.
type Conn struct {
	bus *Bus

	// ConnectErr, when set, makes Connect fail. Simulates an unreachable
	// broker.
	ConnectErr error
}

func (c *Conn) Connect(context.Context) error {
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.bus.mu.Lock()
	c.bus.connected[c] = true
	c.bus.mu.Unlock()
	return nil
}

// SetConnected simulates a link drop or restore. Test-only control knob.
func (c *Conn) SetConnected(up bool) {
	c.bus.mu.Lock()
	c.bus.connected[c] = up
	c.bus.mu.Unlock()
}

func (c *Conn) Publish(topic string, payload []byte) error {
	return c.bus.publish(c, topic, payload)
}

func (c *Conn) Subscribe(filter string, h Handler) error {
	c.bus.mu.Lock()
	c.bus.subs = append(c.bus.subs, busSub{conn: c, filter: filter, h: h})
	c.bus.mu.Unlock()
	return nil
}

func (c *Conn) Connected() bool {
	c.bus.mu.RLock()
	defer c.bus.mu.RUnlock()
	return c.bus.connected[c]
}

func (c *Conn) Close() {
	c.SetConnected(false)
}
