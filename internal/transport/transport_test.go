package transport_test

import (
	"context"
	"testing"

	"github.com/plategate/gatesync/internal/transport"
)

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"gate/+/status", "gate/gate-main/status", true},
		{"gate/+/status", "gate/gate-main/access", false},
		{"gate/+/sync/request", "gate/g1/sync/request", true},
		{"gate/+/sync/request", "gate/g1/sync/request/extra", false},
		{"gate/+/sync/request", "gate/g1/sync", false},
		{"gate/g1/status", "gate/g1/status", true},
		{"gate/g1/status", "gate/g2/status", false},
		{"server/response/g1", "server/response/g1", true},
		{"+/+/+", "gate/g1/status", true},
	}

	for _, tc := range cases {
		if got := transport.TopicMatches(tc.filter, tc.topic); got != tc.want {
			t.Errorf("TopicMatches(%q, %q) = %v, want %v", tc.filter, tc.topic, got, tc.want)
		}
	}
}

func TestBus_DeliversToMatchingSubscribers(t *testing.T) {
	bus := transport.NewBus()

	pub := bus.Endpoint()
	sub := bus.Endpoint()
	if err := pub.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := sub.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var got []string
	err := sub.Subscribe("gate/+/status", func(topic string, payload []byte) {
		got = append(got, topic+":"+string(payload))
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := pub.Publish("gate/g1/status", []byte("online")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Publish("gate/g1/access", []byte("ignored")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(got) != 1 || got[0] != "gate/g1/status:online" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestBus_PublishWhileDisconnectedFails(t *testing.T) {
	bus := transport.NewBus()
	conn := bus.Endpoint()

	if err := conn.Publish("gate/g1/status", []byte("x")); err != transport.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := conn.Publish("gate/g1/status", []byte("x")); err != nil {
		t.Fatalf("expected publish to succeed, got %v", err)
	}

	conn.SetConnected(false)
	if err := conn.Publish("gate/g1/status", []byte("x")); err != transport.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected after drop, got %v", err)
	}
}

func TestBus_DisconnectedSubscriberMissesMessages(t *testing.T) {
	bus := transport.NewBus()

	pub := bus.Endpoint()
	sub := bus.Endpoint()
	if err := pub.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := sub.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var count int
	if err := sub.Subscribe("gate/g1/status", func(string, []byte) { count++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sub.SetConnected(false)
	_ = pub.Publish("gate/g1/status", []byte("missed"))

	sub.SetConnected(true)
	_ = pub.Publish("gate/g1/status", []byte("seen"))

	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}
