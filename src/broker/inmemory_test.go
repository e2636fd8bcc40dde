package broker

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryBroker_PublishSubscribe(t *testing.T) {
	broker := NewInMemoryBroker()
	defer broker.Close()

	ctx := context.Background()
	topic := "kiln.runs.events"
	key := "run-1"
	value := []byte(`{"status":"running"}`)

	// Subscribe before publishing
	msgChan, err := broker.Subscribe(ctx, topic, "test-group")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := broker.Publish(ctx, topic, key, value); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-msgChan:
		if msg.Topic != topic {
			t.Errorf("Expected topic %s, got %s", topic, msg.Topic)
		}
		if msg.Key != key {
			t.Errorf("Expected key %s, got %s", key, msg.Key)
		}
		if string(msg.Value) != string(value) {
			t.Errorf("Expected value %s, got %s", string(value), string(msg.Value))
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for message")
	}
}

func TestInMemoryBroker_MultipleSubscribers(t *testing.T) {
	broker := NewInMemoryBroker()
	defer broker.Close()

	ctx := context.Background()
	topic := "kiln.logs.raw"

	sub1, err := broker.Subscribe(ctx, topic, "group1")
	if err != nil {
		t.Fatalf("Subscribe 1 failed: %v", err)
	}
	sub2, err := broker.Subscribe(ctx, topic, "group2")
	if err != nil {
		t.Fatalf("Subscribe 2 failed: %v", err)
	}

	value := []byte("chunk")
	if err := broker.Publish(ctx, topic, "run-1", value); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for i, sub := range []<-chan Message{sub1, sub2} {
		select {
		case msg := <-sub:
			if string(msg.Value) != string(value) {
				t.Errorf("Subscriber %d: expected value %s, got %s", i+1, string(value), string(msg.Value))
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("Subscriber %d: timeout waiting for message", i+1)
		}
	}
}

func TestInMemoryBroker_OffsetsIncrement(t *testing.T) {
	broker := NewInMemoryBroker()
	defer broker.Close()

	ctx := context.Background()
	msgChan, err := broker.Subscribe(ctx, "topic", "g")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := broker.Publish(ctx, "topic", "", []byte("m")); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	for want := int64(0); want < 3; want++ {
		select {
		case msg := <-msgChan:
			if msg.Offset != want {
				t.Errorf("Expected offset %d, got %d", want, msg.Offset)
			}
		case <-time.After(1 * time.Second):
			t.Fatal("Timeout waiting for message")
		}
	}
}

func TestInMemoryBroker_SubscriptionContextCancel(t *testing.T) {
	broker := NewInMemoryBroker()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	msgChan, err := broker.Subscribe(ctx, "topic", "g")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	cancel()

	// Channel closes once the subscription is detached.
	select {
	case _, ok := <-msgChan:
		if ok {
			t.Error("Expected closed channel after cancel")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for channel close")
	}

	// Publishing afterwards must not block or fail.
	if err := broker.Publish(context.Background(), "topic", "", []byte("m")); err != nil {
		t.Fatalf("Publish after cancel failed: %v", err)
	}
}

func TestInMemoryBroker_PublishAfterClose(t *testing.T) {
	broker := NewInMemoryBroker()
	broker.Close()

	err := broker.Publish(context.Background(), "topic", "", []byte("m"))
	if err == nil {
		t.Fatal("Expected error publishing to closed broker")
	}
}
