// Package broker carries run requests, run events, log chunks and
// annotations between the CLI, the engine and the agents. Local mode
// uses the in-memory broker; distributed mode uses Redpanda.
package broker

import "context"

// Broker abstracts message publishing and consumption.
type Broker interface {
	// Publish sends a message to a topic. The key is the run ID so all
	// messages of one run land on the same partition; the in-memory
	// broker ignores it.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel of messages for a topic. groupID
	// coordinates consumer groups on Redpanda and is ignored in-memory.
	// The channel closes when ctx is done or the broker shuts down.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts the broker down and closes subscriber channels.
	Close() error
}

// Message is one consumed record.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}
