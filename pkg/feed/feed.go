package feed

import (
	"sync"
	"time"

	"github.com/cuemby/ledger/pkg/types"
)

// EventName classifies a change-feed record.
type EventName string

const (
	EventInsert EventName = "INSERT"
	EventModify EventName = "MODIFY"
	EventRemove EventName = "REMOVE"
)

// Record is one entry of the primary table's change feed, carrying the old
// and new images of the mutated item. Records are delivered in commit order
// within a shard.
type Record struct {
	EventName EventName
	Timestamp time.Time
	OldImage  *types.Item
	NewImage  *types.Item
}

// Image returns the image that identifies the record's item: the new image
// when present, otherwise the old one.
func (r *Record) Image() *types.Item {
	if r.NewImage != nil {
		return r.NewImage
	}
	return r.OldImage
}

// Subscriber is a channel that receives change records.
type Subscriber chan *Record

// Broker distributes change records to subscribers. The primary store
// publishes once per committed mutation, and delivery is lossless: the
// search index converges from this feed alone, so a slow subscriber
// applies backpressure to publishers instead of losing records.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	recordCh    chan *Record
	stopCh      chan struct{}
}

// NewBroker creates a new feed broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		recordCh:    make(chan *Record, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes a record to all subscribers
func (b *Broker) Publish(record *Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	select {
	case b.recordCh <- record:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case record := <-b.recordCh:
			b.broadcast(record)
		case <-b.stopCh:
			return
		}
	}
}

// broadcast delivers one record to every subscriber, blocking on full
// buffers. Only Stop releases a blocked delivery.
func (b *Broker) broadcast(record *Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- record:
		case <-b.stopCh:
			return
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
