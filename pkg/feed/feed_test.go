package feed

import (
	"testing"
	"time"

	"github.com/cuemby/ledger/pkg/types"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	if broker.SubscriberCount() != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", broker.SubscriberCount())
	}

	rec := &Record{
		EventName: EventInsert,
		NewImage:  &types.Item{StorageID: "1234", VID: 1},
	}
	broker.Publish(rec)

	for i, sub := range []Subscriber{sub1, sub2} {
		select {
		case got := <-sub:
			if got.NewImage.StorageID != "1234" {
				t.Errorf("subscriber %d got storage id %q", i, got.NewImage.StorageID)
			}
			if got.Timestamp.IsZero() {
				t.Errorf("subscriber %d got zero timestamp", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d did not receive the record", i)
		}
	}
}

func TestBrokerPreservesPublishOrder(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	for vid := int64(1); vid <= 10; vid++ {
		broker.Publish(&Record{
			EventName: EventModify,
			NewImage:  &types.Item{StorageID: "1234", VID: vid},
		})
	}

	for want := int64(1); want <= 10; want++ {
		select {
		case got := <-sub:
			if got.NewImage.VID != want {
				t.Fatalf("got vid %d, want %d", got.NewImage.VID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for vid %d", want)
		}
	}
}

func TestBrokerBlocksInsteadOfDropping(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()

	// More records than every internal buffer combined. The publisher must
	// block until the subscriber drains; nothing may be lost.
	const total = int64(400)
	go func() {
		for vid := int64(1); vid <= total; vid++ {
			broker.Publish(&Record{
				EventName: EventInsert,
				NewImage:  &types.Item{StorageID: "1234", VID: vid},
			})
		}
	}()

	// Let the buffers fill and the broadcast block before draining.
	time.Sleep(200 * time.Millisecond)

	for want := int64(1); want <= total; want++ {
		select {
		case got := <-sub:
			if got.NewImage.VID != want {
				t.Fatalf("got vid %d, want %d: records lost or reordered", got.NewImage.VID, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("record %d of %d never delivered", want, total)
		}
	}
}

func TestRecordImage(t *testing.T) {
	oldImg := &types.Item{StorageID: "old"}
	newImg := &types.Item{StorageID: "new"}

	if got := (&Record{OldImage: oldImg, NewImage: newImg}).Image(); got != newImg {
		t.Error("Image() should prefer the new image")
	}
	if got := (&Record{EventName: EventRemove, OldImage: oldImg}).Image(); got != oldImg {
		t.Error("Image() should fall back to the old image")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	if _, ok := <-sub; ok {
		t.Error("unsubscribed channel should be closed")
	}
	if broker.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", broker.SubscriberCount())
	}
}
