package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/ledger/pkg/feed"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
)

func newTestStore(t *testing.T, broker *feed.Broker) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir(), broker)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testItem(storageID string, vid int64, status types.DocumentStatus, lockEndTs int64) types.Item {
	return types.Item{
		StorageID:      storageID,
		VID:            vid,
		ResourceType:   "Patient",
		DocumentStatus: status,
		LockEndTs:      lockEndTs,
		Document:       types.Resource{"id": storageID, "resourceType": "Patient"},
	}
}

func TestPutItemConditionalInsert(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	item := testItem("1234", 1, types.StatusAvailable, time.Now().UnixMilli())
	if err := store.PutItem(ctx, params.InsertNewVersion(item, false)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := store.PutItem(ctx, params.InsertNewVersion(item, false))
	if !IsConditionFailed(err) {
		t.Fatalf("second insert should fail the not-exists guard, got %v", err)
	}

	// Overwrite allowed: same key, no guard.
	if err := store.PutItem(ctx, params.InsertNewVersion(item, true)); err != nil {
		t.Fatalf("unconditional overwrite failed: %v", err)
	}
}

func TestGetItemNotFound(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.GetItem(context.Background(), params.PointGet("missing", 1))
	if err != ErrItemNotFound {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestQueryNewestFirst(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	for vid := int64(1); vid <= 3; vid++ {
		item := testItem("1234", vid, types.StatusAvailable, time.Now().UnixMilli())
		if err := store.PutItem(ctx, params.InsertNewVersion(item, false)); err != nil {
			t.Fatalf("insert vid %d failed: %v", vid, err)
		}
	}
	// A neighboring chain must not bleed into the scan.
	other := testItem("12345", 9, types.StatusAvailable, time.Now().UnixMilli())
	if err := store.PutItem(ctx, params.InsertNewVersion(other, false)); err != nil {
		t.Fatalf("insert neighbor failed: %v", err)
	}

	items, err := store.Query(ctx, params.MostRecentQuery("1234", 2))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].VID != 3 || items[1].VID != 2 {
		t.Errorf("got vids [%d %d], want [3 2]", items[0].VID, items[1].VID)
	}
}

func TestQueryMissingChain(t *testing.T) {
	store := newTestStore(t, nil)

	items, err := store.Query(context.Background(), params.MostRecentQuery("missing", 2))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("got %d items, want 0", len(items))
	}
}

func TestApplyTransitionGuard(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	item := testItem("1234", 1, types.StatusAvailable, now.UnixMilli())
	if err := store.PutItem(ctx, params.InsertNewVersion(item, false)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Guard on the wrong expected status fails.
	wrong := params.StatusTransition("Patient", "1234", 1, types.StatusPending, types.StatusAvailable, now, params.DefaultLockDurationMS)
	if err := store.ApplyTransition(ctx, wrong); !IsConditionFailed(err) {
		t.Fatalf("expected condition failure, got %v", err)
	}

	// Matching expected status passes.
	ok := params.StatusTransition("Patient", "1234", 1, types.StatusAvailable, types.StatusDeleted, now, params.DefaultLockDurationMS)
	if err := store.ApplyTransition(ctx, ok); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	stored, err := store.GetItem(ctx, params.PointGet("1234", 1))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.DocumentStatus != types.StatusDeleted {
		t.Errorf("status = %s, want DELETED", stored.DocumentStatus)
	}
}

func TestApplyTransitionReclaimsExpiredLock(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	// A PENDING version whose lock window has long expired.
	stale := testItem("1234", 1, types.StatusPending, now.Add(-time.Minute).UnixMilli())
	if err := store.PutItem(ctx, params.InsertNewVersion(stale, false)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	req := params.StatusTransition("Patient", "1234", 1, types.StatusAvailable, types.StatusDeleted, now, params.DefaultLockDurationMS)
	if err := store.ApplyTransition(ctx, req); err != nil {
		t.Fatalf("expired lock should be reclaimable, got %v", err)
	}

	// A fresh PENDING lock is not reclaimable.
	fresh := testItem("5678", 1, types.StatusPending, now.UnixMilli())
	if err := store.PutItem(ctx, params.InsertNewVersion(fresh, false)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	req = params.StatusTransition("Patient", "5678", 1, types.StatusAvailable, types.StatusDeleted, now, params.DefaultLockDurationMS)
	if err := store.ApplyTransition(ctx, req); !IsConditionFailed(err) {
		t.Fatalf("fresh lock must hold, got %v", err)
	}
}

func TestApplyTransitionResourceTypeGuard(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	item := testItem("1234", 1, types.StatusAvailable, now.UnixMilli())
	if err := store.PutItem(ctx, params.InsertNewVersion(item, false)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	req := params.StatusTransition("Observation", "1234", 1, types.StatusAvailable, types.StatusDeleted, now, params.DefaultLockDurationMS)
	if err := store.ApplyTransition(ctx, req); !IsConditionFailed(err) {
		t.Fatalf("resource type mismatch must fail the guard, got %v", err)
	}
}

func TestApplyTransitionUnconditionalOnAbsentKey(t *testing.T) {
	store := newTestStore(t, nil)

	// A hand-built request with no guard at all still must not transition
	// a key that was never written.
	req := params.StatusTransitionRequest{
		StorageID: "missing",
		VID:       1,
		NewStatus: types.StatusDeleted,
	}
	if err := store.ApplyTransition(context.Background(), req); !IsConditionFailed(err) {
		t.Fatalf("expected condition failure on absent key, got %v", err)
	}
}

func TestDeleteItemIdempotent(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	item := testItem("1234", 1, types.StatusPending, time.Now().UnixMilli())
	if err := store.PutItem(ctx, params.InsertNewVersion(item, false)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := store.DeleteItem(ctx, params.DeleteVersion("1234", 1)); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.DeleteItem(ctx, params.DeleteVersion("1234", 1)); err != nil {
		t.Fatalf("repeated delete must be a no-op, got %v", err)
	}
	if _, err := store.GetItem(ctx, params.PointGet("1234", 1)); err != ErrItemNotFound {
		t.Fatalf("expected ErrItemNotFound after delete, got %v", err)
	}
}

func TestTransactWriteAllOrNothing(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	good := params.InsertNewVersion(testItem("1234", 1, types.StatusPending, now.UnixMilli()), false)
	// Transition on a key that does not exist fails its guard.
	bad := params.StatusTransition("Patient", "missing", 1, types.StatusAvailable, types.StatusDeleted, now, params.DefaultLockDurationMS)

	err := store.TransactWrite(ctx, []params.TransactItem{
		{Put: &good},
		{Transition: &bad},
	})
	var cf *ConditionFailedError
	if !errors.As(err, &cf) {
		t.Fatalf("expected condition failure, got %v", err)
	}
	if cf.Index != 1 {
		t.Errorf("failing member index = %d, want 1", cf.Index)
	}

	// The batch aborted, so the first member must not be visible.
	if _, err := store.GetItem(ctx, params.PointGet("1234", 1)); err != ErrItemNotFound {
		t.Fatalf("aborted batch leaked a write: %v", err)
	}
}

func TestTransactWriteBound(t *testing.T) {
	store := newTestStore(t, nil)

	items := make([]params.TransactItem, params.MaxTransactItems+1)
	for i := range items {
		put := params.InsertNewVersion(testItem("1234", int64(i+1), types.StatusPending, 0), false)
		items[i] = params.TransactItem{Put: &put}
	}
	if err := store.TransactWrite(context.Background(), items); err == nil {
		t.Fatal("oversized batch must be rejected")
	}
}

func drainRecord(t *testing.T, sub feed.Subscriber) *feed.Record {
	t.Helper()
	select {
	case rec := <-sub:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed record")
		return nil
	}
}

func TestChangeFeedEmission(t *testing.T) {
	broker := feed.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	store := newTestStore(t, broker)
	ctx := context.Background()
	now := time.Now()

	item := testItem("1234", 1, types.StatusPending, now.UnixMilli())
	if err := store.PutItem(ctx, params.InsertNewVersion(item, false)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	rec := drainRecord(t, sub)
	if rec.EventName != feed.EventInsert || rec.NewImage == nil || rec.NewImage.VID != 1 {
		t.Fatalf("unexpected insert record: %+v", rec)
	}

	tr := params.StatusTransition("Patient", "1234", 1, types.StatusPending, types.StatusAvailable, now, params.DefaultLockDurationMS)
	if err := store.ApplyTransition(ctx, tr); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	rec = drainRecord(t, sub)
	if rec.EventName != feed.EventModify {
		t.Fatalf("expected MODIFY, got %s", rec.EventName)
	}
	if rec.OldImage.DocumentStatus != types.StatusPending || rec.NewImage.DocumentStatus != types.StatusAvailable {
		t.Errorf("images = %s -> %s, want PENDING -> AVAILABLE",
			rec.OldImage.DocumentStatus, rec.NewImage.DocumentStatus)
	}

	if err := store.DeleteItem(ctx, params.DeleteVersion("1234", 1)); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	rec = drainRecord(t, sub)
	if rec.EventName != feed.EventRemove || rec.OldImage == nil {
		t.Fatalf("unexpected remove record: %+v", rec)
	}
}

func TestChangeFeedSilentOnAbort(t *testing.T) {
	broker := feed.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	store := newTestStore(t, broker)
	now := time.Now()

	good := params.InsertNewVersion(testItem("1234", 1, types.StatusPending, now.UnixMilli()), false)
	bad := params.StatusTransition("Patient", "missing", 1, types.StatusAvailable, types.StatusDeleted, now, params.DefaultLockDurationMS)
	err := store.TransactWrite(context.Background(), []params.TransactItem{{Put: &good}, {Transition: &bad}})
	if !IsConditionFailed(err) {
		t.Fatalf("expected condition failure, got %v", err)
	}

	select {
	case rec := <-sub:
		t.Fatalf("aborted batch published a record: %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}
}
