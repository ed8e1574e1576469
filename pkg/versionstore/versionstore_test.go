package versionstore

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/ledger/pkg/codec"
	"github.com/cuemby/ledger/pkg/kv"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
)

func newTestVersionStore(t *testing.T) (*VersionStore, kv.Store) {
	t.Helper()
	store, err := kv.NewBoltStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, params.DefaultLockDurationMS), store
}

func insertVersion(t *testing.T, store kv.Store, resourceType, id, tenantID string, vid int64, status types.DocumentStatus) {
	t.Helper()
	item := codec.EncodeForInsert(
		types.Resource{"resourceType": resourceType, "name": "v"},
		resourceType, id, vid, status, tenantID, time.Now(),
	)
	if err := store.PutItem(context.Background(), params.InsertNewVersion(item, false)); err != nil {
		t.Fatalf("insert %s/%s vid %d failed: %v", resourceType, id, vid, err)
	}
}

func TestReadMostRecentHeadAvailable(t *testing.T) {
	versions, store := newTestVersionStore(t)
	insertVersion(t, store, "Patient", "1234", "", 1, types.StatusAvailable)
	insertVersion(t, store, "Patient", "1234", "", 2, types.StatusAvailable)

	item, err := versions.ReadMostRecent(context.Background(), "Patient", "1234", "")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if item.VID != 2 {
		t.Errorf("vid = %d, want 2", item.VID)
	}
}

func TestReadMostRecentHeadDeleted(t *testing.T) {
	versions, store := newTestVersionStore(t)
	insertVersion(t, store, "Patient", "1234", "", 1, types.StatusAvailable)
	insertVersion(t, store, "Patient", "1234", "", 2, types.StatusDeleted)

	_, err := versions.ReadMostRecent(context.Background(), "Patient", "1234", "")
	if !types.IsResourceNotFound(err) {
		t.Fatalf("deleted head must read as not found, got %v", err)
	}
}

func TestReadMostRecentFallsBackPastPendingHead(t *testing.T) {
	versions, store := newTestVersionStore(t)
	insertVersion(t, store, "Patient", "1234", "", 1, types.StatusAvailable)
	insertVersion(t, store, "Patient", "1234", "", 2, types.StatusPending)

	item, err := versions.ReadMostRecent(context.Background(), "Patient", "1234", "")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if item.VID != 1 {
		t.Errorf("vid = %d, want prior version 1", item.VID)
	}
}

func TestReadMostRecentPendingOnlyChain(t *testing.T) {
	versions, store := newTestVersionStore(t)
	insertVersion(t, store, "Patient", "1234", "", 1, types.StatusPending)

	_, err := versions.ReadMostRecent(context.Background(), "Patient", "1234", "")
	if !types.IsResourceNotFound(err) {
		t.Fatalf("pending-only chain must read as not found, got %v", err)
	}
}

func TestReadMostRecentLockedHeadIsReadable(t *testing.T) {
	versions, store := newTestVersionStore(t)
	insertVersion(t, store, "Patient", "1234", "", 1, types.StatusAvailable)
	insertVersion(t, store, "Patient", "1234", "", 2, types.StatusPendingDelete)

	item, err := versions.ReadMostRecent(context.Background(), "Patient", "1234", "")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if item.VID != 2 {
		t.Errorf("vid = %d, want transient-but-readable head 2", item.VID)
	}
}

func TestReadMostRecentResourceTypeMismatch(t *testing.T) {
	versions, store := newTestVersionStore(t)
	insertVersion(t, store, "Patient", "1234", "", 1, types.StatusAvailable)

	_, err := versions.ReadMostRecent(context.Background(), "Observation", "1234", "")
	if !types.IsResourceNotFound(err) {
		t.Fatalf("type mismatch must read as not found, got %v", err)
	}
}

func TestReadMostRecentTenantIsolation(t *testing.T) {
	versions, store := newTestVersionStore(t)
	insertVersion(t, store, "Patient", "1234", "tenant1", 1, types.StatusAvailable)

	if _, err := versions.ReadMostRecent(context.Background(), "Patient", "1234", "tenant1"); err != nil {
		t.Fatalf("owner tenant read failed: %v", err)
	}
	_, err := versions.ReadMostRecent(context.Background(), "Patient", "1234", "tenant2")
	if !types.IsResourceNotFound(err) {
		t.Fatalf("foreign tenant must not see the resource, got %v", err)
	}
}

func TestReadVersion(t *testing.T) {
	versions, store := newTestVersionStore(t)
	insertVersion(t, store, "Patient", "1234", "", 1, types.StatusAvailable)
	insertVersion(t, store, "Patient", "1234", "", 2, types.StatusPending)

	item, err := versions.ReadVersion(context.Background(), "Patient", "1234", 1, "")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if item.VID != 1 {
		t.Errorf("vid = %d, want 1", item.VID)
	}

	// A transient version is not served by vid.
	if _, err := versions.ReadVersion(context.Background(), "Patient", "1234", 2, ""); !types.IsVersionNotFound(err) {
		t.Fatalf("pending version must read as version not found, got %v", err)
	}
	// Nor is an absent one.
	if _, err := versions.ReadVersion(context.Background(), "Patient", "1234", 9, ""); !types.IsVersionNotFound(err) {
		t.Fatalf("absent version must read as version not found, got %v", err)
	}
	// Nor one of another resource type.
	if _, err := versions.ReadVersion(context.Background(), "Observation", "1234", 1, ""); !types.IsVersionNotFound(err) {
		t.Fatalf("type mismatch must read as version not found, got %v", err)
	}
}

func TestCurrentVID(t *testing.T) {
	versions, store := newTestVersionStore(t)
	insertVersion(t, store, "Patient", "1234", "", 1, types.StatusAvailable)
	insertVersion(t, store, "Patient", "1234", "", 2, types.StatusAvailable)
	insertVersion(t, store, "Patient", "1234", "", 3, types.StatusPending)

	vid, err := versions.CurrentVID(context.Background(), "Patient", "1234", "")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if vid != 2 {
		t.Errorf("vid = %d, want 2 (pending head skipped)", vid)
	}
}
