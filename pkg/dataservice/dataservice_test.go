package dataservice

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/cuemby/ledger/pkg/bundle"
	"github.com/cuemby/ledger/pkg/kv"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/cuemby/ledger/pkg/versionstore"
)

func newTestService(t *testing.T, updateCreate bool) *Service {
	t.Helper()
	store, err := kv.NewBoltStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	versions := versionstore.New(store, params.DefaultLockDurationMS)
	bundles := bundle.NewService(store, versions)
	return NewService(store, versions, bundles, updateCreate)
}

func TestCreateReadRoundTrip(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	created, err := svc.CreateResource(ctx, types.Resource{"resourceType": "Patient", "name": "alice"}, "Patient", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	id := created.ID()
	if id == "" {
		t.Fatal("create must assign an id")
	}
	if created.VersionID() != "1" {
		t.Errorf("versionId = %q, want 1", created.VersionID())
	}

	read, err := svc.ReadResource(ctx, "Patient", id, "")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if read["name"] != "alice" || read.ID() != id {
		t.Errorf("read resource = %v", read)
	}
}

func TestCreateWithIDConflict(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	if _, err := svc.CreateResourceWithID(ctx, types.Resource{"name": "a"}, "Patient", "1234", ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err := svc.CreateResourceWithID(ctx, types.Resource{"name": "b"}, "Patient", "1234", "")
	if !types.IsInvalidResource(err) {
		t.Fatalf("duplicate id must fail as invalid resource, got %v", err)
	}
}

func TestUpdateBumpsVersionAndKeepsHistory(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	created, err := svc.CreateResource(ctx, types.Resource{"resourceType": "Patient", "name": "v1"}, "Patient", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	id := created.ID()

	updated, err := svc.UpdateResource(ctx, types.Resource{"resourceType": "Patient", "name": "v2"}, "Patient", id, "")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.VersionID() != "2" {
		t.Errorf("versionId = %q, want 2", updated.VersionID())
	}

	// The current read serves the new version.
	current, err := svc.ReadResource(ctx, "Patient", id, "")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if current["name"] != "v2" {
		t.Errorf("current name = %v, want v2", current["name"])
	}

	// Prior versions stay addressable.
	old, err := svc.ReadVersion(ctx, "Patient", id, 1, "")
	if err != nil {
		t.Fatalf("version read failed: %v", err)
	}
	if old["name"] != "v1" {
		t.Errorf("version 1 name = %v, want v1", old["name"])
	}
}

func TestUpdateMissingResource(t *testing.T) {
	svc := newTestService(t, false)

	_, err := svc.UpdateResource(context.Background(), types.Resource{}, "Patient", uuid.NewString(), "")
	if !types.IsResourceNotFound(err) {
		t.Fatalf("expected ResourceNotFound, got %v", err)
	}
}

func TestUpdateAsCreate(t *testing.T) {
	svc := newTestService(t, true)
	ctx := context.Background()

	id := uuid.NewString()
	created, err := svc.UpdateResource(ctx, types.Resource{"resourceType": "Patient", "name": "a"}, "Patient", id, "")
	if err != nil {
		t.Fatalf("update-as-create failed: %v", err)
	}
	if created.ID() != id || created.VersionID() != "1" {
		t.Errorf("update-as-create response: id=%q versionId=%q", created.ID(), created.VersionID())
	}

	// A malformed id is rejected rather than created.
	_, err = svc.UpdateResource(ctx, types.Resource{}, "Patient", "not-a-uuid", "")
	if !types.IsInvalidResource(err) {
		t.Fatalf("malformed id must fail as invalid resource, got %v", err)
	}
}

func TestDeleteResource(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	created, err := svc.CreateResource(ctx, types.Resource{"resourceType": "Patient"}, "Patient", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	id := created.ID()

	msg, err := svc.DeleteResource(ctx, "Patient", id, "")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if msg == "" {
		t.Error("delete should report what it removed")
	}

	// The resource is gone from the current view.
	if _, err := svc.ReadResource(ctx, "Patient", id, ""); !types.IsResourceNotFound(err) {
		t.Fatalf("deleted resource must read as not found, got %v", err)
	}
	// Deleting again finds nothing.
	if _, err := svc.DeleteResource(ctx, "Patient", id, ""); !types.IsResourceNotFound(err) {
		t.Fatalf("double delete must report not found, got %v", err)
	}
}

func TestPatchResource(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	created, err := svc.CreateResource(ctx, types.Resource{"resourceType": "Patient", "name": "alice", "active": true}, "Patient", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	patched, err := svc.PatchResource(ctx, types.Resource{"active": false}, "Patient", created.ID(), "")
	if err != nil {
		t.Fatalf("patch failed: %v", err)
	}
	if patched["active"] != false {
		t.Errorf("active = %v, want false", patched["active"])
	}
	if patched["name"] != "alice" {
		t.Errorf("name = %v, untouched fields must survive the merge", patched["name"])
	}
	if patched.VersionID() != "2" {
		t.Errorf("versionId = %q, want 2", patched.VersionID())
	}
}

func TestTenantIsolation(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	created, err := svc.CreateResource(ctx, types.Resource{"resourceType": "Patient"}, "Patient", "tenant1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	id := created.ID()

	if _, err := svc.ReadResource(ctx, "Patient", id, "tenant1"); err != nil {
		t.Fatalf("owner tenant read failed: %v", err)
	}
	if _, err := svc.ReadResource(ctx, "Patient", id, "tenant2"); !types.IsResourceNotFound(err) {
		t.Fatalf("foreign tenant must not see the resource, got %v", err)
	}
}
