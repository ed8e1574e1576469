package types

import (
	"testing"
	"time"
)

func TestDocumentStatusClassification(t *testing.T) {
	transient := map[DocumentStatus]bool{
		StatusPending:       true,
		StatusLocked:        true,
		StatusAvailable:     false,
		StatusPendingDelete: true,
		StatusDeleted:       false,
	}
	readable := map[DocumentStatus]bool{
		StatusPending:       false,
		StatusLocked:        true,
		StatusAvailable:     true,
		StatusPendingDelete: true,
		StatusDeleted:       false,
	}
	for status, want := range transient {
		if got := status.Transient(); got != want {
			t.Errorf("%s.Transient() = %v, want %v", status, got, want)
		}
	}
	for status, want := range readable {
		if got := status.Readable(); got != want {
			t.Errorf("%s.Readable() = %v, want %v", status, got, want)
		}
	}
}

func TestResourceCloneIsDeep(t *testing.T) {
	original := Resource{
		"name": "alice",
		"address": map[string]any{
			"city": "springfield",
		},
		"tags": []any{"a", "b"},
	}

	clone := original.Clone()
	clone["address"].(map[string]any)["city"] = "shelbyville"
	clone["tags"].([]any)[0] = "z"

	if original["address"].(map[string]any)["city"] != "springfield" {
		t.Error("mutating the clone's nested map changed the original")
	}
	if original["tags"].([]any)[0] != "a" {
		t.Error("mutating the clone's slice changed the original")
	}
}

func TestStampMeta(t *testing.T) {
	r := Resource{"meta": map[string]any{"source": "unit"}}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r.StampMeta(7, at)

	if r.VersionID() != "7" {
		t.Errorf("versionId = %q, want 7", r.VersionID())
	}
	if r.LastUpdated() == "" {
		t.Error("lastUpdated not stamped")
	}
	if r["meta"].(map[string]any)["source"] != "unit" {
		t.Error("existing meta fields must survive stamping")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for _, status := range []JobStatus{JobCanceled, JobCompleted, JobFailed} {
		if !status.Terminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
	for _, status := range []JobStatus{JobInProgress, JobCanceling} {
		if status.Terminal() {
			t.Errorf("%s should not be terminal", status)
		}
	}
}
