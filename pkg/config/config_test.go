package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.EnableMultiTenancy {
		t.Error("multi-tenancy must default to off")
	}
	if cfg.LockDurationMS != DefaultLockDurationMS {
		t.Errorf("LockDurationMS = %d, want %d", cfg.LockDurationMS, DefaultLockDurationMS)
	}
	if cfg.MaxConcurrentExportPerUser != DefaultMaxExportPerUser {
		t.Errorf("MaxConcurrentExportPerUser = %d", cfg.MaxConcurrentExportPerUser)
	}
	if cfg.BulkObjectSeparator != DefaultBulkObjectSeparator {
		t.Errorf("BulkObjectSeparator = %q", cfg.BulkObjectSeparator)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENABLE_MULTI_TENANCY", "true")
	t.Setenv("LOCK_DURATION_MS", "5000")
	t.Setenv("MAX_CONCURRENT_EXPORT_PER_USER", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.EnableMultiTenancy {
		t.Error("ENABLE_MULTI_TENANCY not honored")
	}
	if cfg.LockDurationMS != 5000 {
		t.Errorf("LockDurationMS = %d, want 5000", cfg.LockDurationMS)
	}
	if cfg.MaxConcurrentExportPerUser != 3 {
		t.Errorf("MaxConcurrentExportPerUser = %d, want 3", cfg.MaxConcurrentExportPerUser)
	}
}

func TestLoadRejectsBadSeparator(t *testing.T) {
	t.Setenv("BULK_OBJECT_SEPARATOR", "::")
	if _, err := Load(); err == nil {
		t.Fatal("multi-character separator must be rejected")
	}
}

func TestLoadRejectsNonPositiveLockDuration(t *testing.T) {
	t.Setenv("LOCK_DURATION_MS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("zero lock duration must be rejected")
	}
}

func TestLoadOffloadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offload.yaml")
	body := `resourceTypes:
  Questionnaire: [item]
  DocumentReference: [content, context]
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	offload, err := LoadOffloadFile(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(offload["Questionnaire"]) != 1 || offload["Questionnaire"][0] != "item" {
		t.Errorf("Questionnaire = %v", offload["Questionnaire"])
	}
	if len(offload["DocumentReference"]) != 2 {
		t.Errorf("DocumentReference = %v", offload["DocumentReference"])
	}
}

func TestLoadOffloadFileMissing(t *testing.T) {
	if _, err := LoadOffloadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing offload file must be an error")
	}
}

func TestLoadWiresOffloadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offload.yaml")
	if err := os.WriteFile(path, []byte("resourceTypes:\n  Questionnaire: [item]\n"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("LEDGER_OFFLOAD_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.HybridOffload["Questionnaire"]) != 1 {
		t.Errorf("HybridOffload = %v", cfg.HybridOffload)
	}
}
