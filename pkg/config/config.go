package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Defaults for the tunables exposed through the environment.
const (
	DefaultLockDurationMS       = 35000
	DefaultMaxExportPerUser     = 1
	DefaultMaxSystemExport      = 2
	DefaultBulkObjectSeparator  = "_"
	DefaultDataDir              = "/var/lib/ledger"
	DefaultSearchAddress        = "http://localhost:9200"
)

// Config holds the environment-derived settings of the persistence core.
type Config struct {
	// EnableMultiTenancy controls whether a tenant id is required (true)
	// or forbidden (false) on every request.
	EnableMultiTenancy bool

	// UpdateCreateSupported controls whether an update targeting a missing
	// id synthesizes a create with the supplied id.
	UpdateCreateSupported bool

	// LockDurationMS is the stale-lock reclaim threshold in milliseconds.
	LockDurationMS int64

	// MaxConcurrentExportPerUser and MaxSystemConcurrentExport are the
	// export admission caps.
	MaxConcurrentExportPerUser int
	MaxSystemConcurrentExport  int

	// BulkObjectSeparator is the single character separating id and uuid in
	// blob object keys. Must not appear in resource ids.
	BulkObjectSeparator string

	// DataDir is where the primary table lives.
	DataDir string

	// BlobBucket is the blob-store bucket for offloaded payloads.
	BlobBucket string

	// SearchAddresses are the search engine endpoints.
	SearchAddresses []string

	// HybridOffload maps resource types to the fields offloaded to the
	// blob store. Populated from the offload registration file; fixed
	// after startup.
	HybridOffload map[string][]string

	LogLevel string
	LogJSON  bool
}

// Load reads configuration from the environment. Every setting has a
// default; nothing is required.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENABLE_MULTI_TENANCY", false)
	v.SetDefault("UPDATE_CREATE_SUPPORTED", false)
	v.SetDefault("LOCK_DURATION_MS", DefaultLockDurationMS)
	v.SetDefault("MAX_CONCURRENT_EXPORT_PER_USER", DefaultMaxExportPerUser)
	v.SetDefault("MAX_SYSTEM_CONCURRENT_EXPORT", DefaultMaxSystemExport)
	v.SetDefault("BULK_OBJECT_SEPARATOR", DefaultBulkObjectSeparator)
	v.SetDefault("LEDGER_DATA_DIR", DefaultDataDir)
	v.SetDefault("LEDGER_BLOB_BUCKET", "")
	v.SetDefault("LEDGER_SEARCH_ADDRESSES", []string{DefaultSearchAddress})
	v.SetDefault("LEDGER_LOG_LEVEL", "info")
	v.SetDefault("LEDGER_LOG_JSON", true)
	v.SetDefault("LEDGER_OFFLOAD_FILE", "")

	cfg := &Config{
		EnableMultiTenancy:         v.GetBool("ENABLE_MULTI_TENANCY"),
		UpdateCreateSupported:      v.GetBool("UPDATE_CREATE_SUPPORTED"),
		LockDurationMS:             v.GetInt64("LOCK_DURATION_MS"),
		MaxConcurrentExportPerUser: v.GetInt("MAX_CONCURRENT_EXPORT_PER_USER"),
		MaxSystemConcurrentExport:  v.GetInt("MAX_SYSTEM_CONCURRENT_EXPORT"),
		BulkObjectSeparator:        v.GetString("BULK_OBJECT_SEPARATOR"),
		DataDir:                    v.GetString("LEDGER_DATA_DIR"),
		BlobBucket:                 v.GetString("LEDGER_BLOB_BUCKET"),
		SearchAddresses:            v.GetStringSlice("LEDGER_SEARCH_ADDRESSES"),
		LogLevel:                   v.GetString("LEDGER_LOG_LEVEL"),
		LogJSON:                    v.GetBool("LEDGER_LOG_JSON"),
		HybridOffload:              map[string][]string{},
	}

	if len(cfg.BulkObjectSeparator) != 1 {
		return nil, fmt.Errorf("BULK_OBJECT_SEPARATOR must be a single character, got %q", cfg.BulkObjectSeparator)
	}
	if cfg.LockDurationMS <= 0 {
		return nil, fmt.Errorf("LOCK_DURATION_MS must be positive, got %d", cfg.LockDurationMS)
	}

	if path := v.GetString("LEDGER_OFFLOAD_FILE"); path != "" {
		offload, err := LoadOffloadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.HybridOffload = offload
	}

	return cfg, nil
}

// offloadFile is the YAML shape of the hybrid offload registration:
//
//	resourceTypes:
//	  Questionnaire: [item]
//	  DocumentReference: [content]
type offloadFile struct {
	ResourceTypes map[string][]string `yaml:"resourceTypes"`
}

// LoadOffloadFile parses a hybrid offload registration file.
func LoadOffloadFile(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read offload file: %w", err)
	}
	var f offloadFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse offload file %s: %w", path, err)
	}
	if f.ResourceTypes == nil {
		f.ResourceTypes = map[string][]string{}
	}
	return f.ResourceTypes, nil
}
