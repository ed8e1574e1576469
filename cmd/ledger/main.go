package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/ledger/pkg/blob"
	"github.com/cuemby/ledger/pkg/bundle"
	"github.com/cuemby/ledger/pkg/config"
	"github.com/cuemby/ledger/pkg/dataservice"
	"github.com/cuemby/ledger/pkg/export"
	"github.com/cuemby/ledger/pkg/feed"
	"github.com/cuemby/ledger/pkg/hybrid"
	"github.com/cuemby/ledger/pkg/kv"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/propagator"
	"github.com/cuemby/ledger/pkg/search"
	"github.com/cuemby/ledger/pkg/versionstore"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Ledger - versioned document store with change propagation",
	Long: `Ledger is the persistence core of a multi-tenant, versioned
document store: optimistic-concurrency CRUD, atomic bundles, hybrid
blob offload for large payloads, and a change feed that keeps a
search index in sync with the primary table.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ledger version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the persistence core",
	Long: `Start the ledger node: open the primary table, wire the change
propagator to the search index, and expose metrics and health endpoints.

All settings come from the environment (ENABLE_MULTI_TENANCY,
LOCK_DURATION_MS, LEDGER_DATA_DIR, ...); flags override none of them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		memBlobs, _ := cmd.Flags().GetBool("mem-blob")
		memSearch, _ := cmd.Flags().GetBool("mem-search")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")
		metrics.SetVersion(Version)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Primary table and change feed.
		broker := feed.NewBroker()
		broker.Start()
		defer broker.Stop()

		store, err := kv.NewBoltStore(cfg.DataDir, broker)
		if err != nil {
			metrics.RegisterComponent("store", false, err.Error())
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer store.Close()
		metrics.RegisterComponent("store", true, "")

		// Search tier and propagator.
		var index search.Index
		if memSearch {
			index = search.NewMemIndex()
		} else {
			index, err = search.NewESIndex(cfg.SearchAddresses)
			if err != nil {
				metrics.RegisterComponent("propagator", false, err.Error())
				return fmt.Errorf("failed to connect to search: %v", err)
			}
		}
		prop := propagator.New(index, cfg.EnableMultiTenancy)
		sub := broker.Subscribe()
		go prop.Run(ctx, sub)
		defer broker.Unsubscribe(sub)
		metrics.RegisterComponent("propagator", true, "")

		// Blob tier.
		var blobs blob.Store
		if memBlobs || cfg.BlobBucket == "" {
			blobs = blob.NewMemStore()
		} else {
			blobs, err = blob.NewS3Store(ctx, cfg.BlobBucket)
			if err != nil {
				return fmt.Errorf("failed to connect to blob store: %v", err)
			}
		}

		// Service stack.
		versions := versionstore.New(store, cfg.LockDurationMS)
		bundles := bundle.NewService(store, versions)
		data := dataservice.NewService(store, versions, bundles, cfg.UpdateCreateSupported)
		hybridStore := hybrid.New(data, blobs, cfg.HybridOffload, cfg.EnableMultiTenancy, cfg.BulkObjectSeparator)
		exports := export.NewRegistry(store, cfg.MaxConcurrentExportPerUser, cfg.MaxSystemConcurrentExport)

		// Resource surface plus metrics and health endpoints.
		mux := http.NewServeMux()
		(&handlers{store: hybridStore, exports: exports}).register(mux)
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		srv := &http.Server{Addr: listenAddr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		logger.Info().
			Str("data_dir", cfg.DataDir).
			Str("listen_addr", listenAddr).
			Bool("multi_tenancy", cfg.EnableMultiTenancy).
			Int("feed_subscribers", broker.SubscriberCount()).
			Msg("ledger node started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("metrics server failed")
		}

		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown failed")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen-addr", "127.0.0.1:9600", "Address for the resource, metrics and health endpoints")
	serveCmd.Flags().Bool("mem-blob", false, "Use the in-memory blob store instead of S3")
	serveCmd.Flags().Bool("mem-search", false, "Use the in-memory search index instead of Elasticsearch")
}
