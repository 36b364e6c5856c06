// Package main provides the nornicdb-check CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornicdb-consistency/pkg/checker"
	"github.com/orneryd/nornicdb-consistency/pkg/config"
	"github.com/orneryd/nornicdb-consistency/pkg/logging"
	"github.com/orneryd/nornicdb-consistency/pkg/storage"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

// errInconsistent is returned when the check finished but found problems.
var errInconsistent = errors.New("store is inconsistent")

func main() {
	rootCmd := &cobra.Command{
		Use:   "nornicdb-check",
		Short: "NornicDB store consistency checker",
		Long: `nornicdb-check scans a NornicDB record store offline and reports
inconsistencies between records and the persisted count store.

Checks:
  • Node and relationship count store entries against recomputed counts
  • Relationship endpoints pointing at unused nodes
  • Relationship groups owned by unused nodes, grouped per owning node`,
		SilenceUsage: true,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nornicdb-check v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Check command
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run a full consistency check",
		Long:  "Open the store read-only, check every record, and report inconsistencies. Exits non-zero when any are found.",
		RunE:  runCheck,
	}
	checkCmd.Flags().String("config", getEnvStr("NORNICDB_CHECK_CONFIG", ""), "Path to a YAML config file (default: search standard locations)")
	checkCmd.Flags().String("data-dir", getEnvStr("NORNICDB_CHECK_DATA_DIR", ""), "Store data directory (overrides config)")
	checkCmd.Flags().Int("workers", getEnvInt("NORNICDB_CHECK_WORKERS", 0), "Worker goroutines (0 = config)")
	checkCmd.Flags().String("max-memory", getEnvStr("NORNICDB_CHECK_MAX_MEMORY", ""), "Memory budget for per-range caches, e.g. 512MB (overrides config)")
	checkCmd.Flags().Int("prefetch-window", getEnvInt("NORNICDB_CHECK_PREFETCH_WINDOW", -1), "Pages read ahead of the scan (0 disables, -1 = config)")
	checkCmd.Flags().Bool("no-prefetch", getEnvBool("NORNICDB_CHECK_NO_PREFETCH", false), "Disable page prefetching")
	checkCmd.Flags().String("log-level", getEnvStr("NORNICDB_CHECK_LOG_LEVEL", ""), "Log level: DEBUG, INFO, WARN, ERROR (overrides config)")
	checkCmd.Flags().String("log-format", getEnvStr("NORNICDB_CHECK_LOG_FORMAT", ""), "Log format: text or json (overrides config)")
	checkCmd.Flags().String("run-id", "", "Identifier attached to every log line (default: random)")
	rootCmd.AddCommand(checkCmd)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errInconsistent) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	workers, _ := cmd.Flags().GetInt("workers")
	maxMemory, _ := cmd.Flags().GetString("max-memory")
	prefetchWindow, _ := cmd.Flags().GetInt("prefetch-window")
	noPrefetch, _ := cmd.Flags().GetBool("no-prefetch")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFormat, _ := cmd.Flags().GetString("log-format")
	runID, _ := cmd.Flags().GetString("run-id")

	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags win over file and environment.
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	if workers > 0 {
		cfg.Execution.Workers = workers
	}
	if maxMemory != "" {
		size, err := config.ParseMemorySize(maxMemory)
		if err != nil {
			return fmt.Errorf("--max-memory: %w", err)
		}
		cfg.Memory.MaxMemory = size
	}
	if prefetchWindow >= 0 {
		cfg.Prefetch.Window = int64(prefetchWindow)
		cfg.Prefetch.Enabled = prefetchWindow > 0
	}
	if noPrefetch {
		cfg.Prefetch.Enabled = false
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Memory.ApplyRuntimeMemory()

	logger := logging.New("check", cfg.Logging.Level, strings.EqualFold(cfg.Logging.Format, "json"))
	if configPath != "" {
		logger.Log(logging.LevelInfo, "configuration loaded", map[string]any{"path": configPath})
	}
	logger.Log(logging.LevelDebug, "effective configuration", map[string]any{"config": cfg.String()})

	var encryptionKey []byte
	if cfg.Store.EncryptionPassword != "" {
		encryptionKey, err = storage.DeriveEncryptionKey(cfg.Store.DataDir, cfg.Store.EncryptionPassword)
		if err != nil {
			return fmt.Errorf("deriving encryption key: %w", err)
		}
	}

	store, err := storage.Open(storage.Options{
		DataDir:        cfg.Store.DataDir,
		ReadOnly:       true,
		LowMemory:      cfg.Store.LowMemory,
		BlockCacheSize: cfg.Store.BlockCacheSize,
		RecordsPerPage: cfg.Store.RecordsPerPage,
		EncryptionKey:  encryptionKey,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("opening store %s: %w", cfg.Store.DataDir, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Log(logging.LevelWarn, "closing store", map[string]any{"error": cerr.Error()})
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var window int64
	if cfg.Prefetch.Enabled {
		window = cfg.Prefetch.Window
	}
	check := checker.NewFullCheck(store, checker.Options{
		RunID:              runID,
		Workers:            cfg.Execution.Workers,
		ChunkSize:          cfg.Execution.ChunkSize,
		MaxMemory:          cfg.Memory.MaxMemory,
		GroupCacheMemory:   cfg.Memory.GroupCacheMemory,
		HighLabelID:        cfg.Memory.HighLabelID,
		HighTypeID:         cfg.Memory.HighTypeID,
		PrefetchWindow:     window,
		LargeIndexCapacity: cfg.Indexes.LargeCapacity,
		Logger:             logger,
	})
	res, err := check.Run(ctx)
	if err != nil {
		return fmt.Errorf("consistency check failed: %w", err)
	}

	fmt.Printf("Run %s: %d range(s), %d group round(s), %d index(es) (%d large), %s\n",
		res.RunID, res.Ranges, res.GroupRounds, res.LargeIndexes+res.SmallIndexes, res.LargeIndexes, res.Elapsed)
	if n := res.Summary.Count(); n > 0 {
		for kind, count := range res.Summary.Counts() {
			fmt.Printf("  %-40s %d\n", kind, count)
		}
		fmt.Printf("✗ %d inconsistencies found\n", n)
		return errInconsistent
	}
	fmt.Println("✓ No inconsistencies found")
	return nil
}

// getEnvStr returns environment variable value or default
func getEnvStr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}
