// Package main is the gramaudit CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/gramaudit/internal/audit"
	"github.com/hyperjump/gramaudit/internal/config"
	"github.com/hyperjump/gramaudit/internal/embedding"
	"github.com/hyperjump/gramaudit/internal/keyword"
	"github.com/hyperjump/gramaudit/internal/projection"
	"github.com/hyperjump/gramaudit/internal/storage"
	"github.com/hyperjump/gramaudit/internal/taxonomy"
	"github.com/hyperjump/gramaudit/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/gramaudit/config.yaml"
	configEnv         = "GRAMAUDIT_CONFIG"
	serverEnv         = "GRAMAUDIT_SERVER"
	defaultServerURL  = "http://localhost:8080"
)

// configPathDefault is the --config default: $GRAMAUDIT_CONFIG when set, else the system path.
func configPathDefault() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return defaultConfigPath
}

// serverURLDefault is the --server default for commands that prefer a running server.
func serverURLDefault() string {
	if u, ok := os.LookupEnv(serverEnv); ok {
		return u
	}
	return defaultServerURL
}

// loadConfig loads config from path. When path is the system default, config.yaml in the
// current directory wins if it exists, so commands run from a project dir use its config.
// Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "server":
		err = runServer(args)
	case "ingest":
		err = runIngest(args)
	case "delete":
		err = runDelete(args)
	case "reconcile":
		err = runReconcile(args)
	case "similar":
		err = runSimilar(args)
	case "duplicates":
		err = runDuplicates(args)
	case "project":
		err = runProject(args)
	case "export":
		err = runExport(args)
	case "cohorts":
		err = runCohorts(args)
	case "search":
		err = runSearch(args)
	case "status":
		err = runStatus(args)
	case "watch":
		err = runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("gramaudit version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, usage.Error())
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

// usageError reports bad command-line arguments.
type usageError string

func (e usageError) Error() string { return "Usage: " + string(e) }

// openService opens every store the service needs, restores state and loads taxonomies.
// The caller owns the returned service and must Close it.
func openService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*audit.Service, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	embedder, err := embedding.NewEmbedder(&cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	reducer, err := projection.NewReducer(cfg.Projection)
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize reducer: %w", err)
	}
	labels, err := keyword.NewBleveIndex(cfg.Storage.LabelIndexPath)
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize label index: %w", err)
	}

	svc, err := audit.New(cfg.Core(), audit.Deps{
		Store:    store,
		Embedder: embedder,
		Reducer:  reducer,
		Labels:   labels,
	}, audit.WithLogger(logger))
	if err != nil {
		_ = labels.Close()
		_ = embedder.Close()
		_ = store.Close()
		return nil, err
	}
	if err := svc.Init(ctx); err != nil {
		_ = svc.Close()
		return nil, err
	}
	if err := svc.LoadTaxonomies(ctx, cfg.Matching.TaxonomyDir); err != nil {
		if !errors.Is(err, taxonomy.ErrNotFound) {
			_ = svc.Close()
			return nil, fmt.Errorf("failed to load taxonomies: %w", err)
		}
		logger.Warn("taxonomies not loaded; reconciliation reports no verdicts",
			zap.String("dir", cfg.Matching.TaxonomyDir), zap.Error(err))
	}
	return svc, nil
}

// withService loads config, opens the service, runs fn and closes the service.
func withService(configPath string, debug bool, fn func(ctx context.Context, cfg *config.Config, svc *audit.Service, logger *zap.Logger) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg.Debug || debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	svc, err := openService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(ctx, cfg, svc, logger)
	return errors.Join(runErr, svc.Close())
}

func newLogger(debug bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = utils.NewLogger(true)
	} else {
		logger, err = utils.NewQuietLogger()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func printUsage() {
	fmt.Println(`gramaudit - product grammar audit: cohorts, taxonomy reconciliation, label similarity

Usage:
  gramaudit server [flags]                  Start the HTTP server and directory watcher
  gramaudit ingest [flags] <file-or-dir>    Ingest grammar spreadsheets (.xlsx, .csv, .tsv)
  gramaudit delete [flags] <file-id|path>   Remove an ingested grammar
  gramaudit reconcile [flags] <value>...    Reconcile values against the taxonomies
  gramaudit similar [flags] <value>         List cached values similar to a value
  gramaudit duplicates [flags]              Group near-duplicate cached values
  gramaudit cohorts [flags]                 List grammar cohorts
  gramaudit search [flags] <query>          Hybrid keyword + semantic label search
  gramaudit project [flags]                 Project every cached value to 2D and 3D
  gramaudit export [flags] <dir>            Write embeddings_2d.tsv, embeddings_3d.tsv, metadata.tsv
  gramaudit status [flags]                  Show store, cache and index status
  gramaudit watch <add|remove|list>         Manage watched directories of a running server
  gramaudit version                         Show version
  gramaudit help                            Show this help

Common Flags:
  --config string    Config file path (default: $GRAMAUDIT_CONFIG or /usr/local/etc/gramaudit/config.yaml)
  --server string    Server URL for reconcile, similar, duplicates, search, status and watch
                     (default: $GRAMAUDIT_SERVER or http://localhost:8080); --server "" opens the store directly
  --format string    Output format: text or json (default: text)
  --debug            Enable debug logging

Examples:
  gramaudit server
  gramaudit ingest ./grammars
  gramaudit reconcile "Bluetooth" "Colour"
  gramaudit reconcile --threshold 0.9 --format json "Memory Size"
  gramaudit similar --threshold 0.8 "BT Version"
  gramaudit search --fuzziness 1 blutooth
  gramaudit project && gramaudit export ./tsv_export
  gramaudit watch add /path/to/grammars`)
}
