package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/gramaudit/internal/audit"
	"github.com/hyperjump/gramaudit/internal/cli"
	"github.com/hyperjump/gramaudit/internal/config"
	"github.com/hyperjump/gramaudit/internal/fileid"
	"github.com/hyperjump/gramaudit/internal/ingest"
	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/server"
	"github.com/hyperjump/gramaudit/internal/storage"
	"github.com/hyperjump/gramaudit/internal/watcher"
	"github.com/hyperjump/gramaudit/pkg/utils"
)

// commonFlags are shared by every command that touches the store.
type commonFlags struct {
	config string
	server string
	format string
	debug  bool
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	c := &commonFlags{}
	fs.StringVar(&c.config, "config", configPathDefault(), "config file path")
	fs.StringVar(&c.server, "server", serverURLDefault(), `server URL; "" opens the store directly`)
	fs.StringVar(&c.format, "format", "text", "output format: text or json")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
	return fs, c
}

// parse parses args with flags allowed after positionals and resolves the output format.
func (c *commonFlags) parse(fs *flag.FlagSet, args []string) (cli.OutputFormat, error) {
	if err := fs.Parse(flagsFirst(args)); err != nil {
		return "", err
	}
	return cli.ParseFormat(c.format)
}

// remote returns a client when a server answers at --server, else nil for direct access.
func (c *commonFlags) remote() *apiClient {
	if serverAvailable(c.server) {
		return newAPIClient(c.server)
	}
	return nil
}

// flagsFirst moves flags that follow positional arguments to the front so the flag package
// sees them: "gramaudit similar BT --threshold 0.8" parses like "--threshold 0.8 BT".
func flagsFirst(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' && a != "-" {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// flagFloat returns &v when the named flag was given on the command line, nil otherwise, so an
// explicit 0 is told apart from "not set".
func flagFloat(fs *flag.FlagSet, name string, v float64) *float64 {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	if !set {
		return nil
	}
	return &v
}

// joinArgs joins positionals with spaces so multi-word values work with or without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// readValues returns args, or one value per non-blank stdin line when the only arg is "-".
func readValues(args []string, stdin io.Reader) ([]string, error) {
	if len(args) != 1 || args[0] != "-" {
		return args, nil
	}
	var values []string
	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		if v := strings.TrimSpace(sc.Text()); v != "" {
			values = append(values, v)
		}
	}
	return values, sc.Err()
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", configPathDefault(), "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (file events, ingestion, etc.)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath), zap.Bool("debug", debugMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, err := openService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	watchSvc := watcher.NewWatcher(svc, cfg.Watch.Directories, cfg.Watch.RecursiveOrDefault(),
		watcher.WithLogger(logger.Named("watcher")),
		watcher.WithDebounce(cfg.Watch.Debounce),
	)
	if err := watchSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watchSvc.Stop()
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(svc, &cfg.Server, logger, watchSvc, resolvedConfigPath, cfg)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Stop(shutdownCtx)
}

func runIngest(args []string) error {
	fs, common := newFlagSet("ingest")
	recursive := fs.Bool("recursive", true, "descend into subdirectories")
	format, err := common.parse(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("gramaudit ingest [flags] <file-or-directory>")
	}
	path, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if api := common.remote(); api != nil {
		body := map[string]interface{}{"path": path, "recursive": *recursive}
		if !info.IsDir() {
			var report ingest.Report
			if err := api.post("/api/v1/files", body, &report); err != nil {
				return err
			}
			return cli.WriteIngest(os.Stdout, []*ingest.Report{&report}, nil, format)
		}
		var out struct {
			Reports []*ingest.Report `json:"reports"`
			Failed  []struct {
				Path  string `json:"path"`
				Error string `json:"error"`
			} `json:"failed"`
		}
		if err := api.post("/api/v1/files", body, &out); err != nil {
			return err
		}
		failures := make([]ingest.FileError, len(out.Failed))
		for i, f := range out.Failed {
			failures[i] = ingest.FileError{Path: f.Path, Err: errors.New(f.Error)}
		}
		return cli.WriteIngest(os.Stdout, out.Reports, failures, format)
	}

	return withService(common.config, common.debug, func(ctx context.Context, _ *config.Config, svc *audit.Service, _ *zap.Logger) error {
		if !info.IsDir() {
			report, err := svc.IngestFile(ctx, path)
			if err != nil {
				return err
			}
			return cli.WriteIngest(os.Stdout, []*ingest.Report{report}, nil, format)
		}
		reports, failures, err := svc.IngestDirectory(ctx, path, *recursive)
		if err != nil {
			return err
		}
		return cli.WriteIngest(os.Stdout, reports, failures, format)
	})
}

func runDelete(args []string) error {
	fs, common := newFlagSet("delete")
	if _, err := common.parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("gramaudit delete [flags] <file-id|path>")
	}
	id := fs.Arg(0)
	if !fileid.IsGrammarID(id) {
		abs, err := filepath.Abs(id)
		if err != nil {
			return err
		}
		id = fileid.GrammarID(abs)
	}

	if api := common.remote(); api != nil {
		if err := api.delete("/api/v1/files/" + url.PathEscape(id)); err != nil {
			return err
		}
	} else {
		err := withService(common.config, common.debug, func(ctx context.Context, _ *config.Config, svc *audit.Service, _ *zap.Logger) error {
			return svc.DeleteFile(ctx, id)
		})
		if err != nil {
			return err
		}
	}
	fmt.Printf("Deleted: %s\n", id)
	return nil
}

func runReconcile(args []string) error {
	fs, common := newFlagSet("reconcile")
	threshold := fs.Float64("threshold", 0, "similarity threshold in [0,1] (default: configured value)")
	source := fs.String("source", "cli", "provenance recorded for values seen for the first time")
	format, err := common.parse(fs, args)
	if err != nil {
		return err
	}
	values, err := readValues(fs.Args(), os.Stdin)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return usageError("gramaudit reconcile [flags] <value>... (or - to read values from stdin)")
	}
	q := &models.ReconcileQuery{Values: values, Source: *source, Threshold: flagFloat(fs, "threshold", *threshold)}

	if api := common.remote(); api != nil {
		var out struct {
			Results []audit.BatchItem `json:"results"`
		}
		if err := api.post("/api/v1/reconcile", q, &out); err != nil {
			return err
		}
		return cli.WriteReconcile(os.Stdout, out.Results, format)
	}
	return withService(common.config, common.debug, func(ctx context.Context, _ *config.Config, svc *audit.Service, _ *zap.Logger) error {
		items, err := svc.ReconcileBatch(ctx, q)
		if err != nil {
			return err
		}
		return cli.WriteReconcile(os.Stdout, items, format)
	})
}

func runSimilar(args []string) error {
	fs, common := newFlagSet("similar")
	threshold := fs.Float64("threshold", 0, "minimum similarity (default: configured value)")
	limit := fs.Int("limit", 10, "maximum number of values")
	format, err := common.parse(fs, args)
	if err != nil {
		return err
	}
	value := joinArgs(fs.Args())
	if value == "" {
		return usageError("gramaudit similar [flags] <value>")
	}
	q := &models.SimilarQuery{Value: value, Threshold: flagFloat(fs, "threshold", *threshold), Limit: *limit}

	if api := common.remote(); api != nil {
		var out struct {
			Matches []audit.SimilarValue `json:"matches"`
		}
		if err := api.post("/api/v1/similar", q, &out); err != nil {
			return err
		}
		return cli.WriteSimilar(os.Stdout, value, out.Matches, format)
	}
	return withService(common.config, common.debug, func(ctx context.Context, _ *config.Config, svc *audit.Service, _ *zap.Logger) error {
		matches, err := svc.Similar(ctx, q)
		if err != nil {
			return err
		}
		return cli.WriteSimilar(os.Stdout, value, matches, format)
	})
}

func runDuplicates(args []string) error {
	fs, common := newFlagSet("duplicates")
	thresholdFlag := fs.Float64("threshold", 0, "minimum pair similarity (default: configured value)")
	format, err := common.parse(fs, args)
	if err != nil {
		return err
	}
	threshold := flagFloat(fs, "threshold", *thresholdFlag)

	if api := common.remote(); api != nil {
		var report audit.DuplicateReport
		path := "/api/v1/duplicates"
		if threshold != nil {
			path += "?threshold=" + strconv.FormatFloat(*threshold, 'f', -1, 64)
		}
		if err := api.get(path, &report); err != nil {
			return err
		}
		return cli.WriteDuplicates(os.Stdout, &report, format)
	}
	return withService(common.config, common.debug, func(_ context.Context, _ *config.Config, svc *audit.Service, _ *zap.Logger) error {
		report, err := svc.Duplicates(threshold)
		if err != nil {
			return err
		}
		return cli.WriteDuplicates(os.Stdout, report, format)
	})
}

func runCohorts(args []string) error {
	fs, common := newFlagSet("cohorts")
	format, err := common.parse(fs, args)
	if err != nil {
		return err
	}
	if api := common.remote(); api != nil {
		var out struct {
			Cohorts []*models.GrammarCohort `json:"cohorts"`
		}
		if err := api.get("/api/v1/cohorts", &out); err != nil {
			return err
		}
		return cli.WriteCohorts(os.Stdout, out.Cohorts, format)
	}
	return withService(common.config, common.debug, func(_ context.Context, _ *config.Config, svc *audit.Service, _ *zap.Logger) error {
		return cli.WriteCohorts(os.Stdout, svc.Cohorts(), format)
	})
}

func runSearch(args []string) error {
	fs, common := newFlagSet("search")
	limit := fs.Int("limit", 20, "number of results")
	kind := fs.String("kind", "", "restrict to attribute, option or taxonomy labels")
	source := fs.String("source", "", "restrict to one taxonomy source")
	fuzziness := fs.Int("fuzziness", 0, "edit distance for typo tolerance (0-2)")
	kwWeight := fs.Float64("keyword-weight", 0, "keyword score weight")
	semWeight := fs.Float64("semantic-weight", 0, "semantic score weight")
	format, err := common.parse(fs, args)
	if err != nil {
		return err
	}
	query := joinArgs(fs.Args())
	if query == "" {
		return usageError("gramaudit search [flags] <query>")
	}
	q := models.LabelQuery{
		Query:          query,
		Kind:           *kind,
		Source:         *source,
		Fuzziness:      *fuzziness,
		Limit:          *limit,
		KeywordWeight:  *kwWeight,
		SemanticWeight: *semWeight,
	}

	var search func(q models.LabelQuery) (*audit.LabelSearchResponse, error)
	var done func() error
	if api := common.remote(); api != nil {
		search = func(q models.LabelQuery) (*audit.LabelSearchResponse, error) {
			var resp audit.LabelSearchResponse
			err := api.post("/api/v1/labels/search", q, &resp)
			return &resp, err
		}
	} else {
		cfg, _, err := loadConfig(common.config)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err := newLogger(cfg.Debug || common.debug)
		if err != nil {
			return err
		}
		defer logger.Sync()
		svc, err := openService(context.Background(), cfg, logger)
		if err != nil {
			return err
		}
		search = func(q models.LabelQuery) (*audit.LabelSearchResponse, error) {
			return svc.SearchLabels(context.Background(), &q)
		}
		done = svc.Close
	}

	resp, err := search(q)
	// Nothing found exactly: retry once with typo tolerance.
	if err == nil && resp.Total == 0 && q.Fuzziness == 0 {
		q.Fuzziness = 1
		if fuzzy, ferr := search(q); ferr == nil && fuzzy.Total > 0 {
			resp = fuzzy
		}
	}
	if err == nil {
		err = cli.WriteLabelSearch(os.Stdout, resp, format)
	}
	if done != nil {
		err = errors.Join(err, done())
	}
	return err
}

func runProject(args []string) error {
	fs, common := newFlagSet("project")
	format, err := common.parse(fs, args)
	if err != nil {
		return err
	}
	var report *audit.ProjectionReport
	if api := common.remote(); api != nil {
		report = &audit.ProjectionReport{}
		if err := api.post("/api/v1/projection", nil, report); err != nil {
			return err
		}
	} else {
		err := withService(common.config, common.debug, func(ctx context.Context, _ *config.Config, svc *audit.Service, _ *zap.Logger) error {
			var err error
			report, err = svc.ProjectAll(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	if format == cli.OutputJSON {
		return cli.WriteJSON(os.Stdout, report)
	}
	fmt.Printf("Projected %d values to %v dimensions in %s\n", report.Points, report.Dimensions, report.Took.Round(time.Millisecond))
	return nil
}

func runExport(args []string) error {
	fs, common := newFlagSet("export")
	if _, err := common.parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("gramaudit export [flags] <dir>")
	}
	dir := fs.Arg(0)

	var records []*models.EmbeddingRecord
	if api := common.remote(); api != nil {
		var p2, p3 struct {
			Points []audit.Point `json:"points"`
		}
		if err := api.get("/api/v1/points?dims=2", &p2); err != nil {
			return err
		}
		if err := api.get("/api/v1/points?dims=3", &p3); err != nil {
			return err
		}
		records = recordsFromPoints(p2.Points, p3.Points)
	} else {
		err := withService(common.config, common.debug, func(_ context.Context, _ *config.Config, svc *audit.Service, _ *zap.Logger) error {
			records = svc.Records()
			return nil
		})
		if err != nil {
			return err
		}
	}

	n, err := cli.ExportTSV(dir, records)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("No projected values to export; run `gramaudit project` first")
		return nil
	}
	fmt.Printf("Exported %d values to %s\n", n, dir)
	return nil
}

// recordsFromPoints joins 2D and 3D points by value hash, keeping the 2D order.
func recordsFromPoints(p2, p3 []audit.Point) []*models.EmbeddingRecord {
	byHash := make(map[string]audit.Point, len(p3))
	for _, p := range p3 {
		byHash[p.ValueHash] = p
	}
	records := make([]*models.EmbeddingRecord, 0, len(p2))
	for _, p := range p2 {
		q, ok := byHash[p.ValueHash]
		if !ok {
			continue
		}
		records = append(records, &models.EmbeddingRecord{
			ValueHash:   p.ValueHash,
			RawValue:    p.Value,
			Source:      p.Source,
			UsageCount:  p.UsageCount,
			Projected2D: p.Coordinates,
			Projected3D: q.Coordinates,
		})
	}
	return records
}

func runStatus(args []string) error {
	fs, common := newFlagSet("status")
	format, err := common.parse(fs, args)
	if err != nil {
		return err
	}
	if api := common.remote(); api != nil {
		var out struct {
			Status audit.Status       `json:"status"`
			Disk   *storage.Footprint `json:"disk"`
		}
		if err := api.get("/api/v1/status", &out); err != nil {
			return err
		}
		return cli.WriteStatus(os.Stdout, &out.Status, out.Disk, format)
	}
	return withService(common.config, common.debug, func(ctx context.Context, cfg *config.Config, svc *audit.Service, _ *zap.Logger) error {
		st, err := svc.Status(ctx)
		if err != nil {
			return err
		}
		disk, err := storage.DiskFootprint(map[string]string{
			"database":    cfg.Storage.DatabasePath,
			"label_index": cfg.Storage.LabelIndexPath,
		})
		if err != nil {
			disk = nil
		}
		return cli.WriteStatus(os.Stdout, st, disk, format)
	})
}

func runWatch(args []string) error {
	const usage = "gramaudit watch <add|remove|list> [--server url] [path]"
	if len(args) < 1 {
		return usageError(usage)
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	serverURL := fs.String("server", serverURLDefault(), "server URL")
	noSync := fs.Bool("no-sync", false, "do not ingest files already in an added directory")
	if err := fs.Parse(flagsFirst(args[1:])); err != nil {
		return err
	}
	if *serverURL == "" {
		return errors.New("watch requires a running server")
	}
	api := newAPIClient(*serverURL)

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			return usageError("gramaudit watch add <path>")
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		if err := api.post("/api/v1/watch/directories", map[string]interface{}{"path": path, "sync": !*noSync}, nil); err != nil {
			return err
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			return usageError("gramaudit watch remove <path>")
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		if err := api.delete("/api/v1/watch/directories?path=" + url.QueryEscape(path)); err != nil {
			return err
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := api.get("/api/v1/watch/directories", &out); err != nil {
			return err
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		return fmt.Errorf("unknown watch subcommand: %s", sub)
	}
	return nil
}
