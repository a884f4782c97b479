package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/blobstore"
	"github.com/stingnet/sting-engine/pkg/config"
	"github.com/stingnet/sting-engine/pkg/database"
	"github.com/stingnet/sting-engine/pkg/handlers"
	"github.com/stingnet/sting-engine/pkg/logging"
	"github.com/stingnet/sting-engine/pkg/metrics"
	"github.com/stingnet/sting-engine/pkg/middleware"
	"github.com/stingnet/sting-engine/pkg/models"
	"github.com/stingnet/sting-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

// migrationStatementTimeout bounds each migration statement so a missing
// privilege or a lock fails fast instead of hanging startup.
const migrationStatementTimeout = 60 * time.Second

const usage = `usage: sting-engine [-config config.yaml] <command> [args]

commands:
  serve                       run migrations and serve /health, /ping and /metrics (default)
  migrate                     apply pending migrations and exit
  create-user <name>          create a backend user; password is read from STING_USER_PASSWORD
  show <kind> <key> [depth]   print the document of an entity (sample and url take their hash or url)
  stats [hours]               print row counts and the most active samples of the last hours (default 24)
  search <text>               print samples and urls whose name, result or url contain text
  lookup-ip <ip>              print the narrowest IP range containing an IPv4 address
  ingest <file|->             record one JSON ingestion event, retrying transient storage failures
  new-network [malware]       create a network, optionally classified as a new malware, and print its id
  wipe                        delete all captured data, keeping users, ASNs and IP ranges
`

type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *database.DB
	registry  *prometheus.Registry
	ingest    services.IngestService
	users     services.UserService
	serialize services.SerializeService
	query     services.QueryService
	reference services.ReferenceService
	networks  services.NetworkService
	out       io.Writer
	closers   []func()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.LoadFile(*configPath, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.IsDevelopment())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cmd := "serve"
	args := flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, cmd, args); err != nil {
		logger.Error("Command failed", zap.String("command", cmd), zap.String("error", logging.SanitizeError(err)))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, cmd string, args []string) error {
	switch cmd {
	case "serve", "migrate", "create-user", "show", "stats", "search", "lookup-ip", "ingest", "new-network", "wipe":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("blob_backend", cfg.Blob.Backend))

	if err := migrate(cfg, logger); err != nil {
		return err
	}
	if cmd == "migrate" {
		return nil
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "create-user":
		return a.createUser(ctx, args)
	case "show":
		return a.show(ctx, args)
	case "stats":
		return a.stats(ctx, args)
	case "search":
		return a.search(ctx, args)
	case "lookup-ip":
		return a.lookupIP(ctx, args)
	case "ingest":
		return a.ingestFile(ctx, args)
	case "new-network":
		return a.newNetwork(ctx, args)
	case "wipe":
		return a.ingest.BulkWipe(ctx)
	}
	return a.serve(ctx)
}

func migrate(cfg *config.Config, logger *zap.Logger) error {
	connStr := fmt.Sprintf("%s&statement_timeout=%d", cfg.Database.ConnectionString(), migrationStatementTimeout.Milliseconds())
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry(), out: os.Stdout}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             cfg.Database.ConnectionString(),
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	blobs, err := a.blobStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	repos := services.NewRepositories()
	a.ingest, err = services.NewIngestService(db, repos, blobs, cfg.Cache.IDCacheSize, m, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.users = services.NewUserService(db, repos, logger)
	a.serialize = services.NewSerializeService(db, repos, logger)
	a.query = services.NewQueryService(db, repos, cfg.Limits.PageSize, logger)
	a.reference = services.NewReferenceService(db, repos, logger)
	a.networks = services.NewNetworkService(db, repos, logger)
	return a, nil
}

func (a *app) blobStore(ctx context.Context) (blobstore.Store, error) {
	switch a.cfg.Blob.Backend {
	case "redis":
		client, err := database.NewRedisClient(ctx, &a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.logger.Info("Storing sample payloads in Redis", zap.String("addr", a.cfg.Redis.Addr()))
		return blobstore.NewRedisStore(client, a.cfg.Blob.KeyPrefix), nil
	default:
		store, err := blobstore.NewFileStore(a.cfg.Blob.SampleDir)
		if err != nil {
			return nil, err
		}
		a.logger.Info("Storing sample payloads on disk", zap.String("dir", a.cfg.Blob.SampleDir))
		return store, nil
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	handlers.NewHealthHandler(a.cfg, a.db, a.logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	var handler http.Handler = mux
	handler = middleware.RequestLogger(a.logger, "/health", "/metrics")(handler)
	handler = middleware.Recoverer(a.logger)(handler)

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting sting-engine", zap.String("addr", srv.Addr), zap.String("version", a.cfg.Version))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) createUser(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("create-user takes exactly one username")
	}
	password := os.Getenv("STING_USER_PASSWORD")
	if password == "" {
		return errors.New("STING_USER_PASSWORD is not set")
	}
	u, err := a.users.CreateUser(ctx, args[0], password)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, u.ID)
	return nil
}

func (a *app) show(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("show takes a kind, a key and an optional depth")
	}
	kind, key := models.Kind(args[0]), args[1]

	depth := 1
	if len(args) == 3 {
		d, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid depth %q: %w", args[2], err)
		}
		depth = d
	}

	var (
		doc any
		err error
	)
	switch kind {
	case models.KindSample:
		doc, err = a.serialize.SerializeSample(ctx, key, depth)
	case models.KindURL:
		doc, err = a.serialize.SerializeURL(ctx, key, depth)
	default:
		id, perr := strconv.ParseInt(key, 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid %s key %q: %w", kind, key, perr)
		}
		doc, err = a.serialize.Serialize(ctx, kind, id, depth)
	}
	if err != nil {
		return err
	}

	return a.printJSON(doc)
}

// statsReport is the output of the stats command.
type statsReport struct {
	Counts map[models.Kind]int64    `json:"counts"`
	Since  int64                    `json:"since"`
	Top    []*models.SampleActivity `json:"top_samples"`
}

var statsKinds = []models.Kind{
	models.KindConnection, models.KindURL, models.KindSample, models.KindTag,
	models.KindNetwork, models.KindMalware, models.KindASN, models.KindIPRange, models.KindUser,
}

func (a *app) stats(ctx context.Context, args []string) error {
	hours := 24
	if len(args) > 1 {
		return errors.New("stats takes an optional number of hours")
	}
	if len(args) == 1 {
		h, err := strconv.Atoi(args[0])
		if err != nil || h <= 0 {
			return fmt.Errorf("invalid hours %q", args[0])
		}
		hours = h
	}

	report := statsReport{
		Counts: make(map[models.Kind]int64, len(statsKinds)),
		Since:  time.Now().Add(-time.Duration(hours) * time.Hour).Unix(),
	}
	for _, kind := range statsKinds {
		n, err := a.query.Count(ctx, kind)
		if err != nil {
			return err
		}
		report.Counts[kind] = n
	}
	top, err := a.query.TopSamples(ctx, report.Since, 0)
	if err != nil {
		return err
	}
	report.Top = top
	return a.printJSON(report)
}

func (a *app) search(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("search takes exactly one search text")
	}
	samples, err := a.query.SearchSamples(ctx, args[0], 0)
	if err != nil {
		return err
	}
	urls, err := a.query.SearchURLs(ctx, args[0], 0)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]any{"samples": samples, "urls": urls})
}

func (a *app) lookupIP(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("lookup-ip takes exactly one address")
	}
	r, err := a.reference.LookupIP(ctx, args[0])
	if err != nil {
		return err
	}
	return a.printJSON(r)
}

func (a *app) ingestFile(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("ingest takes exactly one file, or - for stdin")
	}
	in := os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open event: %w", err)
		}
		defer f.Close()
		in = f
	}

	var event models.IngestEvent
	if err := json.NewDecoder(in).Decode(&event); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	result, err := services.IngestWithRetry(ctx, a.ingest, &event, nil, a.logger)
	if err != nil {
		return err
	}
	return a.printJSON(result)
}

func (a *app) newNetwork(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errors.New("new-network takes an optional malware name")
	}
	var malwareID *int64
	if len(args) == 1 {
		id, err := a.networks.CreateMalware(ctx, args[0])
		if err != nil {
			return err
		}
		malwareID = &id
	}
	id, err := a.networks.CreateNetwork(ctx, malwareID)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
