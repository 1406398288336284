package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docgrid/config"
	"docgrid/engine"
	"docgrid/fetcher"
	"docgrid/formats"
	"docgrid/handlers"
	"docgrid/ingresses/postgres"
	middleware "docgrid/middlewares"
	"docgrid/models"
	"docgrid/remote"
	"docgrid/scripts"
	"docgrid/store"

	"github.com/alecthomas/kong"
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// Version is set via ldflags during build
var Version = "dev"

var CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the docgrid server" default:"1"`
	Fetch   FetchCmd   `cmd:"" help:"Fetch a document table and write its rows to stdout"`
	Load    LoadCmd    `cmd:"" help:"Copy a PostgreSQL table into an index"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// setup loads the configuration, applies flag overrides and builds the logger
func setup(masterKey, dataPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if masterKey != "" {
		cfg.MasterKey = masterKey
	}
	if dataPath != "" {
		cfg.DataPath = dataPath
	}

	zapLogger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, zapLogger, nil
}

// newLocalExecutor opens the data directory and returns an engine over it
func newLocalExecutor(cfg *config.Config, zapLogger *zap.Logger) (*store.IndexStore, *engine.Executor, error) {
	indexStore, err := store.New(cfg.DataPath, zapLogger)
	if err != nil {
		return nil, nil, err
	}
	scriptEngine, err := scripts.NewEngine(cfg.ScriptCacheSize)
	if err != nil {
		indexStore.Close()
		return nil, nil, err
	}
	executor := engine.New(indexStore, scriptEngine,
		engine.WithDefaultTimeField(cfg.DefaultTimeField),
		engine.WithLogger(zapLogger),
	)
	return indexStore, executor, nil
}

type ServeCmd struct {
	MasterKey string `help:"Master key for authentication (overrides DOCGRID_MASTER_KEY env var)" env:"DOCGRID_MASTER_KEY"`
	DataPath  string `help:"Path to data directory (overrides DATA_PATH env var)" env:"DATA_PATH" default:"./data"`
}

func (s *ServeCmd) Run() error {
	cfg, zapLogger, err := setup(s.MasterKey, s.DataPath)
	if err != nil {
		log.Fatal(err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting docgrid",
		zap.String("version", Version),
		zap.String("port", cfg.Port),
		zap.Bool("auth_enabled", cfg.RequiresAuth()),
		zap.String("data_path", cfg.DataPath),
		zap.Duration("fetch_timeout", cfg.FetchTimeout),
	)

	indexStore, executor, err := newLocalExecutor(cfg, zapLogger)
	if err != nil {
		return err
	}
	defer indexStore.Close()

	f, err := fetcher.New(executor, zapLogger)
	if err != nil {
		return err
	}

	return startServer(cfg, zapLogger, &handlers.HandlerContext{
		Store:    indexStore,
		Executor: executor,
		Fetcher:  f,
		Config:   cfg,
		Logger:   zapLogger,
	})
}

func startServer(cfg *config.Config, zapLogger *zap.Logger, hctx *handlers.HandlerContext) error {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			}
			zapLogger.Error("Request error",
				zap.Error(err),
				zap.Int("status", code),
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
			)
			return c.Status(code).JSON(handlers.ErrorResponse{
				Code:    handlers.ErrorCodeInternalError,
				Message: err.Error(),
			})
		},
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Use(func(c *fiber.Ctx) error {
		handlers.SetContext(c, hctx)
		return c.Next()
	})

	// Prometheus metrics (before auth to allow scraping without authentication).
	// Fetch collectors live on the same default registry.
	prometheus := fiberprometheus.New("docgrid")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	app.Use(middleware.Authorization(cfg, zapLogger))

	handlers.Routes(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		zapLogger.Info("Shutting down")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			zapLogger.Warn("Shutdown did not complete", zap.Error(err))
		}
	}()

	zapLogger.Info("Server starting", zap.String("address", ":"+cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zapLogger.Error("Failed to start server", zap.Error(err))
		return err
	}
	return nil
}

type FetchCmd struct {
	Index     string   `arg:"" help:"Index to fetch from"`
	Query     string   `name:"q" help:"Query string, empty matches every document"`
	HitsSize  int      `help:"Number of documents to fetch. A negative value leaves it unset, which fetches no rows and reports only the total" default:"500"`
	Column    []string `help:"Column as field or label=field, repeatable"`
	Script    []string `help:"Scripted column as name=expression, repeatable"`
	Filter    []string `help:"Filter as field:value, prefix with - to negate, repeatable"`
	SortField string   `help:"Field to sort by"`
	SortOrder string   `help:"Sort order" enum:"asc,desc" default:"asc"`
	From      string   `help:"Start of the time range (RFC 3339)"`
	To        string   `help:"End of the time range (RFC 3339)"`
	TimeField string   `help:"Field the time range applies to"`
	Format    string   `help:"Output format" enum:"jsoneachrow,msgpack" default:"jsoneachrow"`
	Remote    string   `help:"Fetch through the server at this URL instead of the local data directory"`
	MasterKey string   `help:"Master key of the remote server" env:"DOCGRID_MASTER_KEY"`
	DataPath  string   `help:"Path to data directory" env:"DATA_PATH"`
}

func (f *FetchCmd) Run() error {
	cfg, zapLogger, err := setup(f.MasterKey, f.DataPath)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	spec, err := f.spec()
	if err != nil {
		return err
	}
	encoder, err := formats.GetEncoder(f.Format)
	if err != nil {
		return err
	}

	var executor fetcher.Executor
	if f.Remote != "" {
		executor, err = remote.NewClient(f.Remote, zapLogger,
			remote.WithMasterKey(cfg.MasterKey),
			remote.WithTimeout(cfg.RemoteTimeout),
		)
		if err != nil {
			return err
		}
	} else {
		indexStore, local, err := newLocalExecutor(cfg, zapLogger)
		if err != nil {
			return err
		}
		defer indexStore.Close()
		executor = local
	}

	fetch, err := fetcher.New(executor, zapLogger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.FetchTimeout)
		defer cancel()
	}

	env, err := fetch.Fetch(ctx, spec)
	if err != nil {
		return err
	}

	zapLogger.Info("fetch completed",
		zap.String("index", f.Index),
		zap.Int("hits", len(env.Hits)),
		zap.Uint64("total", env.Total),
		zap.Int("pages", env.Pages()),
		zap.Duration("took", env.Took),
	)

	return encoder.Encode(os.Stdout, env.Records())
}

// spec turns the command flags into a table request, the same shape the HTTP
// API accepts
func (f *FetchCmd) spec() (fetcher.SearchSpec, error) {
	req := models.TableRequest{
		HitsSize:  f.HitsSize,
		SortOrder: fetcher.SortOrder(f.SortOrder),
		Query:     f.Query,
	}
	if f.SortField != "" {
		req.SortField = &fetcher.Field{Name: f.SortField}
	}

	for _, column := range f.Column {
		label, field, ok := strings.Cut(column, "=")
		if !ok {
			label, field = "", column
		}
		req.FieldColumns = append(req.FieldColumns, fetcher.FieldColumn{Label: label, Field: fetcher.Field{Name: field}})
	}
	for _, script := range f.Script {
		name, expr, ok := strings.Cut(script, "=")
		if !ok || name == "" || expr == "" {
			return fetcher.SearchSpec{}, fmt.Errorf("invalid script %q, expected name=expression", script)
		}
		req.FieldColumns = append(req.FieldColumns, fetcher.FieldColumn{Field: fetcher.Field{Name: name, Scripted: true, Script: expr}})
	}

	for _, filter := range f.Filter {
		negate := strings.HasPrefix(filter, "-")
		field, value, ok := strings.Cut(strings.TrimPrefix(filter, "-"), ":")
		if !ok || field == "" {
			return fetcher.SearchSpec{}, fmt.Errorf("invalid filter %q, expected field:value", filter)
		}
		req.Filters = append(req.Filters, fetcher.Filter{Field: field, Value: value, Negate: negate})
	}

	if f.From != "" || f.To != "" {
		tr := &fetcher.TimeRange{Field: f.TimeField}
		var err error
		if f.From != "" {
			if tr.From, err = time.Parse(time.RFC3339, f.From); err != nil {
				return fetcher.SearchSpec{}, fmt.Errorf("invalid --from: %w", err)
			}
		}
		if f.To != "" {
			if tr.To, err = time.Parse(time.RFC3339, f.To); err != nil {
				return fetcher.SearchSpec{}, fmt.Errorf("invalid --to: %w", err)
			}
		}
		req.TimeRange = tr
	}

	return req.Spec(f.Index), nil
}

type LoadCmd struct {
	Index      string   `arg:"" help:"Index to load into"`
	DSN        string   `help:"PostgreSQL connection string" env:"DATABASE_URL" required:""`
	Schema     string   `help:"Schema of the table" default:"public"`
	Table      string   `help:"Table to copy" required:""`
	PrimaryKey string   `help:"Unique ordered column used as document id and keyset" default:"id"`
	Columns    []string `help:"Columns to copy, all when empty"`
	Map        []string `help:"Column rename as column=field, repeatable"`
	Where      string   `help:"Additional SQL condition"`
	BatchSize  int      `help:"Rows per batch" default:"1000"`
	Create     bool     `help:"Create the index when it does not exist"`
	TimeField  string   `help:"Time field of a created index"`
	DataPath   string   `help:"Path to data directory" env:"DATA_PATH"`
}

func (l *LoadCmd) Run() error {
	cfg, zapLogger, err := setup("", l.DataPath)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	pgConfig := &postgres.Config{
		DSN:         l.DSN,
		Schema:      l.Schema,
		Table:       l.Table,
		Columns:     l.Columns,
		PrimaryKey:  l.PrimaryKey,
		WhereClause: l.Where,
		BatchSize:   l.BatchSize,
	}
	for _, mapping := range l.Map {
		column, field, ok := strings.Cut(mapping, "=")
		if !ok {
			return fmt.Errorf("invalid mapping %q, expected column=field", mapping)
		}
		if pgConfig.ColumnMapping == nil {
			pgConfig.ColumnMapping = make(map[string]string)
		}
		pgConfig.ColumnMapping[column] = field
	}
	if err := pgConfig.Validate(); err != nil {
		return err
	}

	indexStore, err := store.New(cfg.DataPath, zapLogger)
	if err != nil {
		return err
	}
	defer indexStore.Close()

	if _, _, err := indexStore.GetIndex(l.Index); errors.Is(err, store.ErrIndexNotFound) && l.Create {
		err = indexStore.CreateIndex(&models.IndexConfig{
			ID:         l.Index,
			PrimaryKey: pgConfig.FieldName(l.PrimaryKey),
			TimeField:  l.TimeField,
		})
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, pgConfig, 5, zapLogger)
	if err != nil {
		return err
	}
	defer pool.Close()

	loader, err := postgres.NewLoader(pool, pgConfig, zapLogger)
	if err != nil {
		return err
	}
	stats, err := loader.Load(ctx, l.Index, indexStore)
	if err != nil {
		return err
	}

	out, err := sonic.Marshal(stats)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	fmt.Printf("docgrid %s\n", Version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("docgrid"),
		kong.Description("Bulk document table fetches over bleve indexes"),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
