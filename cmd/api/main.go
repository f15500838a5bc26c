package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"guias/api/internal/app"
	"guias/api/internal/autosave"
	"guias/api/internal/config"
	"guias/api/internal/drafts"
	"guias/api/internal/export"
	"guias/api/internal/generator"
	"guias/api/internal/gitrepo"
	"guias/api/internal/platform/logger"
	"guias/api/internal/platform/tracing"
	"guias/api/internal/search"
	"guias/api/internal/store"
	"guias/api/internal/workflow"
)

func main() {
	addr := pflag.String("addr", "", "listen address, overrides API_ADDR")
	envFile := pflag.String("env-file", ".env", "optional file of KEY=VALUE pairs")
	migrateOnly := pflag.Bool("migrate-only", false, "apply migrations and exit")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Load()
	if *addr != "" {
		cfg.Addr = *addr
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log, *migrateOnly); err != nil {
		log.Fatal("api stopped", "error", err)
	}
}

func run(cfg config.Config, log *logger.Logger, migrateOnly bool) error {
	ctx := context.Background()

	shutdownTracing, err := tracing.Install(ctx, tracing.Config{
		ServiceName: "guias-api",
		Environment: cfg.Environment,
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.OTLPEndpoint,
		Headers:     cfg.OTLPHeaders,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	}, log.With("component", "tracing"))
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown error", "error", err)
		}
	}()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	log.Info("migrations applied", "count", len(applied), "versions", applied)
	if migrateOnly {
		return nil
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	history := gitrepo.New(cfg.ReposDir)
	versions := store.NewVersionStore(dataStore, history, log.With("component", "store"))

	checks := []app.Check{{Name: "database", Ping: dataStore.Ping}}

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.With("component", "search"))
		defer meiliClient.Close()
		index = meiliClient
		checks = append(checks, app.Check{Name: "search", Optional: true, Ping: func(context.Context) error {
			if !meiliClient.Healthy() {
				return errors.New("meilisearch unreachable")
			}
			return nil
		}})
	}
	searchService := search.NewService(index, search.NewPgFTS(dataStore), log.With("component", "search"))
	defer searchService.Wait()
	versions.OnWrite(func(ctx context.Context, rec store.Record) { searchService.IndexVersion(rec) })
	versions.OnDelete(func(ctx context.Context, id string) { searchService.RemoveVersion(id) })
	if index != nil {
		go func() {
			count, err := searchService.Reindex(ctx)
			if err != nil {
				log.Warn("search: reindex failed", "error", err)
				return
			}
			log.Info("search: reindexed current guides", "count", count)
		}()
	}

	var draftStore *drafts.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		draftStore, err = drafts.NewRedisStore(cfg.RedisURL, cfg.DraftTTL)
		if err != nil {
			log.Warn("drafts: redis unavailable, drafts disabled", "error", err)
			draftStore = nil
		} else {
			defer draftStore.Close()
			checks = append(checks, app.Check{Name: "drafts", Optional: true, Ping: draftStore.Ping})
		}
	}

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}

	var uploader export.Uploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioUploader, err := export.NewMinioUploader(ctx, export.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Warn("export: object storage unavailable, uploads disabled", "error", err)
		} else {
			uploader = minioUploader
			checks = append(checks, app.Check{Name: "storage", Optional: true, Ping: minioUploader.Ping})
		}
	}
	exporter := export.NewService(versions, export.ChromeRenderer{}, export.PandocConverter{}, uploader, log.With("component", "export"))

	machineOpts := []workflow.Option{workflow.WithLogger(log.With("component", "workflow"))}
	deps := app.Deps{
		Sessions:        dataStore,
		Versions:        versions,
		History:         history,
		Search:          searchService,
		Export:          exporter,
		Checks:          checks,
		Logger:          log,
		AutosaveOptions: []autosave.Option{autosave.WithDelay(cfg.AutosaveDelay)},
	}
	if draftStore != nil {
		machineOpts = append(machineOpts, workflow.WithDrafts(draftStore))
		deps.Drafts = draftStore
	}
	deps.Workflow = workflow.New(dataStore, versions, gen, machineOpts...)
	service := app.New(deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log.With("component", "http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("guias API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", "error", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Error("unsaved guide edits on shutdown", "error", err)
	}
	return nil
}

func newGenerator(cfg config.Config) (generator.Client, error) {
	if cfg.LLMStaticReply != "" {
		return generator.Static{Payload: cfg.LLMStaticReply}, nil
	}
	client, err := generator.NewOpenAI(generator.Config{
		Endpoint:  cfg.LLMEndpoint,
		APIKey:    cfg.LLMAPIKey,
		Model:     cfg.LLMModel,
		Timeout:   cfg.LLMTimeout,
		MaxTokens: cfg.LLMMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generator init failed: %w", err)
	}
	return client, nil
}
