package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lmittmann/tint"
	"github.com/portwatch/container-scrape-worker/config"
	"github.com/portwatch/container-scrape-worker/internal/api"
	"github.com/portwatch/container-scrape-worker/internal/aws_s3"
	"github.com/portwatch/container-scrape-worker/internal/broker"
	"github.com/portwatch/container-scrape-worker/internal/browser"
	cacheClient "github.com/portwatch/container-scrape-worker/internal/cache"
	"github.com/portwatch/container-scrape-worker/internal/model"
	"github.com/portwatch/container-scrape-worker/internal/persistence"
	"github.com/portwatch/container-scrape-worker/internal/probe"
	"github.com/portwatch/container-scrape-worker/internal/provider"
	"github.com/portwatch/container-scrape-worker/internal/worker"
)

var (
	cfg        *config.Config
	log        *slog.Logger
	db         *sql.DB
	s3         aws_s3.BucketClient
	cache      cacheClient.CachedClient
	statusRepo persistence.StatusStorage
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	log = setupLogger()
	db = setupDatabase()
	defer closeDatabase()
	s3 = aws_s3.NewS3BucketClient(cfg.S3Settings, log)
	cache = cacheClient.NewMemcachedClient(cfg.CacheSettings, log)
	defer cache.Close()
	statusRepo = persistence.NewStatusRepository(db, log)
	registry := provider.NewRegistry(cfg.ProviderSettings, log)
	log.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env))

	eventChan := make(chan *model.StatusChangeEvent, 100)

	kafkaWg := &sync.WaitGroup{}
	kafkaWg.Add(1)
	go broker.NewKafkaProducer(kafkaWg, eventChan, log, cfg.KafkaSettings.Producer)

	jobs := worker.NewJobStore(cfg.WorkerSettings.JobRetention)
	orchestrator := &worker.Orchestrator{
		Registry:  registry,
		Opener:    browser.NewChromeOpener(cfg.BrowserSettings, log),
		Probe:     probe.NewPortalProbe(cfg.WorkerSettings.ProbeTimeout, cfg.BrowserSettings.UserAgent, log),
		Db:        statusRepo,
		S3:        s3,
		Cache:     cache,
		EventChan: eventChan,
		Jobs:      jobs,
		Cfg:       cfg,
		Log:       log,
	}

	server := api.NewServer(ctx, orchestrator, jobs, cfg, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed.", slog.String("err", err.Error()))
			stop()
		}
	}()

	// Graceful shutdown.
	// 1. Stop accepting new triggers, let the in-flight job run drain
	// 2. Close eventChan once no producer can write to it anymore
	// 3. Wait till the kafka producer flushed all change events
	// 4. Close database and memcached connections
	<-ctx.Done()
	log.Info("stopping server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed.", slog.String("err", err.Error()))
	}
	server.WaitForRun(shutdownCtx)
	close(eventChan)
	log.Info("close eventChan.")
	kafkaWg.Wait()
}

func setupLogger() *slog.Logger {
	resolvedLogLevel := func() slog.Level {
		envLogLevel := strings.ToLower(cfg.LogLevel)
		switch envLogLevel {
		case "info":
			return slog.LevelInfo
		case "error":
			return slog.LevelError
		default:
			return slog.LevelDebug
		}
	}

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs,
			NoColor:     false}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	log.Info("connecting to the database...")
	sqlCfg := mysql.Config{
		User:                 cfg.DbSettings.User,
		Passwd:               cfg.DbSettings.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%s", cfg.DbSettings.Host, cfg.DbSettings.Port),
		DBName:               cfg.DbSettings.Name,
		AllowNativePasswords: true,
		ParseTime:            true,
	}
	database, err := sql.Open("mysql", sqlCfg.FormatDSN())
	if err != nil {
		log.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		log.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			log.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				log.Error("failed to establish database connection.")
				os.Exit(1)
			}
			log.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	log.Info("connected to the database!")

	return database
}

func closeDatabase() {
	log.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		log.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}
