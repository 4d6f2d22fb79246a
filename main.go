package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal/broker"
	cacheClient "github.com/IliaW/report-downloader/internal/cache"
	"github.com/IliaW/report-downloader/internal/fetcher"
	"github.com/IliaW/report-downloader/internal/model"
	"github.com/IliaW/report-downloader/internal/persistence"
	"github.com/IliaW/report-downloader/internal/report"
	"github.com/IliaW/report-downloader/internal/scheduler"
	"github.com/IliaW/report-downloader/internal/source"
	"github.com/IliaW/report-downloader/internal/storage"
	"github.com/IliaW/report-downloader/internal/telemetry"
	"github.com/IliaW/report-downloader/internal/worker"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
)

var (
	cfg         *config.Config
	db          *sql.DB
	pdfStorage  storage.FileStorage
	cache       cacheClient.CachedClient
	outcomeRepo persistence.OutcomeStorage
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	setupLogger()
	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()
	if cfg.DbSettings.Enabled {
		db = setupDatabase()
		defer closeDatabase()
		outcomeRepo = persistence.NewOutcomeRepository(db)
	}
	pdfStorage = setupStorage()
	if cfg.CacheSettings.Enabled {
		cache = cacheClient.NewMemcachedClient(cfg.CacheSettings)
		defer cache.Close()
	}
	var kafkaDLQ *broker.KafkaDLQClient
	if cfg.KafkaSettings.Producer.Enabled {
		kafkaDLQ = broker.NewKafkaDLQ(metrics.KafkaProducerMetrics, cfg.KafkaSettings.Producer)
		defer kafkaDLQ.Close()
	}
	httpTransport := getHttpTransport()
	slog.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env),
		slog.String("source", cfg.SourceSettings.Type),
		slog.String("storage", cfg.StorageSettings.Type))

	threadNum := parallelWorkers()
	recordChan := make(chan *model.PDFReport, threadNum*2)
	resultChan := make(chan *model.PDFReport, threadNum*2)

	sourceWg := &sync.WaitGroup{}
	sourceWg.Add(1)
	if strings.ToLower(cfg.SourceSettings.Type) == "kafka" {
		kafkaConsumer := broker.NewKafkaConsumer(recordChan, metrics.KafkaConsumerMetrics,
			cfg.KafkaSettings.Consumer, sourceWg)
		go kafkaConsumer.Run(ctx)
	} else {
		fileSource := source.NewFileSource(recordChan, cfg.SourceSettings, sourceWg)
		go fileSource.Run(ctx)
	}

	workerWg := &sync.WaitGroup{}
	downloadWorker := &worker.DownloadWorker{
		RecordChan: recordChan,
		ResultChan: resultChan,
		Fetcher:    fetcher.NewHTTPFetcher(cfg, httpTransport),
		Policy:     worker.NewRetryPolicy(cfg.WorkerSettings),
		Storage:    pdfStorage,
		Cache:      cache,
		Wg:         workerWg,
		KafkaDLQ:   kafkaDLQ,
		Metrics:    metrics.AppMetrics,
	}
	pool := scheduler.NewPool(threadNum, downloadWorker, workerWg, resultChan)
	go pool.Run(ctx)

	go healthCheckHandler()

	reporter := report.NewReporter(resultChan, cfg, outcomeRepo)

	// Graceful shutdown.
	// 1. The source closes recordChan when the file is exhausted or on a system call
	// 2. Wait till all Workers processed the records they hold. Close resultChan
	// 3. Reporter drains resultChan and writes the report files
	// 4. Close dlq, memcached and database connections
	reporter.Run()
	sourceWg.Wait()
	slog.Info("application stopped.")
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

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
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor: func() bool {
				if cfg.Env == "local" {
					return false
				}
				return true
			}()}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	slog.Info("connecting to the database...")
	connStr := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.DbSettings.User,
		cfg.DbSettings.Password,
		cfg.DbSettings.Host,
		cfg.DbSettings.Port,
		cfg.DbSettings.Name,
	)
	database, err := sql.Open("postgres", connStr)
	if err != nil {
		slog.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			slog.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				slog.Error("failed to establish database connection.")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	slog.Info("connected to the database!")

	return database
}

func closeDatabase() {
	slog.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		slog.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}

func setupStorage() storage.FileStorage {
	if strings.ToLower(cfg.StorageSettings.Type) == "s3" {
		return storage.NewS3Storage(cfg)
	}
	return storage.NewLocalStorage(cfg.StorageSettings)
}

// Set -1 to use all available CPUs
func parallelWorkers() int {
	customNumCPU := cfg.WorkerSettings.WorkersNum
	if customNumCPU == -1 {
		return runtime.NumCPU()
	}
	if customNumCPU <= 0 {
		slog.Error("workers number is 0 or less than -1")
		os.Exit(1)
	}

	return customNumCPU
}

func healthCheckHandler() {
	http.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		slog.Error("http server error", slog.String("err", err.Error()))
	}
}

func getHttpTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        cfg.HttpClientSettings.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.HttpClientSettings.MaxIdleConnectionsPerHost,
		MaxConnsPerHost:     cfg.HttpClientSettings.MaxConnectionsPerHost,
		IdleConnTimeout:     cfg.HttpClientSettings.IdleConnectionTimeout,
		TLSHandshakeTimeout: cfg.HttpClientSettings.TlsHandshakeTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.HttpClientSettings.DialTimeout,
			KeepAlive: cfg.HttpClientSettings.DialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.HttpClientSettings.TlsInsecureSkipVerify,
		},
	}
}
