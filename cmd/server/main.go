// Command server starts the VodForge upload and transcode service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vodforge/internal/api"
	"vodforge/internal/assembler"
	"vodforge/internal/encoder"
	"vodforge/internal/media"
	"vodforge/internal/observability/logging"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/pipeline"
	"vodforge/internal/queue"
	"vodforge/internal/server"
	"vodforge/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when establishing Postgres connections")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	queueDriver := flag.String("queue-driver", "", "job queue driver (memory or redis)")
	queueRedisAddr := flag.String("queue-redis-addr", "", "Redis address for the transcode queue")
	queueRedisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the transcode queue")
	queueRedisUsername := flag.String("queue-redis-username", "", "Redis username for the transcode queue")
	queueRedisPassword := flag.String("queue-redis-password", "", "Redis password for the transcode queue")
	queueRedisKey := flag.String("queue-redis-key", "", "Redis list key holding pending transcode jobs")
	queueRedisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the transcode queue")
	queueRedisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for the transcode queue")
	queueRedisTimeout := flag.Duration("queue-redis-timeout", 0, "timeout for Redis queue operations")
	queueRedisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate for the transcode queue")
	queueRedisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate for the transcode queue")
	queueRedisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key for the transcode queue")
	queueRedisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name for the transcode queue")
	queueRedisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification for the transcode queue")
	tempDir := flag.String("temp-dir", "", "directory holding in-flight upload chunks")
	uploadsDir := flag.String("uploads-dir", "", "directory receiving assembled source files")
	hlsDir := flag.String("hls-dir", "", "directory receiving HLS renditions and playlists")
	thumbnailsDir := flag.String("thumbnails-dir", "", "directory receiving thumbnail captures")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobeBinary := flag.String("ffprobe", "", "path to the ffprobe binary")
	pollInterval := flag.Duration("poll-interval", 0, "how long the worker blocks waiting for a job before re-checking")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VODFORGE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VODFORGE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("VODFORGE_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("VODFORGE_ADDR"))

	dirs := directories{
		Temp:       resolveDir(*tempDir, "VODFORGE_TEMP_DIR", "data/tmp"),
		Uploads:    resolveDir(*uploadsDir, "VODFORGE_UPLOADS_DIR", "data/uploads"),
		HLS:        resolveDir(*hlsDir, "VODFORGE_HLS_DIR", "data/hls"),
		Thumbnails: resolveDir(*thumbnailsDir, "VODFORGE_THUMBNAILS_DIR", "data/thumbnails"),
	}

	resolvedDSN := strings.TrimSpace(firstNonEmpty(*postgresDSN, os.Getenv("VODFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
	storageDriverName, err := resolveStorageDriver(*storageDriver, os.Getenv("VODFORGE_STORAGE_DRIVER"), resolvedDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	queueDriverName := resolveQueueDriver(*queueDriver, os.Getenv("VODFORGE_QUEUE_DRIVER"), firstNonEmpty(*queueRedisAddr, os.Getenv("VODFORGE_QUEUE_REDIS_ADDR")))
	if serverMode == "production" {
		if err := validateProduction(storageDriverName, resolvedDSN, queueDriverName); err != nil {
			logger.Error("production validation failed", "error", err)
			os.Exit(1)
		}
	}

	var store storage.Repository
	switch storageDriverName {
	case "memory":
		store = storage.NewMemoryRepository()
	case "postgres":
		store, err = storage.NewPostgresRepository(storage.PostgresConfig{
			DSN:                 resolvedDSN,
			MaxConnections:      int32(resolveInt(*postgresMaxConns, "VODFORGE_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(*postgresMinConns, "VODFORGE_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "VODFORGE_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "VODFORGE_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(*postgresHealthInterval, "VODFORGE_POSTGRES_HEALTH_INTERVAL", 0),
			ConnectTimeout:      resolveDuration(*postgresConnectTimeout, "VODFORGE_POSTGRES_CONNECT_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("VODFORGE_POSTGRES_APP_NAME")),
		})
		if err != nil {
			logger.Error("failed to open datastore", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("unsupported storage driver", "driver", storageDriverName)
		os.Exit(1)
	}

	var jobs queue.Queue
	switch queueDriverName {
	case "memory":
		jobs = queue.NewMemoryQueue()
	case "redis":
		jobs, err = queue.NewRedisQueue(queue.RedisQueueConfig{
			Addr:         firstNonEmpty(*queueRedisAddr, os.Getenv("VODFORGE_QUEUE_REDIS_ADDR")),
			Addrs:        splitAndTrim(firstNonEmpty(*queueRedisAddrs, os.Getenv("VODFORGE_QUEUE_REDIS_ADDRS"))),
			Username:     firstNonEmpty(*queueRedisUsername, os.Getenv("VODFORGE_QUEUE_REDIS_USERNAME")),
			Password:     firstNonEmpty(*queueRedisPassword, os.Getenv("VODFORGE_QUEUE_REDIS_PASSWORD")),
			Key:          firstNonEmpty(*queueRedisKey, os.Getenv("VODFORGE_QUEUE_REDIS_KEY")),
			MasterName:   firstNonEmpty(*queueRedisMasterName, os.Getenv("VODFORGE_QUEUE_REDIS_SENTINEL_MASTER")),
			PoolSize:     resolveInt(*queueRedisPoolSize, "VODFORGE_QUEUE_REDIS_POOL_SIZE"),
			DialTimeout:  resolveDuration(*queueRedisTimeout, "VODFORGE_QUEUE_REDIS_TIMEOUT", 0),
			ReadTimeout:  resolveDuration(*queueRedisTimeout, "VODFORGE_QUEUE_REDIS_TIMEOUT", 0),
			WriteTimeout: resolveDuration(*queueRedisTimeout, "VODFORGE_QUEUE_REDIS_TIMEOUT", 0),
			Logger:       logging.WithComponent(logger, "queue"),
			TLS: queue.RedisTLSConfig{
				CAFile:             firstNonEmpty(*queueRedisTLSCA, os.Getenv("VODFORGE_QUEUE_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*queueRedisTLSCert, os.Getenv("VODFORGE_QUEUE_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*queueRedisTLSKey, os.Getenv("VODFORGE_QUEUE_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*queueRedisTLSServerName, os.Getenv("VODFORGE_QUEUE_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*queueRedisTLSSkipVerify, "VODFORGE_QUEUE_REDIS_TLS_SKIP_VERIFY"),
			},
		})
		if err != nil {
			logger.Error("failed to configure job queue", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("unsupported queue driver", "driver", queueDriverName)
		os.Exit(1)
	}

	asm, err := assembler.New(assembler.Config{
		TempDir:    dirs.Temp,
		UploadsDir: dirs.Uploads,
		Repository: store,
		Queue:      jobs,
		Logger:     logging.WithComponent(logger, "assembler"),
	})
	if err != nil {
		logger.Error("failed to initialise upload assembler", "error", err)
		os.Exit(1)
	}

	runner := media.NewCommandRunner()
	prober := media.NewProber(firstNonEmpty(*ffprobeBinary, os.Getenv("VODFORGE_FFPROBE")), runner)
	encodeLogger := logging.WithComponent(logger, "encoder")
	enc := encoder.New(encoder.Config{
		Binary: firstNonEmpty(*ffmpegBinary, os.Getenv("VODFORGE_FFMPEG")),
		Runner: runner,
		Logger: encodeLogger,
		OnProgress: func(variant string, percent float64) {
			encodeLogger.Debug("encode progress", "variant", variant, "percent", percent)
		},
	})

	worker, err := pipeline.NewWorker(pipeline.Config{
		Repository:   store,
		Queue:        jobs,
		Prober:       prober,
		Encoder:      enc,
		HLSDir:       dirs.HLS,
		ThumbnailDir: dirs.Thumbnails,
		UploadsDir:   dirs.Uploads,
		PollInterval: resolveDuration(*pollInterval, "VODFORGE_POLL_INTERVAL", 0),
		Logger:       logging.WithComponent(logger, "pipeline"),
		Metrics:      recorder,
	})
	if err != nil {
		logger.Error("failed to initialise pipeline worker", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, asm, jobs, logging.WithComponent(logger, "api"))
	handler.Metrics = recorder
	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("VODFORGE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("VODFORGE_TLS_KEY")),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("pipeline worker stopped", "error", err)
		}
	}()

	errs := make(chan error, 1)
	go func() {
		logger.Info("VodForge API listening", "addr", listenAddr, "mode", serverMode)
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	workerCancel()
	select {
	case <-workerDone:
	case <-ctx.Done():
		logger.Warn("pipeline worker did not stop in time")
	}

	if err := jobs.Close(); err != nil {
		logger.Warn("failed to close job queue", "error", err)
	}
	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

type directories struct {
	Temp       string
	Uploads    string
	HLS        string
	Thumbnails string
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveDir(flagValue, envKey, fallback string) string {
	if dir := strings.TrimSpace(flagValue); dir != "" {
		return dir
	}
	if dir := strings.TrimSpace(os.Getenv(envKey)); dir != "" {
		return dir
	}
	return fallback
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "memory", nil
}

func resolveQueueDriver(flagValue, envValue, redisAddr string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(redisAddr) != "" {
		return "redis"
	}
	return "memory"
}

func validateProduction(storageDriver, postgresDSN, queueDriver string) error {
	if storageDriver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", storageDriver)
	}
	if strings.TrimSpace(postgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	if queueDriver != "redis" {
		return fmt.Errorf("production mode requires the redis queue driver, got %q", queueDriver)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
