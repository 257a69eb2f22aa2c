// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/auth"
	"github.com/LeeDigitalWorks/zaptus/pkg/checksum"
	"github.com/LeeDigitalWorks/zaptus/pkg/debug"
	"github.com/LeeDigitalWorks/zaptus/pkg/env"
	"github.com/LeeDigitalWorks/zaptus/pkg/events"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/server"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zaptus/pkg/sweep"
	"github.com/LeeDigitalWorks/zaptus/pkg/tus"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the upload server",
	Long: `Start a zaptus upload server that serves:
- The tus upload collection under base_path
- Metrics, health, readiness and pprof on the debug port
- Periodic expiry of abandoned uploads`,
	Run: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	f := serverCmd.Flags()
	f.String("ip", "", "IP address to bind to (empty for all interfaces)")
	f.Int("http_port", 1080, "HTTP port for the tus server")
	f.Int("debug_port", 1081, "Debug HTTP port")
	f.String("cert_file", "", "Path to TLS certificate file")
	f.String("key_file", "", "Path to TLS key file")
	f.String("client_ca_file", "", "CA bundle for client certificates (enables mutual TLS)")
	f.String("log_level", "info", "Log level (debug, info, warn, error, fatal)")
	f.Duration("shutdown_timeout", 30*time.Second, "Time allowed for in-flight requests on shutdown")

	addBackendFlags(f)

	// Protocol
	f.String("max_size", "0", "Largest accepted upload, e.g. 10GB (0 for unlimited)")
	f.StringSlice("checksum_algorithms", checksum.DefaultAlgorithms, "Accepted Upload-Checksum algorithms")
	f.String("concat_cleanup", string(tus.CleanupKeep), "What happens to partial uploads after concatenation (keep, delete)")
	f.String("temp_dir", "", "Directory for chunks spooled for checksum verification")
	f.String("public_base_url", "", "Scheme and host used in Location headers, e.g. https://uploads.example.org")
	f.Bool("trust_forwarded", false, "Honor Forwarded and X-Forwarded-* headers")
	f.Duration("conn_timeout", 30*time.Second, "Idle read and write deadline on client connections, scaled for bulk transfers")
	f.Duration("read_header_timeout", 10*time.Second, "Time allowed to read request headers")
	f.Duration("idle_timeout", 2*time.Minute, "Keep-alive idle timeout")

	// Completion
	f.String("persist_type", "", "Move completed uploads to permanent storage (library, s3)")
	f.String("persist_path", "", "Library directory for completed uploads")
	f.String("persist_bucket", "", "S3 bucket for completed uploads")
	f.String("persist_prefix", "", "S3 key prefix for completed uploads")
	f.String("persist_region", "", "S3 region")
	f.String("persist_endpoint", "", "S3-compatible endpoint URL")
	f.String("persist_access_key", "", "S3 access key")
	f.String("persist_secret_key", "", "S3 secret key (use env var PERSIST_SECRET_KEY)")
	f.String("persist_compression", "none", "Compress persisted uploads (none, lz4, zstd, s2)")
	f.String("persist_base_url", "", "Public URL the persisted files are served from; GET on a persisted upload redirects there")

	// Events
	f.String("event_error_policy", string(events.PolicyLog), "Listener failure handling (log, propagate)")
	f.Bool("events_redis_enabled", false, "Publish upload events to Redis")
	f.String("events_redis_addr", "localhost:6379", "Redis address for upload events")
	f.String("events_redis_password", "", "Redis password for upload events")
	f.Int("events_redis_db", 0, "Redis database for upload events")
	f.String("events_redis_channel", "tus:events", "Redis channel prefix for upload events")
	f.Bool("events_kafka_enabled", false, "Publish upload events to Kafka")
	f.StringSlice("events_kafka_brokers", []string{"localhost:9092"}, "Kafka brokers")
	f.String("events_kafka_topic", "tus-events", "Kafka topic for upload events")
	f.String("events_kafka_compression", "snappy", "Kafka compression (none, gzip, snappy, lz4, zstd)")
	f.Bool("events_kafka_tls", false, "Use TLS for Kafka")
	f.String("events_kafka_sasl_mechanism", "", "Kafka SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)")
	f.String("events_kafka_sasl_username", "", "Kafka SASL username")
	f.String("events_kafka_sasl_password", "", "Kafka SASL password")

	// CORS
	f.StringSlice("cors_allowed_origins", nil, "Origins allowed to call the server from a browser (* for any)")
	f.Int("cors_max_age", 86400, "Preflight cache lifetime in seconds")

	// Rate limiting
	f.Float64("rate_limit_global_rps", 0, "Requests per second across all clients (0 disables)")
	f.Int("rate_limit_global_burst", 0, "Global burst size")
	f.Float64("rate_limit_ip_rps", 0, "Requests per second per client IP (0 disables)")
	f.Int("rate_limit_ip_burst", 0, "Per-IP burst size")
	f.Bool("rate_limit_redis_enabled", false, "Enforce per-IP limits in Redis, shared between instances")
	f.String("rate_limit_redis_addr", "localhost:6379", "Redis address for distributed rate limiting")
	f.String("rate_limit_redis_password", "", "Redis password")
	f.Int("rate_limit_redis_db", 0, "Redis database number")
	f.Int("rate_limit_redis_pool_size", 10, "Redis connection pool size")
	f.Int64("rate_limit_redis_rps", 100, "Per-IP requests per second enforced in Redis")
	f.Int64("rate_limit_redis_burst", 200, "Per-IP burst enforced in Redis")
	f.Bool("rate_limit_redis_fail_open", true, "Allow requests when Redis is unavailable")

	// Authorization
	f.String("auth_secret", "", "HS256 secret for bearer tokens (use env var AUTH_SECRET)")
	f.String("auth_public_key_file", "", "PEM RSA public key for RS256 bearer tokens")
	f.String("auth_issuer", "", "Required token issuer")
	f.String("auth_audience", "", "Required token audience")
	f.Duration("auth_leeway", 30*time.Second, "Clock skew allowed when validating tokens")

	// Expiry sweep
	f.Duration("sweep_interval", 10*time.Minute, "How often to expire abandoned uploads (0 disables)")
	f.Int("sweep_batch_size", 500, "Uploads expired per sweep")
	f.Float64("sweep_delete_rate", 50, "Uploads deleted per second during a sweep (0 for unlimited)")
	f.Bool("sweep_dry_run", false, "Log uploads that would expire without deleting them")

	viper.BindPFlags(f)
}

func runServer(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("zaptus", false)
	l := NewFlagLoader(cmd)

	level, err := zerolog.ParseLevel(l.String("log_level"))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid log level")
	}
	logger.SetLevel(level)

	debug.SetNotReady()

	b, err := openBackends(l)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open backends")
	}
	defer b.Close()
	debug.AddReadyCheck("metadata", b.ping)

	handler, pubs, err := buildHandler(l, b)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure upload handler")
	}
	defer events.CloseAll(pubs)

	srv, err := buildServer(l, handler)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure HTTP server")
	}

	sweeper := startSweeper(cmd.Context(), l, b, handler)

	addr := utils.JoinHostPort(l.String("ip"), l.Int("http_port"))
	go func() {
		if err := srv.ListenAndServe(addr); err != nil {
			logger.Fatal().Err(err).Msg("failed to start tus server")
		}
	}()

	debugMux := debug.GetMux()
	debugMux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(VersionInfo())
	})
	debugServer := startHTTPServer(debugMux, l.String("ip"), l.Int("debug_port"))

	logger.Info().
		Str("addr", addr).
		Str("environment", env.Env).
		Str("metadata", l.String("metadata_type")).
		Str("storage", l.String("storage_type")).
		Msg("Zaptus server started")

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	ctx, cancel := context.WithTimeout(context.Background(), l.Duration("shutdown_timeout"))
	defer cancel()

	if sweeper != nil {
		sweeper.Stop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("tus server shutdown")
	}
	debugServer.Shutdown(ctx)
	logger.Info().Msg("Zaptus server stopped")
}

// buildHandler wires verification, events, authorization and persistence
// around the opened backends.
func buildHandler(l *FlagLoader, b *backends) (*tus.Handler, []events.Publisher, error) {
	maxSize, err := l.Bytes("max_size")
	if err != nil {
		return nil, nil, err
	}

	verifier, err := checksum.NewVerifier(l.StringSlice("checksum_algorithms")...)
	if err != nil {
		return nil, nil, err
	}

	notifier, err := events.NewNotifier(events.NotifierConfig{
		ErrorPolicy: events.ErrorPolicy(l.String("event_error_policy")),
	})
	if err != nil {
		return nil, nil, err
	}
	pubs, err := events.Setup(notifier, events.Config{
		Redis: events.RedisConfig{
			Enabled:  l.Bool("events_redis_enabled"),
			Addr:     l.String("events_redis_addr"),
			Password: l.String("events_redis_password"),
			DB:       l.Int("events_redis_db"),
			Channel:  l.String("events_redis_channel"),
		},
		Kafka: events.KafkaConfig{
			Enabled:       l.Bool("events_kafka_enabled"),
			Brokers:       l.StringSlice("events_kafka_brokers"),
			Topic:         l.String("events_kafka_topic"),
			Compression:   l.String("events_kafka_compression"),
			TLS:           l.Bool("events_kafka_tls"),
			SASLMechanism: l.String("events_kafka_sasl_mechanism"),
			SASLUsername:  l.String("events_kafka_sasl_username"),
			SASLPassword:  l.String("events_kafka_sasl_password"),
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("set up event publishers: %w", err)
	}

	persister, err := backend.NewPersister(types.BackendConfig{
		Type:        types.StorageType(l.String("persist_type")),
		Path:        l.String("persist_path"),
		Bucket:      l.String("persist_bucket"),
		Prefix:      l.String("persist_prefix"),
		Region:      l.String("persist_region"),
		Endpoint:    l.String("persist_endpoint"),
		AccessKey:   l.String("persist_access_key"),
		SecretKey:   l.String("persist_secret_key"),
		Compression: l.String("persist_compression"),
	})
	if err != nil {
		events.CloseAll(pubs)
		return nil, nil, fmt.Errorf("create persister: %w", err)
	}

	var publicURL func(*types.Upload) string
	if base := l.String("persist_base_url"); base != "" {
		if publicURL, err = backend.PublicURL(base); err != nil {
			events.CloseAll(pubs)
			return nil, nil, err
		}
	}

	permission, err := buildPermission(l)
	if err != nil {
		events.CloseAll(pubs)
		return nil, nil, err
	}

	tempDir := l.String("temp_dir")
	if tempDir != "" {
		tempDir = utils.ResolvePath(tempDir)
		if err := os.MkdirAll(tempDir, 0755); err != nil {
			events.CloseAll(pubs)
			return nil, nil, fmt.Errorf("create temp dir: %w", err)
		}
		if err := utils.CheckWritableDir(tempDir); err != nil {
			events.CloseAll(pubs)
			return nil, nil, fmt.Errorf("temp dir %s: %w", tempDir, err)
		}
	}

	handler, err := tus.NewHandler(tus.Config{
		Store:         b.store,
		Storage:       b.storage,
		Verifier:      verifier,
		Notifier:      notifier,
		Permission:    permission,
		Persister:     persister,
		PublicURL:     publicURL,
		MaxSize:       maxSize,
		BasePath:      l.String("base_path"),
		ConcatCleanup: tus.CleanupPolicy(l.String("concat_cleanup")),
		ExpireAfter:   l.Duration("expire_after"),
		TempDir:       tempDir,
	})
	if err != nil {
		events.CloseAll(pubs)
		return nil, nil, err
	}
	return handler, pubs, nil
}

// buildPermission returns a token verifier when a key is configured, and
// allows everything otherwise.
func buildPermission(l *FlagLoader) (tus.Permission, error) {
	cfg := auth.Config{
		Secret:   l.String("auth_secret"),
		Issuer:   l.String("auth_issuer"),
		Audience: l.String("auth_audience"),
		Leeway:   l.Duration("auth_leeway"),
	}
	if path := l.String("auth_public_key_file"); path != "" {
		pem, err := os.ReadFile(utils.ResolvePath(path))
		if err != nil {
			return nil, fmt.Errorf("read auth public key: %w", err)
		}
		cfg.PublicKeyPEM = string(pem)
	}
	if cfg.Secret == "" && cfg.PublicKeyPEM == "" {
		if env.IsProduction() {
			logger.Warn().Msg("No auth key configured, every upload operation is allowed")
		}
		return tus.AllowAll, nil
	}

	j, err := auth.NewJWT(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure token auth: %w", err)
	}
	return j.Permission, nil
}

func buildServer(l *FlagLoader, handler *tus.Handler) (*server.Server, error) {
	tlsConfig, err := utils.LoadServerTLSConfig(l.String("cert_file"), l.String("key_file"), l.String("client_ca_file"))
	if err != nil {
		return nil, err
	}

	rl := server.DefaultRateLimitConfig()
	rl.GlobalRPS = l.Float64("rate_limit_global_rps")
	rl.GlobalBurst = l.Int("rate_limit_global_burst")
	rl.IPRPS = l.Float64("rate_limit_ip_rps")
	rl.IPBurst = l.Int("rate_limit_ip_burst")
	rl.TrustForwarded = l.Bool("trust_forwarded")

	var redisLimiter *server.RedisRateLimiter
	if l.Bool("rate_limit_redis_enabled") {
		rl.Redis.Enabled = true
		rl.Redis.Addr = l.String("rate_limit_redis_addr")
		rl.Redis.Password = l.String("rate_limit_redis_password")
		rl.Redis.DB = l.Int("rate_limit_redis_db")
		rl.Redis.PoolSize = l.Int("rate_limit_redis_pool_size")
		rl.Redis.RPS = l.Int64("rate_limit_redis_rps")
		rl.Redis.Burst = l.Int64("rate_limit_redis_burst")
		rl.Redis.FailOpen = l.Bool("rate_limit_redis_fail_open")

		redisLimiter, err = server.NewRedisRateLimiter(rl.Redis)
		if err != nil {
			if !rl.Redis.FailOpen {
				return nil, fmt.Errorf("connect rate limit redis: %w", err)
			}
			logger.Warn().Err(err).Msg("Redis rate limiter unavailable, using in-process limits")
			rl.Redis.Enabled = false
		}
	}

	return server.New(server.Config{
		Handler: handler,
		CORS: server.CORSConfig{
			AllowedOrigins: l.StringSlice("cors_allowed_origins"),
			MaxAge:         l.Int("cors_max_age"),
		},
		RateLimit:         rl,
		RedisLimiter:      redisLimiter,
		PublicBaseURL:     l.String("public_base_url"),
		TrustForwarded:    l.Bool("trust_forwarded"),
		ConnTimeout:       l.Duration("conn_timeout"),
		ReadHeaderTimeout: l.Duration("read_header_timeout"),
		IdleTimeout:       l.Duration("idle_timeout"),
		TLS:               tlsConfig,
	})
}

func startSweeper(ctx context.Context, l *FlagLoader, b *backends, handler *tus.Handler) *sweep.Service {
	expireAfter := l.Duration("expire_after")
	if expireAfter <= 0 {
		logger.Info().Msg("Upload expiration disabled")
		return nil
	}

	svc, err := sweep.New(sweep.Config{
		ExpireAfter: expireAfter,
		Interval:    l.Duration("sweep_interval"),
		BatchSize:   l.Int("sweep_batch_size"),
		DeleteRate:  l.Float64("sweep_delete_rate"),
		DryRun:      l.Bool("sweep_dry_run"),
	}, b.store, handler)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure upload sweep")
	}
	svc.Start(ctx)
	return svc
}

func startHTTPServer(handler http.Handler, ip string, port int) *http.Server {
	listener, err := utils.NewListener(utils.JoinHostPort(ip, port), 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create HTTP listener")
	}

	httpServer := &http.Server{Handler: handler}
	go func() {
		logger.Info().Str("http_addr", utils.JoinHostPort(ip, port)).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}
