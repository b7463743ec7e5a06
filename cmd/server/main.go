/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the coaching engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize logger and store
  3. Install the system policy (file, stored revision, or default)
  4. Build notifiers and the optional Redis capacity cache
  5. Create service, handler, router and background jobs
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (env PORT, default: 8080)
  -db      SQLite database path (env DB_PATH, default: coaching.db)
           Use ":memory:" for in-memory SQLite, ":memory-go:" for the
           in-process store
  -policy  Policy JSON file saved as a new revision at startup (env POLICY_FILE)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Stop background jobs
  4. Close notifiers, cache and database
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/coaching.db"

  # Run with in-memory database and a policy file
  ./server -db=":memory:" -policy=./policy.json

  # Publish events to Kafka as well as the log
  NOTIFY_DRIVER=log,kafka KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/coaching-engine/api"
	"github.com/warp/coaching-engine/booking"
	"github.com/warp/coaching-engine/config"
	"github.com/warp/coaching-engine/logger"
	"github.com/warp/coaching-engine/notify"
	"github.com/warp/coaching-engine/store/memory"
	"github.com/warp/coaching-engine/store/sqlite"
)

const memoryStoreDSN = ":memory-go:"

type store interface {
	booking.TxStore
	api.Store
}

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	policyFile := flag.String("policy", cfg.PolicyFile, "Policy JSON file")
	flag.Parse()

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "coaching-engine",
	})

	// Initialize store
	st, err := openStore(*dbPath)
	if err != nil {
		log.Fatal("failed to initialize database", "db", *dbPath, "error", err)
	}
	defer closeQuietly(log, "store", st)

	// Notifiers
	notifier, closers, err := buildNotifier(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize notifiers", "drivers", cfg.NotifyDrivers, "error", err)
	}
	for _, c := range closers {
		defer closeQuietly(log, "notifier", c)
	}

	// Capacity cache
	var cache *api.CapacityCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer closeQuietly(log, "redis", rdb)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis unreachable, capacity cache degrades to misses", "addr", cfg.RedisAddr, "error", err)
		}
		cache = api.NewCapacityCache(rdb, cfg.CapacityCacheTTL, log.Logger)
	}

	// Service and handler
	svc := booking.NewService(st, notifier, log.Logger)
	if sq, ok := st.(*sqlite.Store); ok {
		sq.Now = svc.Now
	}
	handler := api.NewHandler(svc, st, cache, log.Logger)

	if err := installPolicy(context.Background(), handler, *policyFile); err != nil {
		log.Fatal("failed to load policy", "file", *policyFile, "error", err)
	}
	_, version := handler.Policy()
	log.Info("policy in force", "version", version)

	// Background jobs
	jobs, err := api.NewJobs(handler, api.JobsConfig{
		LowCreditScan: cfg.LowCreditScanInterval,
		LedgerAudit:   cfg.LedgerAuditInterval,
	})
	if err != nil {
		log.Fatal("failed to schedule jobs", "error", err)
	}
	jobs.Start()

	// Create router
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty; identity is taken from X-User-ID / X-User-Role headers")
	}
	router := api.NewRouter(handler, api.RouterConfig{
		Auth: api.Authenticator{Secret: []byte(cfg.JWTSecret)},
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", "addr", server.Addr, "db", *dbPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if err := jobs.Stop(); err != nil {
		log.Error("scheduler shutdown failed", "error", err)
	}

	log.Info("server stopped")
}

func openStore(dsn string) (store, error) {
	if dsn == memoryStoreDSN {
		return memory.New(), nil
	}
	s, err := sqlite.New(dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// installPolicy puts a policy in force: the file when given (saved as a new
// revision), else the newest stored revision, else the built-in default.
func installPolicy(ctx context.Context, h *api.Handler, file string) error {
	if file != "" {
		p, err := h.PolicyFactory.LoadFile(file)
		if err != nil {
			return err
		}
		_, err = h.SavePolicy(ctx, p, "bootstrap")
		return err
	}
	_, err := h.LoadPolicy(ctx)
	return err
}

func buildNotifier(cfg *config.Config, log *logger.Logger) (booking.Notifier, []io.Closer, error) {
	var (
		notifiers notify.Multi
		closers   []io.Closer
	)
	for _, driver := range cfg.NotifyDrivers {
		switch driver {
		case "none":
		case "log":
			notifiers = append(notifiers, notify.NewLog(log.Logger))
		case "kafka":
			k, err := notify.NewKafka(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
			if err != nil {
				return nil, closers, err
			}
			notifiers, closers = append(notifiers, k), append(closers, k)
		case "amqp":
			a, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue)
			if err != nil {
				return nil, closers, err
			}
			notifiers, closers = append(notifiers, a), append(closers, a)
		default:
			return nil, closers, fmt.Errorf("unknown notify driver %q", driver)
		}
	}

	switch len(notifiers) {
	case 0:
		return booking.Nop, closers, nil
	case 1:
		return notifiers[0], closers, nil
	}
	return notifiers, closers, nil
}

func closeQuietly(log *logger.Logger, what string, v any) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("close failed", "component", what, "error", err)
	}
}
