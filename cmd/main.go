package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sbilibin2017/gw-payflow/internal/app"
	"github.com/sbilibin2017/gw-payflow/internal/bus"
	"github.com/sbilibin2017/gw-payflow/internal/jwt"
	"github.com/sbilibin2017/gw-payflow/internal/locks"
	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/middlewares"
	"github.com/sbilibin2017/gw-payflow/internal/repositories"
	"github.com/sbilibin2017/gw-payflow/internal/services"
	"github.com/sbilibin2017/gw-payflow/internal/workers"
)

// Build info variables, set via ldflags at build time.
var (
	buildVersion = "N/A" // Version of the service
	buildDate    = "N/A" // Build date
	buildCommit  = "N/A" // Git commit hash
)

// Process roles.
const (
	roleLedger       = "ledger"
	roleOrchestrator = "orchestrator"
	roleStandalone   = "standalone"
)

// config holds every setting read by parseConfig.
type config struct {
	Role     string
	AppHost  string
	AppPort  string
	LogLevel string

	Storage          string // postgres or memory
	PGHost           string
	PGPort           int
	PGUser           string
	PGPassword       string
	PGDB             string
	PGMaxOpenConns   int
	PGMaxIdleConns   int
	KafkaBrokers     []string
	LockBackend      string // redis or memory
	RedisHost        string
	RedisPort        int
	RedisDB          int
	RedisPassword    string
	RedisPoolSize    int
	RedisMinIdle     int
	LockExpiry       time.Duration
	WorkerPoolSize   int
	WorkerQueueSize  int
	BreakerFailures  uint32
	BreakerTimeout   time.Duration
	PublishRetries   uint64
	ShutdownTimeout  time.Duration
	BusPartitions    int
	ConsumerRetryMax time.Duration
	JWTSecret        string // API bearer tokens are required when set
	JWTExp           time.Duration
}

func (c config) runsLedger() bool {
	return c.Role == roleLedger || c.Role == roleStandalone
}

func (c config) runsOrchestrator() bool {
	return c.Role == roleOrchestrator || c.Role == roleStandalone
}

// @title gw-payflow API
// @version 1.0.0
// @description Account ledger and transfer saga orchestrator
// @host localhost:8080
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	printBuildInfo()
	configPath := parseFlags()

	cfg, err := parseConfig(configPath)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		log.Fatalf("application stopped with error: %v", err)
	}
}

// printBuildInfo prints the build version, commit hash, and build date.
func printBuildInfo() {
	fmt.Printf("Version: %s, Commit: %s, Build: %s\n", buildVersion, buildCommit, buildDate)
}

// parseFlags parses command-line flags and returns the config file path.
func parseFlags() string {
	c := flag.String("c", "config.env", "Path to configuration file")
	flag.Parse()
	return *c
}

// parseConfig loads environment variables from a file and returns
// the application, storage, Kafka, Redis, worker and resilience configuration.
func parseConfig(path string) (cfg config, err error) {
	_ = godotenv.Load(path)

	getEnv := func(key, defaultValue string) string {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			return val
		}
		return defaultValue
	}
	getInt := func(key, defaultValue string) (int, error) {
		v, err := strconv.Atoi(getEnv(key, defaultValue))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return v, nil
	}
	getMillis := func(key, defaultValue string) (time.Duration, error) {
		v, err := getInt(key, defaultValue)
		return time.Duration(v) * time.Millisecond, err
	}

	// Application config
	cfg.Role = getEnv("APP_ROLE", roleStandalone)
	cfg.AppHost = getEnv("APP_HOST", "localhost")
	cfg.AppPort = getEnv("APP_PORT", "8080")
	cfg.LogLevel = getEnv("APP_LOG_LEVEL", "info")
	cfg.JWTSecret = getEnv("API_JWT_SECRET", "")
	switch cfg.Role {
	case roleLedger, roleOrchestrator, roleStandalone:
	default:
		return cfg, fmt.Errorf("APP_ROLE: unknown role %q", cfg.Role)
	}

	// PostgreSQL config
	cfg.Storage = getEnv("STORAGE", "memory")
	cfg.PGHost = getEnv("POSTGRES_HOST", "localhost")
	cfg.PGUser = getEnv("POSTGRES_USER", "user")
	cfg.PGPassword = getEnv("POSTGRES_PASSWORD", "password")
	cfg.PGDB = getEnv("POSTGRES_DB", "database")
	if cfg.PGPort, err = getInt("POSTGRES_PORT", "5432"); err != nil {
		return
	}
	if cfg.PGMaxOpenConns, err = getInt("POSTGRES_MAX_OPEN_CONNS", "16"); err != nil {
		return
	}
	if cfg.PGMaxIdleConns, err = getInt("POSTGRES_MAX_IDLE_CONNS", "8"); err != nil {
		return
	}

	// Kafka config
	cfg.KafkaBrokers = parseBrokers(getEnv("KAFKA_BROKERS", "localhost:9092"))

	// Redis config
	cfg.LockBackend = getEnv("LOCK_BACKEND", "memory")
	cfg.RedisHost = getEnv("REDIS_HOST", "localhost")
	if cfg.RedisPort, err = getInt("REDIS_PORT", "6379"); err != nil {
		return
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", "0"); err != nil {
		return
	}
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	if cfg.RedisPoolSize, err = getInt("REDIS_POOL_SIZE", "10"); err != nil {
		return
	}
	if cfg.RedisMinIdle, err = getInt("REDIS_MIN_IDLE_CONNS", "2"); err != nil {
		return
	}
	if cfg.LockExpiry, err = getMillis("LOCK_EXPIRY_MS", "10000"); err != nil {
		return
	}

	// Workers and resilience
	if cfg.WorkerPoolSize, err = getInt("WORKER_POOL_SIZE", "8"); err != nil {
		return
	}
	if cfg.WorkerQueueSize, err = getInt("WORKER_QUEUE_SIZE", "1024"); err != nil {
		return
	}
	if cfg.BusPartitions, err = getInt("BUS_PARTITIONS", "8"); err != nil {
		return
	}
	var n int
	if n, err = getInt("BREAKER_FAILURES", "5"); err != nil {
		return
	}
	cfg.BreakerFailures = uint32(n)
	if cfg.BreakerTimeout, err = getMillis("BREAKER_TIMEOUT_MS", "5000"); err != nil {
		return
	}
	if n, err = getInt("PUBLISH_RETRIES", "5"); err != nil {
		return
	}
	cfg.PublishRetries = uint64(n)
	if cfg.ConsumerRetryMax, err = getMillis("CONSUMER_RETRY_MAX_MS", "0"); err != nil {
		return
	}
	if cfg.ShutdownTimeout, err = getMillis("SHUTDOWN_TIMEOUT_MS", "10000"); err != nil {
		return
	}
	var jwtExpSecond int
	if jwtExpSecond, err = getInt("API_JWT_EXP_SECOND", "3600"); err != nil {
		return
	}
	cfg.JWTExp = time.Duration(jwtExpSecond) * time.Second

	return
}

// parseBrokers splits a comma-separated broker list.
func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// run initializes the logger, stores, locks, event bus and HTTP server for the configured role.
// It recovers in-flight transfers, serves until a signal arrives and drains on shutdown.
func run(ctx context.Context, cfg config) error {
	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel, cfg.Role); err != nil {
		fmt.Println("failed to initialize logger:", err)
		return err
	}
	defer logger.Sync()
	log := logger.Log
	log.Infow("starting", "role", cfg.Role, "storage", cfg.Storage, "lock_backend", cfg.LockBackend)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// Initialize stores
	var (
		accounts services.AccountStore
		txns     services.TransactionStore
	)
	switch cfg.Storage {
	case "memory":
		accounts = repositories.NewMemoryAccountRepository()
		txns = repositories.NewMemoryTransactionRepository()
	case "postgres":
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			cfg.PGUser, cfg.PGPassword, cfg.PGHost, cfg.PGPort, cfg.PGDB)
		log.Infow("connecting to PostgreSQL", "host", cfg.PGHost, "port", cfg.PGPort, "db", cfg.PGDB)

		db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
		if err != nil {
			return fmt.Errorf("PostgreSQL connection error: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.PGMaxOpenConns)
		db.SetMaxIdleConns(cfg.PGMaxIdleConns)

		if cfg.runsLedger() {
			if err := repositories.Migrate(ctx, db, repositories.LedgerSchema); err != nil {
				return err
			}
		}
		if cfg.runsOrchestrator() {
			if err := repositories.Migrate(ctx, db, repositories.TransactionSchema); err != nil {
				return err
			}
		}
		accounts = repositories.NewAccountRepository(db)
		txns = repositories.NewTransactionRepository(db)
	default:
		return fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	// Initialize locks
	var locker services.Locker
	switch cfg.LockBackend {
	case "memory":
		locker = locks.NewKeyedMutex()
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.RedisPoolSize,
			MinIdleConns: cfg.RedisMinIdle,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redis connection error: %w", err)
		}
		opts := locks.DefaultLockOptions()
		opts.Expiry = cfg.LockExpiry
		locker = locks.NewRedisLocker(rdb, opts)
	default:
		return fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}

	policy := bus.DefaultRetryPolicy()
	policy.MaxElapsedTime = cfg.ConsumerRetryMax

	// Initialize event bus
	var (
		publisher services.EventPublisher
		memBus    *bus.MemoryBus
		writer    *bus.KafkaPublisher
	)
	if cfg.Role == roleStandalone {
		memBus = bus.NewMemoryBus(cfg.BusPartitions, policy)
		publisher = memBus
	} else {
		writer = bus.NewKafkaPublisher(bus.NewKafkaWriter(cfg.KafkaBrokers))
		settings := bus.DefaultBreakerSettings("kafka-" + cfg.Role)
		settings.ConsecutiveFailures = cfg.BreakerFailures
		settings.Timeout = cfg.BreakerTimeout
		publisher = bus.NewBreakerPublisher(writer, settings)
	}

	pool := workers.NewPool(cfg.WorkerPoolSize, cfg.WorkerQueueSize)

	// Initialize services and routes
	var (
		routes    []map[string]bus.HandlerFunc
		groups    []func(chi.Router)
		transfers *services.TransferService
		groupID   string
	)
	if cfg.runsLedger() {
		ledger := services.NewLedgerService(accounts, locker, publisher)
		routes = append(routes, app.LedgerRoutes(ledger))
		groups = append(groups, app.AccountRoutes(ledger))
		groupID = app.LedgerGroup
	}
	if cfg.runsOrchestrator() {
		transfers = services.NewTransferService(txns, locker, publisher, pool, cfg.PublishRetries)
		routes = append(routes, app.OrchestratorRoutes(transfers))
		groups = append(groups, app.TransferRoutes(transfers))
		groupID = app.OrchestratorGroup
	}
	handlersByTopic := app.Merge(routes...)

	errChan := make(chan error, 2)
	consumeCtx, stopConsuming := context.WithCancel(context.WithoutCancel(ctx))
	defer stopConsuming()

	var consumer *bus.KafkaConsumer
	if memBus != nil {
		app.Subscribe(memBus, handlersByTopic)
	} else {
		consumer = bus.NewKafkaConsumer(handlersByTopic, func(topic string) bus.KafkaReader {
			return bus.NewKafkaReader(cfg.KafkaBrokers, groupID, topic)
		}, policy, cfg.BusPartitions)
		go func() {
			if err := consumer.Run(consumeCtx); err != nil {
				errChan <- fmt.Errorf("Kafka consumer failed: %w", err)
			}
		}()
	}

	// Re-drive transfers left in flight by a previous run
	if transfers != nil {
		if n, err := transfers.Recover(ctx); err != nil {
			log.Errorw("recovery incomplete", "resumed", n, "error", err)
		}
	}

	var auth func(http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		auth = middlewares.AuthMiddleware(jwt.New(cfg.JWTSecret, cfg.JWTExp))
	}

	r := app.NewRouter(log, fmt.Sprintf("http://%s:%s/swagger/doc.json", cfg.AppHost, cfg.AppPort), auth, groups...)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort),
		Handler: r,
	}

	go func() {
		log.Infof("HTTP server listening on %s:%s", cfg.AppHost, cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping...")
	case runErr = <-errChan:
		log.Errorw("stopping after failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	// Stop intake first, then drain in-flight work
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Errorw("worker pool drain incomplete", "error", err)
	}
	if memBus != nil {
		if err := memBus.Wait(shutdownCtx); err != nil {
			log.Errorw("event bus drain incomplete", "error", err)
		}
		memBus.Close()
	}
	stopConsuming()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Errorw("Kafka consumer close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			log.Errorw("Kafka writer close error", "error", err)
		}
	}

	log.Info("stopped gracefully")
	return runErr
}
