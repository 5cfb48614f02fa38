package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/config"
	"transfersvc/internal/handler"
	"transfersvc/internal/idempotency"
	"transfersvc/internal/infrastructure/cache"
	"transfersvc/internal/infrastructure/database"
	"transfersvc/internal/infrastructure/lock"
	"transfersvc/internal/infrastructure/logger"
	"transfersvc/internal/infrastructure/mq"
	"transfersvc/internal/job"
	"transfersvc/internal/model"
	"transfersvc/internal/repository"
	"transfersvc/internal/repository/memstore"
	"transfersvc/internal/retry"
	"transfersvc/internal/service"
	"transfersvc/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// stores groups the persistence ports chosen by database.driver.
type stores struct {
	accounts repository.AccountStore
	auth     repository.AuthStore
	outbox   repository.OutboxStore
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	workerID := flag.Int64("worker-id", 1, "snowflake worker id of this instance")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *workerID, log); err != nil {
		log.Error("server exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(cfg *config.Config, workerID int64, log *zap.Logger) error {
	if err := idgen.Init(workerID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}

	redisClient, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	locks := lock.NewManager(newMutex(cfg, redisClient), cfg.Lock, log)
	gate := idempotency.NewGate(cache.NewRedisCache(redisClient), log)

	guard := service.NewAuthGuard(st.auth, cfg.Auth, log)
	transfers := service.NewTransferService(
		st.accounts,
		guard,
		retry.NewPolicy(cfg.Transfer.Retry, log),
		locks,
		service.TransferOptionsFromConfig(cfg),
		log,
	)
	accounts := service.NewAccountService(st.accounts)

	outboxSender := job.NewOutboxSender(st.outbox, publisher, cfg.Job, log)
	go outboxSender.Start(ctx)

	lockoutJob := job.NewLockoutReleaseJob(st.auth, cfg.Job, log)
	go lockoutJob.Start(ctx)

	router := handler.SetupRouter(handler.RouterDeps{
		Handler:        handler.NewHandler(accounts, transfers, log),
		Gate:           gate,
		IdempotencyTTL: cfg.Idempotency.TTL,
		Logger:         log,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("driver", cfg.Database.Driver),
			zap.String("strategy", cfg.Transfer.Strategy),
			zap.String("lock_provider", cfg.Lock.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.Stringer("signal", sig))
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.Database.Driver == config.DriverMemory {
		mem := memstore.New(cfg.Database.LockWaitTimeout)
		for _, seed := range cfg.Memory.Seed {
			hash, err := service.HashPassword(seed.Password, cfg.Auth.BcryptCost)
			if err != nil {
				return nil, fmt.Errorf("seed account %d: %w", seed.AccountID, err)
			}
			mem.PutAccount(model.Account{ID: seed.AccountID, CustomerID: seed.CustomerID, Balance: seed.Balance})
			mem.PutAuth(model.AccountAuth{AccountID: seed.AccountID, PasswordHash: hash})
		}
		log.Info("memory store ready", zap.Int("accounts", len(cfg.Memory.Seed)))
		return &stores{accounts: mem, auth: mem, outbox: mem}, nil
	}

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	// password checks run while an account transaction holds a connection
	// from db, so they need a pool of their own
	authDB, err := database.Connect(&cfg.Database, cfg.Database.AuthMaxOpenConns, log)
	if err != nil {
		return nil, err
	}

	accountRepo := repository.NewAccountRepository(db, cfg.Database.LockWaitTimeout)
	authRepo := repository.NewAuthRepository(authDB, cfg.Database.LockWaitTimeout)

	if err := seedSQL(ctx, cfg, accountRepo, authRepo, log); err != nil {
		return nil, err
	}

	return &stores{
		accounts: accountRepo,
		auth:     authRepo,
		outbox:   repository.NewOutboxRepository(db),
	}, nil
}

// seedSQL creates configured accounts that do not exist yet. Existing rows are
// left untouched so restarts never reset balances.
func seedSQL(ctx context.Context, cfg *config.Config, accounts *repository.AccountRepository, auth *repository.AuthRepository, log *zap.Logger) error {
	for _, seed := range cfg.Memory.Seed {
		_, err := accounts.GetByID(ctx, seed.AccountID)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrAccountNotFound) {
			return err
		}

		hash, err := service.HashPassword(seed.Password, cfg.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("seed account %d: %w", seed.AccountID, err)
		}
		if err := accounts.Create(ctx, &model.Account{ID: seed.AccountID, CustomerID: seed.CustomerID, Balance: seed.Balance}); err != nil {
			return fmt.Errorf("seed account %d: %w", seed.AccountID, err)
		}
		if err := auth.Create(ctx, &model.AccountAuth{AccountID: seed.AccountID, PasswordHash: hash, Status: model.AuthStatusActive}); err != nil {
			return fmt.Errorf("seed auth %d: %w", seed.AccountID, err)
		}
		log.Info("seeded account", zap.Int64("account_id", seed.AccountID))
	}
	return nil
}

func newMutex(cfg *config.Config, client *redis.Client) lock.Mutex {
	if cfg.Lock.Provider == config.LockProviderRedsync {
		return lock.NewRedsyncMutex(client, cfg.Lock.RetryInterval)
	}
	return lock.NewRedisMutex(client, cfg.Lock.RetryInterval)
}

type publisher interface {
	job.Publisher
	Close() error
}

func newPublisher(cfg *config.Config, log *zap.Logger) (publisher, error) {
	if !cfg.Kafka.Enabled {
		log.Info("kafka disabled, transfer events are logged only")
		return mq.NewLogPublisher(log), nil
	}
	return mq.NewKafkaPublisher(&cfg.Kafka, log)
}
