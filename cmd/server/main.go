package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/audit"
	"github.com/iliyamo/secure-health-portal/internal/config"
	"github.com/iliyamo/secure-health-portal/internal/database"
	"github.com/iliyamo/secure-health-portal/internal/fieldcrypt"
	"github.com/iliyamo/secure-health-portal/internal/handler"
	"github.com/iliyamo/secure-health-portal/internal/logger"
	"github.com/iliyamo/secure-health-portal/internal/middleware"
	"github.com/iliyamo/secure-health-portal/internal/migrate"
	"github.com/iliyamo/secure-health-portal/internal/queue"
	"github.com/iliyamo/secure-health-portal/internal/repository"
	"github.com/iliyamo/secure-health-portal/internal/router"
	"github.com/iliyamo/secure-health-portal/internal/service"
	"github.com/iliyamo/secure-health-portal/internal/totp"
	"github.com/iliyamo/secure-health-portal/internal/utils"
)

type stores struct {
	db       *sql.DB // nil with the memory driver
	accounts repository.AccountStore
	events   repository.EventStore
	records  repository.RecordStore
}

func main() {
	cfg := config.Load() // Load environment config

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "secure-health-portal")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cipher, err := fieldcrypt.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal("field cipher", zap.Error(err))
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("open storage", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	if st.db != nil {
		defer st.db.Close()
	}
	records := repository.NewEncryptedRecords(st.records, cipher)

	rdb := config.NewRedisClient(log)
	if rdb != nil {
		defer rdb.Close()
	}
	status := repository.NewStatusCache(st.accounts, rdb, cfg.StatusCacheTTL, log)
	engine := totp.NewEngine(cfg.TOTPIssuer, totp.NewRedisGuard(rdb, "totp:used"))
	tokens := utils.NewTokenIssuer(cfg.JWTSecret, cfg.PendingTokenTTL, cfg.SessionTokenTTL)

	// Security events: store first, RabbitMQ when the store refuses, log last.
	var fallback audit.Fallback
	if cfg.RabbitURL != "" {
		fallback = queue.NewPublisher(cfg.RabbitURL)
		consumer := queue.NewConsumer(cfg.RabbitURL, st.events, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("security event consumer stopped", zap.Error(err))
			}
		}()
	}
	recorder := audit.NewRecorder(st.events, fallback, log)

	svc, err := service.NewAuthService(st.accounts, cipher, engine, tokens, recorder,
		service.Options{BcryptCost: cfg.BcryptCost, LoginWindow: cfg.TOTPLoginWindow}, log)
	if err != nil {
		log.Fatal("auth service", zap.Error(err))
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = middleware.IPExtractor(cfg.TrustedProxies)
	e.Use(middleware.Recover(log), middleware.RequestLogger(log))

	authH := handler.NewAuthHandler(svc, st.accounts, cfg.CookieSecure, log)
	var ready handler.Pinger
	if st.db != nil {
		ready = st.db
	}
	router.RegisterRoutes(e, ready) // Register application routes
	router.RegisterAuth(e, authH, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log))
	router.RegisterProtected(e, router.Handlers{
		Auth:    authH,
		Admin:   handler.NewAdminHandler(st.accounts, records, recorder, status, log),
		Doctor:  handler.NewDoctorHandler(st.accounts, records, log),
		Patient: handler.NewPatientHandler(svc, st.accounts, records, log),
	}, middleware.Authenticate(tokens, status, log))

	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr()), zap.String("env", cfg.Env), zap.String("db_driver", cfg.DBDriver))
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Error("security events not fully flushed", zap.Error(err))
	}
}

// openStores returns MySQL-backed stores with migrations applied, or the
// in-memory stores for DB_DRIVER=memory.
func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (stores, error) {
	if cfg.DBDriver == "memory" {
		log.Warn("using in-memory storage; data is lost on restart")
		accounts := repository.NewMemoryAccountRepo()
		events := repository.NewMemoryEventRepo()
		records := repository.NewMemoryRecordRepo()
		accounts.OnDelete(events.DeleteSubject)
		accounts.OnDelete(records.DeleteAccount)
		return stores{accounts: accounts, events: events, records: records}, nil
	}

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return stores{}, err
	}
	if err := migrate.Up(ctx, db); err != nil {
		db.Close()
		return stores{}, err
	}
	return stores{
		db:       db,
		accounts: repository.NewAccountRepo(db),
		events:   repository.NewEventRepo(db),
		records:  repository.NewRecordRepo(db),
	}, nil
}
