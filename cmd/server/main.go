package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"jobbridge/internal/config"
	"jobbridge/internal/domain"
	"jobbridge/internal/httpserver"
	"jobbridge/internal/security"
	"jobbridge/internal/service"
	"jobbridge/internal/store/postgres"
	"jobbridge/internal/store/sqlite"
	"jobbridge/internal/ws"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync()
	logger := zlog.Sugar()

	logger.Infow("starting", "app", cfg.AppName, "env", cfg.Env, "db_driver", cfg.DBDriver)

	db, userRepo, msgRepo, sessRepo, err := openStore(cfg)
	if err != nil {
		logger.Fatalw("failed to open store", "error", err)
	}
	defer db.Close()

	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey))
	if err != nil {
		logger.Fatalw("failed to initialize encryptor", "error", err)
	}

	chatSvc := service.NewChatService(msgRepo, sessRepo, userRepo, encryptor, logger,
		cfg.HistoryMaxLimit, cfg.MaxContentRunes)
	userSvc := service.NewUserService(userRepo)

	hub := ws.NewHub(cfg.WSMaxConnections, logger)
	monitor := ws.NewMonitor(hub, cfg.SweepInterval, cfg.PingAfter, cfg.DropAfter, logger)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go monitor.Run(monitorCtx)

	router := httpserver.NewRouter(cfg, logger, hub, tokenSvc, userRepo, chatSvc, userSvc)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infow("listening", "addr", cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopMonitor()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnw("graceful shutdown failed", "error", err)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStore opens the configured driver, migrates, and returns the repo set.
func openStore(cfg *config.Config) (*sql.DB, domain.UserRepository, domain.MessageRepository, domain.SessionRepository, error) {
	if cfg.DBDriver == "sqlite" {
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			return nil, nil, nil, nil, err
		}
		return db, sqlite.NewUserRepo(db), sqlite.NewMessageRepo(db), sqlite.NewSessionRepo(db), nil
	}

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := postgres.Migrate(db); err != nil {
		return nil, nil, nil, nil, err
	}
	return db, postgres.NewUserRepo(db), postgres.NewMessageRepo(db), postgres.NewSessionRepo(db), nil
}
