package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/dkeeper/debt-ledger/internal/config"
	"github.com/dkeeper/debt-ledger/internal/handler"
	"github.com/dkeeper/debt-ledger/internal/ledger"
	"github.com/dkeeper/debt-ledger/internal/middleware"
	"github.com/dkeeper/debt-ledger/internal/notify"
	"github.com/dkeeper/debt-ledger/internal/service"
	"github.com/dkeeper/debt-ledger/internal/storage"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize the snapshot backend
	kv, cleanup, err := openBackend(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open storage backend: %v", err)
	}
	defer cleanup()

	adapter := storage.NewAdapter(kv, logger)

	// Load the ledger; on storage failure start empty so the app stays usable.
	records, dropped, err := adapter.Load(context.Background())
	if err != nil {
		logger.Errorf("Failed to load ledger, starting empty: %v", err)
		records = nil
	}
	if dropped > 0 {
		logger.Warnf("Ignored %d malformed record(s) from the stored snapshot", dropped)
	}

	store := ledger.NewStore(records, adapter, logger, func(err error) {
		logger.Warnf("Persistence degraded: %v", err)
	})
	defer store.Close()

	svc := service.NewService(store, logger)
	h := handler.NewHandler(svc, cfg, logger)

	// Scheduled debt reminders, only when a recipient is configured.
	if cfg.ReminderEmail != "" && cfg.SMTPHost != "" {
		sender := notify.NewSender(cfg, logger)
		reminder := notify.NewReminder(svc, sender, cfg, logger)
		c := cron.New()
		if _, err := c.AddFunc(cfg.ReminderCron, reminder.Run); err != nil {
			logger.Fatalf("Invalid REMINDER_CRON: %v", err)
		}
		c.Start()
		defer c.Stop()
	}

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	authRouter.HandleFunc("/transactions", h.CreateTransaction).Methods("POST")
	authRouter.HandleFunc("/transactions/{id}", h.UpdateTransaction).Methods("PATCH")
	authRouter.HandleFunc("/transactions/{id}", h.DeleteTransaction).Methods("DELETE")
	authRouter.HandleFunc("/transactions/{id}/settle", h.SettleTransaction).Methods("POST")
	authRouter.HandleFunc("/transactions/{id}/unsettle", h.UnsettleTransaction).Methods("POST")
	authRouter.HandleFunc("/transactions/{id}/payments", h.RecordPartialPayment).Methods("POST")
	authRouter.HandleFunc("/transactions/{id}/edit", h.EditTransaction).Methods("POST")
	authRouter.HandleFunc("/totals", h.Totals).Methods("GET")
	authRouter.HandleFunc("/people", h.People).Methods("GET")
	authRouter.HandleFunc("/export", h.Export).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}

// openBackend picks the snapshot store: a local file by default, Redis or
// Postgres when configured.
func openBackend(cfg *config.Config, logger *logrus.Logger) (storage.KV, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		kv, err := storage.NewRedisKV(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { kv.Close() }, nil
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, err
		}
		kv, err := storage.NewPostgresKV(context.Background(), db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return kv, func() { db.Close() }, nil
	default:
		kv, err := storage.NewFileKV(cfg.DataFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Using file snapshot store at %s", cfg.DataFile)
		return kv, func() {}, nil
	}
}
