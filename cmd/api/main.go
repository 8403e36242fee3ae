package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/whisperly/backend/internal/ai"
	"github.com/whisperly/backend/internal/auth"
	"github.com/whisperly/backend/internal/config"
	"github.com/whisperly/backend/internal/dashboard"
	"github.com/whisperly/backend/internal/hints"
	"github.com/whisperly/backend/internal/ledger"
	"github.com/whisperly/backend/internal/messages"
	"github.com/whisperly/backend/internal/notify"
	"github.com/whisperly/backend/internal/payments"
	"github.com/whisperly/backend/internal/router"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger
	ledgerRepo := ledger.NewRepository(pool, cfg.DailyHintQuota, cfg.ResetTimezone)
	ledgerSvc := ledger.NewService(ledgerRepo, cfg.DailyHintQuota, cfg.ResetTimezone)

	// Payments: notify insert func is set after the River client exists
	// (breaks the init cycle).
	var insertMu sync.Mutex
	var insertFn payments.InsertNotifyTxFunc
	insertNotify := func(ctx context.Context, tx pgx.Tx, args notify.SendPushArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	gateway := payments.NewQPayClient(cfg.QPayBaseURL, cfg.QPayUsername, cfg.QPayPassword, cfg.QPayInvoiceCode)
	invoiceRepo := payments.NewRepository(pool, insertNotify)
	paySvc := payments.NewService(invoiceRepo, gateway, cfg.AppBaseURL, logger)

	var pusher notify.Pusher = notify.NopPusher{}
	if cfg.PushBaseURL != "" {
		pusher = notify.NewHTTPPusher(cfg.PushBaseURL, cfg.PushAPIKey)
	} else {
		slog.Warn("PUSH_BASE_URL not set, push notifications disabled")
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewSendPushWorker(pusher, logger))
	river.AddWorker(workers, payments.NewSweepWorker(paySvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(15*time.Minute),
				func() (river.JobArgs, *river.InsertOpts) {
					return payments.SweepInvoicesArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args notify.SendPushArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Auth & feature handlers
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	msgRepo := messages.NewRepository(pool)
	msgHandler := messages.NewHandler(msgRepo, logger)

	completer := ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
	hintsSvc := hints.NewService(msgRepo, ledgerSvc, completer)
	hintsHandler := hints.NewHandler(hintsSvc, logger)

	dashHandler := dashboard.NewHandler(ledgerSvc, logger)
	payHandler := payments.NewHandler(paySvc, logger)
	webhookHandler := payments.NewWebhookHandler(paySvc, cfg.QPayWebhookSecret, logger)

	apiRouter := router.New(authSvc, authHandler, dashHandler, msgHandler, hintsHandler, payHandler, webhookHandler)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "https://app.whisperly.mn"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", payments.SignatureHeader},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
