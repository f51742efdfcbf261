package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/havenstay/billing/internal/config"
	"github.com/havenstay/billing/internal/dispatcher"
	"github.com/havenstay/billing/internal/gateway"
	"github.com/havenstay/billing/internal/notify"
	"github.com/havenstay/billing/internal/payments"
	"github.com/havenstay/billing/internal/reconcile"
	"github.com/havenstay/billing/internal/report"
	"github.com/havenstay/billing/internal/repository"
	"github.com/havenstay/billing/internal/server"
	"github.com/havenstay/billing/internal/worker"
	"github.com/havenstay/billing/pkg/database"
	"github.com/havenstay/billing/pkg/utils"
)

func main() {
	// Local development credentials live in .env; absence is fine
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting housing billing service",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)
	paymentRepo := repository.NewPaymentRepository(db.DB, logger)
	installmentRepo := repository.NewInstallmentRepository(db.DB, logger)
	auditRepo := repository.NewAuditRepository(db.DB, logger)

	// Gateway client
	gatewayClient := gateway.NewHTTPClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		SecretKey: cfg.Gateway.SecretKey,
		Timeout:   cfg.Gateway.Timeout,
	}, logger)

	// Side-effect pipeline
	events := dispatcher.New(logger)
	defer events.Close()

	receiptNotifier := notify.NewReceiptNotifier(cfg.Notify.ReceiptWebhookURL, cfg.Notify.Timeout, logger)
	auditRecorder := notify.NewAuditRecorder(auditRepo, logger)
	cashFlow := report.NewCashFlow(cfg.Report.OutputPath, logger)

	events.Subscribe(dispatcher.TypePaymentSucceeded, "receipt-notifier", receiptNotifier.Handle)
	events.Subscribe(dispatcher.TypePaymentSucceeded, "audit-recorder", auditRecorder.Handle)
	events.Subscribe(dispatcher.TypePaymentSucceeded, "cashflow-report", cashFlow.Handle)
	events.Subscribe(dispatcher.TypePaymentPending, "receipt-notifier", receiptNotifier.Handle)
	events.Subscribe(dispatcher.TypePaymentPending, "audit-recorder", auditRecorder.Handle)
	events.Subscribe(dispatcher.TypeAllocationApplied, "audit-recorder", auditRecorder.Handle)
	events.Subscribe(dispatcher.TypeInvoiceRepaired, "audit-recorder", auditRecorder.Handle)

	// Reconciliation engines
	allocator := reconcile.NewAllocator(db, invoiceRepo, paymentRepo, installmentRepo, logger)
	historian := reconcile.NewHistorian(invoiceRepo, paymentRepo, logger)

	coordinator := payments.NewCoordinator(
		db,
		invoiceRepo,
		paymentRepo,
		gatewayClient,
		allocator,
		events,
		cfg.Gateway.Currency,
		logger,
	)

	// Background workers
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers := worker.NewManager(logger)
	workers.Register(worker.NewReconciler(invoiceRepo, paymentRepo, events, cfg.Billing.ReconcileInterval, logger))

	if err := workers.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	defer workers.StopAll()

	// HTTP server
	depositThreshold, err := cfg.Billing.DepositThresholdAmount()
	if err != nil {
		logger.Fatal("Invalid deposit threshold", zap.Error(err))
	}

	handlers := server.NewHandlers(coordinator, historian, invoiceRepo, depositThreshold, logger)
	srv := server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, logger)

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
