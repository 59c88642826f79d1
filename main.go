package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rental-billing/internal/billing/application"
	billing "rental-billing/internal/billing/domain"
	billingmongo "rental-billing/internal/billing/infrastructure/mongo"
	billingpostgres "rental-billing/internal/billing/infrastructure/postgres"
	"rental-billing/internal/billing/interfaces"
	billingmetrics "rental-billing/internal/billing/metrics"
	"rental-billing/internal/billing/notify"
	"rental-billing/internal/ledgerclient"
	"rental-billing/internal/platform/logger"
)

// billingStore is what every job needs from the selected backend.
type billingStore interface {
	billing.ContractRepository
	billing.SerialNumberStore
	billing.SettingsRepository
}

func main() {
	job := flag.String("job", "", "run one job and exit: invoice or reconcile")
	flag.Parse()

	cfg, err := application.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("store open failed", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	ledger, err := ledgerclient.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.Token, time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second)
	if err != nil {
		log.Error("ledger client error", "error", err)
		os.Exit(1)
	}

	var notifier notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, time.Duration(cfg.Notify.TimeoutSeconds)*time.Second)
	}
	reporter, err := interfaces.NewFileReporter(cfg.Reports.Dir)
	if err != nil {
		log.Error("reporter error", "error", err)
		os.Exit(1)
	}
	deps := application.RunnerDeps{
		Notifier: notifier,
		Reporter: reporter,
		Metrics:  billingmetrics.New(nil),
		Logger:   log,
	}

	serials, err := application.NewSerialGenerator(store, cfg.Serial.System, nil)
	if err != nil {
		log.Error("serial generator error", "error", err)
		os.Exit(1)
	}
	builder, err := application.NewInvoiceBuilder(store, store, serials, cfg, nil, log)
	if err != nil {
		log.Error("invoice builder error", "error", err)
		os.Exit(1)
	}
	runner, err := application.NewInvoiceRunner(builder, store, ledger, cfg, deps)
	if err != nil {
		log.Error("invoice runner error", "error", err)
		os.Exit(1)
	}
	reconciler, err := application.NewReconciler(store, ledger, cfg, deps)
	if err != nil {
		log.Error("reconciler error", "error", err)
		os.Exit(1)
	}

	switch *job {
	case "":
	case "invoice":
		if _, err := runner.Run(ctx); err != nil {
			log.Error("invoice run failed", "error", err)
			os.Exit(1)
		}
		return
	case "reconcile":
		if _, err := reconciler.Reconcile(ctx); err != nil {
			log.Error("reconciliation failed", "error", err)
			os.Exit(1)
		}
		return
	default:
		log.Error("unknown job", "job", *job)
		os.Exit(2)
	}

	scheduler := application.NewScheduler(log)
	scheduler.ScheduleInvoice(runner, cfg.Schedule.InvoiceDailyAt)
	scheduler.ScheduleReconcile(reconciler, cfg.Schedule.ReconcileDailyAt)
	go scheduler.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("http listening", "addr", cfg.HTTPAddr, "store", cfg.Store.Driver)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg application.Config, log *logger.Logger) (billingStore, func(), error) {
	switch cfg.Store.Driver {
	case application.DriverPostgres:
		db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := billingpostgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return billingpostgres.NewStore(db), func() { _ = db.Close() }, nil
	default:
		store, err := billingmongo.Open(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, cfg.Store)
		if err != nil {
			return nil, nil, err
		}
		store.SetLogger(log)
		closeStore := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}
		if err := store.Migrate(ctx); err != nil {
			closeStore()
			return nil, nil, err
		}
		return store, closeStore, nil
	}
}
