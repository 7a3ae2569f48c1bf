package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	alerthandlers "github.com/giftwell/fulfillment/internal/alert"
	"github.com/giftwell/fulfillment/internal/autogift"
	"github.com/giftwell/fulfillment/internal/fulfillment"
	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/operator"
	"github.com/giftwell/fulfillment/internal/orchestrator"
	"github.com/giftwell/fulfillment/internal/payment"
	"github.com/giftwell/fulfillment/internal/recovery"
	"github.com/giftwell/fulfillment/internal/release"
	"github.com/giftwell/fulfillment/internal/retry"
	"github.com/giftwell/fulfillment/internal/router"
	storage "github.com/giftwell/fulfillment/internal/storage/postgres"
	"github.com/giftwell/fulfillment/internal/timeout"
	"github.com/robfig/cron/v3"
)

func main() {
	if err := run(); err != nil {
		panic(err)
	}
}

func run() error {
	cfg, err := NewConfig()
	if err != nil {
		log.Fatal(err)
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewPostgresStorage(cfg.DatabaseConnection)
	if err != nil {
		log.Fatalf("Failed to initialize Postgres storage: %v", err)
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := store.Ping(pingCtx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Warning: failed to close storage: %v", err)
		}
	}()

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}
	stripeClient := &payment.HTTPClient{
		Client:  httpClient,
		Address: cfg.StripeAddress,
		APIKey:  cfg.StripeKey,
	}
	vendorClient := &fulfillment.HTTPVendorClient{
		Client: &http.Client{
			// Vendor order placement is slow; give it more room than status reads.
			Timeout: 30 * time.Second,
		},
		Address: cfg.ZincAddress,
		Token:   cfg.ZincToken,
	}

	backoffSteps, err := cfg.BackoffSteps()
	if err != nil {
		return err
	}
	backoff := retry.NewBackoff(backoffSteps, cfg.RetryCeiling)
	verifier := payment.NewVerifier(store, stripeClient)
	submitter := fulfillment.NewSubmitter(store, vendorClient, backoff)
	orchSvc := orchestrator.NewService(store, store, verifier, submitter, cfg.SecondaryTriggerDelay)

	recoverySvc := recovery.NewService(store, verifier, orchSvc)
	releaser := release.NewReleaser(store, cfg.VendorLeadTime)
	monitor := timeout.NewMonitor(store, store, backoff, cfg.StaleSubmissionAfter)
	autogiftSvc := autogift.NewService(store, store, cfg.AutoApproveConfidence, cfg.ApprovalTTL)
	scanner := retry.NewScanner(store, store, orchSvc, backoff, cfg.RetryTriageThreshold)
	operatorSvc := operator.NewService(store, []byte(cfg.JWTSecret), cfg.OperatorTokenTTL)

	r := router.NewRouter(
		orchestrator.NewHandler(orchSvc),
		recovery.NewHandler(recoverySvc),
		release.NewHandler(releaser),
		autogift.NewHandler(autogiftSvc),
		alerthandlers.NewHandler(store),
		operator.NewHandler(operatorSvc),
		[]byte(cfg.JWTSecret),
	)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		scanner.DispatcherLoop(ctx, cfg.RetryWorkers, cfg.RetryScanInterval)
	}()

	c := cron.New()
	if _, err := c.AddFunc(cfg.TimeoutSchedule, func() {
		if err := monitor.Run(ctx); err != nil {
			log.Printf("Timeout monitor run failed: %v", err)
		}
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc(cfg.ReleaseSchedule, func() {
		if err := releaser.Run(ctx); err != nil {
			log.Printf("Scheduled-order release run failed: %v", err)
		}
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc(cfg.ApprovalSweepSchedule, func() {
		if _, err := autogiftSvc.ExpireStale(ctx); err != nil {
			log.Printf("Approval expiry sweep failed: %v", err)
		}
		if _, err := autogiftSvc.RetryStalledApprovals(ctx); err != nil {
			log.Printf("Stalled approval sweep failed: %v", err)
		}
	}); err != nil {
		return err
	}
	c.Start()

	go func() {
		log.Printf("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	cancel()
	<-c.Stop().Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
	return nil
}
