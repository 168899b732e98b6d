package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/durablestep/engine/config"
	"github.com/durablestep/engine/durable"
	"github.com/durablestep/engine/memocache"
	"github.com/durablestep/engine/metrics"
	"github.com/durablestep/engine/observability"
	"github.com/durablestep/engine/resilience"
	"github.com/durablestep/engine/retry"
	"github.com/durablestep/engine/saga"
	"github.com/durablestep/engine/store"
)

const serviceVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App.Environment)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting durablestep engine",
		zap.String("service", cfg.App.Name),
		zap.String("version", serviceVersion))

	shutdownTracing, err := observability.InitTracing(cfg.App.Name, serviceVersion, cfg.Observability.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	baseStore, err := store.NewPostgresStore(cfg.Database.URL, store.PostgresConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer baseStore.Close()

	backedStore := store.Store(baseStore)

	if cfg.MemoCache.Address != "" {
		cache, err := memocache.NewRedisCache(cfg.MemoCache.Address, cfg.MemoCache.Password, cfg.MemoCache.DB, logger)
		if err != nil {
			logger.Warn("memo cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer cache.Close()
			backedStore = store.WithMemoCache(backedStore, cache, cfg.MemoCache.TTL)
		}
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "store",
		MaxRequests: cfg.Resilience.MaxRequests,
		Interval:    cfg.Resilience.Interval,
		Timeout:     cfg.Resilience.Timeout,
	}, logger)
	backedStore = store.WithCircuitBreaker(backedStore, breaker)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping")
		cancel()
	}()

	if err := runSampleWorkflow(ctx, backedStore, logger, cfg); err != nil {
		logger.Error("sample workflow failed after restart", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

// runSampleWorkflow demonstrates the durable-step and saga APIs end to
// end: a two-step provisioning sequence where the backend is unavailable
// on the first attempt, triggering the reservation's compensation, and
// the process is then restarted against the same workflow ID. The
// restarted attempt replays "reserve-capacity" from its memoized record
// (no duplicate reservation) and retries "provision-resource", which
// succeeds this time.
func runSampleWorkflow(ctx context.Context, st store.Store, logger *zap.Logger, cfg *config.Config) error {
	workflowID := "wf-" + uuid.New().String()
	if err := st.UpsertWorkflow(ctx, workflowID, store.WorkflowRunning); err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}

	policy := retry.New(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoff)

	firstAttempt := durable.New(workflowID, st, logger)
	if err := provisionBackend(ctx, firstAttempt, logger, policy, false); err != nil {
		logger.Warn("provision-resource failed, compensations ran", zap.Error(err))
		_ = st.UpsertWorkflow(ctx, workflowID, store.WorkflowRunning)

		logger.Info("restarting workflow", zap.String("workflow_id", workflowID))
		metrics.Default().IncWorkflowRestart(workflowID)

		resumedAttempt := durable.New(workflowID, st, logger)
		if err := provisionBackend(ctx, resumedAttempt, logger, policy, true); err != nil {
			_ = st.UpsertWorkflow(ctx, workflowID, store.WorkflowCancelled)
			return fmt.Errorf("provision-resource after restart: %w", err)
		}
	}

	return st.UpsertWorkflow(ctx, workflowID, store.WorkflowCompleted)
}

// provisionBackend runs the reserve-then-provision saga once against dctx.
// backendRecovered controls whether the provisioning step succeeds, so the
// demo can simulate the backend coming back up across a restart.
func provisionBackend(ctx context.Context, dctx *durable.Context, logger *zap.Logger, policy retry.Policy, backendRecovered bool) error {
	reservationID, err := saga.RunWithPolicy[string](ctx, dctx, "reserve-capacity", policy,
		func() (string, error) {
			return "reservation-1", nil
		},
		func() error {
			logger.Info("releasing reservation", zap.String("reservation_id", "reservation-1"))
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("reserve-capacity: %w", err)
	}

	_, err = saga.Run[string](ctx, dctx, "provision-resource",
		func() (string, error) {
			if !backendRecovered {
				return "", fmt.Errorf("provisioning backend unavailable for %s", reservationID)
			}
			return "provisioned-" + reservationID, nil
		},
		nil,
	)
	return err
}
