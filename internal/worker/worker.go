// Package worker provides async snapshot processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-credit/kestrel/internal/casefile"
	"github.com/opensource-credit/kestrel/internal/domain"
)

// Worker consumes ingested case snapshots from the EventBus, runs the
// analysis pipeline, persists the result, and publishes it downstream.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	cache    domain.Cache
	analyzer *casefile.Analyzer

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global worker)
	TenantIDs []string
}

// NewWorker creates an async analysis worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, analyzer *casefile.Analyzer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		cache:    cache,
		analyzer: analyzer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing snapshots for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started", "tenant_count", len(cfg.TenantIDs))
	return nil
}

func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicCaseIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicCaseIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processSnapshot(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicCaseIngested,
	)

	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processSnapshot(ctx, msg.TenantID, msg)
}

// processSnapshot runs one snapshot through the analysis pipeline.
func (w *Worker) processSnapshot(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var snap domain.CaseSnapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		slog.Error("failed to parse snapshot message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if snap.TenantID != "" {
		tenantID = snap.TenantID
	}

	slog.Debug("processing snapshot",
		"snapshot_id", snap.ID,
		"tenant_id", tenantID,
	)

	result, err := w.analyzer.Analyze(ctx, &snap)
	if err != nil {
		slog.Error("analysis failed",
			"snapshot_id", snap.ID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveCaseResult(ctx, tenantID, result); err != nil {
			slog.Error("failed to save case result",
				"result_id", result.ID,
				"error", err,
			)
		}
	}
	if w.cache != nil {
		if err := w.cache.SetCaseResult(ctx, tenantID, result.ID, result, 24*time.Hour); err != nil {
			slog.Warn("failed to memoize case result",
				"result_id", result.ID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicCaseAnalyzed, resultPayload); err != nil {
		slog.Error("failed to publish analyzed event",
			"result_id", result.ID,
			"error", err,
		)
	}

	if casefile.ShouldAlert(result) {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicCaseAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"result_id", result.ID,
				"error", err,
			)
		}
	}

	slog.Info("snapshot processed",
		"snapshot_id", snap.ID,
		"tenant_id", tenantID,
		"summary", casefile.Summary(result),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
