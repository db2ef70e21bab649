// Package worker provides async batch processing for the Pro tier. Ingested
// batches are picked up from the event bus and driven through the
// anonymize, verify and score stages without an API caller waiting.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker processes ingested batches asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, pipe *pipeline.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: pipe,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing batch events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startTenantWorker subscribes one tenant to the batch ingested topic.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchIngested,
	)

	return nil
}

// BatchMessage is the payload published when a batch is ingested.
type BatchMessage struct {
	RunID string `json:"run_id"`
	Cases int    `json:"cases"`
}

// processBatch drives an ingested run through anonymize, verify and score.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var batch BatchMessage
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if batch.RunID == "" {
		slog.Error("batch message missing run id", "message_id", msg.ID)
		return nil
	}

	slog.Debug("processing batch",
		"run_id", batch.RunID,
		"tenant_id", tenantID,
	)

	if _, err := w.pipeline.Anonymize(ctx, tenantID, batch.RunID); err != nil {
		slog.Error("anonymize stage failed",
			"run_id", batch.RunID,
			"error", err,
		)
		return err
	}
	if _, err := w.pipeline.Verify(ctx, tenantID, batch.RunID); err != nil {
		slog.Error("verify stage failed",
			"run_id", batch.RunID,
			"error", err,
		)
		return err
	}
	cases, err := w.pipeline.Score(ctx, tenantID, batch.RunID)
	if err != nil {
		slog.Error("score stage failed",
			"run_id", batch.RunID,
			"error", err,
		)
		return err
	}

	var flagged int
	for _, c := range cases {
		if c.Assessment != nil && c.Assessment.Action == domain.ActionReview {
			flagged++
		}
	}

	slog.Info("batch processed",
		"run_id", batch.RunID,
		"tenant_id", tenantID,
		"cases", len(cases),
		"flagged", flagged,
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
