package worker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/routing"
)

const testCSV = `name,amount,risk_score,channel,nationality
Alice Smith,1200.50,20,online,US
Bob Jones,98000,85,branch,GB
Carol White,500,10,online,DE
`

func newTestStack(t *testing.T) (*pipeline.Pipeline, domain.Repository, domain.EventBus) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c, err := cache.New(domain.CacheConfig{
		Type:         "memory",
		LocalMaxSize: 100,
		LocalTTL:     time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	reg, err := registry.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	router, err := routing.NewEngine()
	if err != nil {
		t.Fatalf("failed to create routing engine: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.DefaultConfig().Pipeline
	cfg.ArtifactDir = t.TempDir()

	return pipeline.New(cfg, repo, c, eventBus, reg, router, nil), repo, eventBus
}

func TestWorkerProcessesIngestedBatch(t *testing.T) {
	pipe, repo, eventBus := newTestStack(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	w := NewWorker(eventBus, pipe)
	if err := w.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	if got := w.GetStats().SubscriptionCount; got != 1 {
		t.Fatalf("expected 1 subscription, got %d", got)
	}

	run, _, err := pipe.Ingest(ctx, tenantID, strings.NewReader(testCSV))
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	// The worker picks the batch off the bus and drives it to scored.
	deadline := time.After(10 * time.Second)
	for {
		stored, err := repo.GetRun(ctx, tenantID, run.ID)
		if err != nil {
			t.Fatalf("failed to reload run: %v", err)
		}
		if stored.Stage == domain.StageScored {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run stuck at stage %s", stored.Stage)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cases, err := repo.ListCasesByRun(ctx, tenantID, run.ID)
	if err != nil {
		t.Fatalf("failed to list cases: %v", err)
	}
	for _, c := range cases {
		if c.Assessment == nil {
			t.Error("expected assessment after async processing")
		}
	}
}

func TestWorkerIgnoresOtherTenants(t *testing.T) {
	pipe, repo, eventBus := newTestStack(t)
	ctx := context.Background()

	w := NewWorker(eventBus, pipe)
	if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	run, _, err := pipe.Ingest(ctx, "tenant-002", strings.NewReader(testCSV))
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	stored, err := repo.GetRun(ctx, "tenant-002", run.ID)
	if err != nil {
		t.Fatalf("failed to reload run: %v", err)
	}
	if stored.Stage != domain.StageIntake {
		t.Errorf("run for unsubscribed tenant should stay at intake, got %s", stored.Stage)
	}
}

func TestWorkerStop(t *testing.T) {
	pipe, _, eventBus := newTestStack(t)

	w := NewWorker(eventBus, pipe)
	if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("worker stop failed: %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", got)
	}
}
