// Package pipeline orchestrates the staged risk flow: normalize →
// anonymize → verify → score → route. Each stage is invoked synchronously,
// checks the run's lineage stage and advances it monotonically.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/anonymize"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/kyc"
	"github.com/opensource-finance/kestrel/internal/ml"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/train"
)

// assessmentTTL bounds how long reviewer-facing assessments stay cached.
const assessmentTTL = 30 * time.Minute

// Pipeline wires the stage implementations to persistence, caching,
// eventing and the model registry.
type Pipeline struct {
	cfg      domain.PipelineConfig
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	registry *registry.Registry
	router   *routing.Engine

	normalizer *normalize.Normalizer
	anonymizer *anonymize.Anonymizer
	scorer     *scoring.Scorer
	trainer    *train.Trainer

	logger *slog.Logger
	tracer trace.Tracer
}

// New assembles a pipeline from its collaborators.
func New(
	cfg domain.PipelineConfig,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	reg *registry.Registry,
	router *routing.Engine,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		repo:       repo,
		cache:      cache,
		bus:        bus,
		registry:   reg,
		router:     router,
		normalizer: normalize.New(),
		anonymizer: anonymize.New(cfg.MaskColumns, cfg.DropNotes),
		scorer:     scoring.FromConfig(cfg, logger),
		trainer:    train.NewTrainer(reg, logger),
		logger:     logger.With("component", "pipeline"),
		tracer:     otel.Tracer("kestrel/pipeline"),
	}
}

// Ingest reads a CSV batch, normalizes it onto the canonical schema and
// persists the new run's intake cases. The returned error may be a
// non-masking ErrPersistence when only the stage artifact write failed.
func (p *Pipeline) Ingest(ctx context.Context, tenantID string, src io.Reader) (*domain.Run, []*domain.Case, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.ingest")
	defer span.End()

	table, err := normalize.ReadCSV(src)
	if err != nil {
		return nil, nil, err
	}
	normalized, err := p.normalizer.Normalize(table)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	run := &domain.Run{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Stage:     domain.StageIntake,
		CaseCount: normalized.Len(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	cases := normalize.ToCases(normalized, tenantID, run.ID, now)

	if err := p.repo.SaveRun(ctx, tenantID, run); err != nil {
		return nil, nil, err
	}
	if err := p.repo.SaveCases(ctx, tenantID, cases); err != nil {
		return nil, nil, err
	}

	p.publish(ctx, tenantID, domain.TopicBatchIngested, map[string]any{
		"run_id": run.ID,
		"cases":  run.CaseCount,
	})
	p.logger.Info("batch ingested", "tenant_id", tenantID, "run_id", run.ID, "cases", run.CaseCount)

	return run, cases, p.writeStageArtifact(run.ID, domain.StageIntake, cases)
}

// Anonymize masks the configured sensitive fields on every case in the run.
func (p *Pipeline) Anonymize(ctx context.Context, tenantID, runID string) ([]*domain.Case, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.anonymize")
	defer span.End()

	run, cases, err := p.loadRun(ctx, tenantID, runID, domain.StageIntake)
	if err != nil {
		return nil, err
	}

	p.anonymizer.ApplyToCases(cases)
	if err := p.saveStage(ctx, tenantID, run, cases, domain.StageAnonymized); err != nil {
		return nil, err
	}
	return cases, p.writeStageArtifact(runID, domain.StageAnonymized, cases)
}

// Verify runs the KYC simulator over the run's cases. Each invocation uses
// a fresh source with the configured seed, so re-running a batch reproduces
// the exact same outcomes.
func (p *Pipeline) Verify(ctx context.Context, tenantID, runID string) ([]*domain.Case, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.verify")
	defer span.End()

	run, cases, err := p.loadRun(ctx, tenantID, runID, domain.StageAnonymized)
	if err != nil {
		return nil, err
	}

	kyc.NewSimulator(p.cfg.VerificationSeed).Verify(cases)
	if err := p.saveStage(ctx, tenantID, run, cases, domain.StageVerified); err != nil {
		return nil, err
	}
	return cases, p.writeStageArtifact(runID, domain.StageVerified, cases)
}

// Score assesses every case in the run with the heuristic engine, blending
// in the production classifier when one is promoted, then routes Review
// cases to their queues.
func (p *Pipeline) Score(ctx context.Context, tenantID, runID string) ([]*domain.Case, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.score")
	defer span.End()

	run, cases, err := p.loadRun(ctx, tenantID, runID, domain.StageVerified)
	if err != nil {
		return nil, err
	}

	model := p.productionModel(ctx, tenantID)
	p.scorer.Score(cases, model)
	if p.router != nil {
		p.router.RouteAll(cases)
	}

	if err := p.saveStage(ctx, tenantID, run, cases, domain.StageScored); err != nil {
		return nil, err
	}

	for _, c := range cases {
		if err := p.cache.SetAssessment(ctx, tenantID, c.ID, c.Assessment, assessmentTTL); err != nil {
			p.logger.Warn("failed to cache assessment", "case_id", c.ID, "error", err)
		}
	}
	p.publish(ctx, tenantID, domain.TopicCaseScored, map[string]any{
		"run_id": runID,
		"cases":  len(cases),
	})

	return cases, p.writeStageArtifact(runID, domain.StageScored, cases)
}

// TrainModel builds a labeled dataset and trains a candidate classifier
// into the trained slot. Feedback is the preferred source; without any it
// falls back to the most recent scored run.
func (p *Pipeline) TrainModel(ctx context.Context, tenantID, algorithm string) (*train.Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.train")
	defer span.End()

	samples, source, err := p.trainingSamples(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return p.trainer.Train(samples, train.Options{
		Algorithm:  algorithm,
		Threshold:  p.cfg.EscalationThreshold,
		Source:     source,
		GPUProfile: "cpu",
	})
}

// PromoteModel copies the newest trained artifact into production,
// invalidates the cached model and announces the promotion.
func (p *Pipeline) PromoteModel(ctx context.Context, tenantID string) (*domain.PromotionRecord, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.promote")
	defer span.End()

	record, err := p.registry.Promote()
	if err != nil {
		return nil, err
	}

	if err := p.cache.Delete(ctx, tenantID, domain.ProductionModelKey); err != nil {
		p.logger.Warn("failed to invalidate cached model", "error", err)
	}
	p.publish(ctx, tenantID, domain.TopicModelPromoted, map[string]any{
		"model_path":  record.ModelPath,
		"promoted_at": record.PromotedAt,
	})
	return record, nil
}

// trainingSamples selects the training source: reviewer feedback joined to
// its cases first, then the latest scored run labeled by threshold.
func (p *Pipeline) trainingSamples(ctx context.Context, tenantID string) ([]train.Sample, string, error) {
	feedback, err := p.repo.ListFeedback(ctx, tenantID)
	if err != nil {
		return nil, "", err
	}
	if len(feedback) > 0 {
		caseIndex := make(map[string]*domain.Case, len(feedback))
		for _, rec := range feedback {
			c, err := p.repo.GetCase(ctx, tenantID, rec.CaseID)
			if err != nil {
				continue // feedback may reference a case no longer stored
			}
			caseIndex[rec.CaseID] = c
		}
		if samples := train.FromFeedback(feedback, caseIndex); len(samples) > 0 {
			return samples, train.SourceFeedback, nil
		}
	}

	runs, err := p.repo.ListRuns(ctx, tenantID)
	if err != nil {
		return nil, "", err
	}
	for _, run := range runs {
		if run.Stage != domain.StageScored && run.Stage != domain.StageReviewed {
			continue
		}
		cases, err := p.repo.ListCasesByRun(ctx, tenantID, run.ID)
		if err != nil {
			return nil, "", err
		}
		if samples := train.FromCases(cases, p.cfg.EscalationThreshold); len(samples) > 0 {
			return samples, train.SourceScored, nil
		}
	}

	return nil, "", fmt.Errorf("%w: no feedback or scored cases to train on", domain.ErrInputFormat)
}

// productionModel returns the promoted classifier, or nil when none exists
// or it cannot be loaded. Scoring proceeds heuristic-only on nil.
func (p *Pipeline) productionModel(ctx context.Context, tenantID string) ml.Classifier {
	data, err := p.cache.Get(ctx, tenantID, domain.ProductionModelKey)
	if err != nil {
		p.logger.Warn("model cache read failed", "error", err)
	}
	if data == nil {
		data, err = p.registry.ProductionModel()
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			p.logger.Warn("production model unreadable", "error", err)
			return nil
		}
		if err := p.cache.Set(ctx, tenantID, domain.ProductionModelKey, data, assessmentTTL); err != nil {
			p.logger.Warn("model cache write failed", "error", err)
		}
	}

	model, err := ml.Unmarshal(data)
	if err != nil {
		p.logger.Warn("production model artifact corrupt, scoring heuristic-only", "error", err)
		return nil
	}
	return model
}

// loadRun fetches a run and its cases, enforcing the stage precondition.
func (p *Pipeline) loadRun(ctx context.Context, tenantID, runID string, required domain.LineageStage) (*domain.Run, []*domain.Case, error) {
	run, err := p.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Stage.Rank() < required.Rank() {
		return nil, nil, fmt.Errorf("run %s is at stage %s, requires %s", runID, run.Stage, required)
	}
	cases, err := p.repo.ListCasesByRun(ctx, tenantID, runID)
	if err != nil {
		return nil, nil, err
	}
	if len(cases) == 0 {
		return nil, nil, fmt.Errorf("%w: run %s has no cases", domain.ErrInputFormat, runID)
	}
	return run, cases, nil
}

// saveStage persists the advanced cases and the run's new lineage stage.
func (p *Pipeline) saveStage(ctx context.Context, tenantID string, run *domain.Run, cases []*domain.Case, stage domain.LineageStage) error {
	if err := p.repo.SaveCases(ctx, tenantID, cases); err != nil {
		return err
	}
	if stage.Rank() > run.Stage.Rank() {
		run.Stage = stage
	}
	run.UpdatedAt = time.Now().UTC()
	return p.repo.SaveRun(ctx, tenantID, run)
}

func (p *Pipeline) publish(ctx context.Context, tenantID, topic string, payload map[string]any) {
	if p.bus == nil {
		return
	}
	data, err := encodePayload(payload)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, tenantID, topic, data); err != nil {
		p.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
