// Package registry manages model artifact storage across two named slots:
// "trained" holds candidate artifacts, "production" holds the single
// artifact consumed by default scoring.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Fixed file names inside the production slot. There is exactly one
// production artifact at a time; promotion overwrites it in place.
const (
	ProductionModelFile = "model.json"
	PromotionMetaFile   = "promotion.json"
)

const reportSuffix = "_report.json"

// Registry is a filesystem-backed model store.
type Registry struct {
	root   string
	logger *slog.Logger
}

// New creates the registry root and both slot directories.
func New(root string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{root: root, logger: logger.With("component", "registry")}
	for _, slot := range []domain.ModelSlot{domain.SlotTrained, domain.SlotProduction} {
		if err := os.MkdirAll(r.SlotDir(slot), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create slot %s: %v", domain.ErrPersistence, slot, err)
		}
	}
	return r, nil
}

// SlotDir returns the directory backing a slot.
func (r *Registry) SlotDir(slot domain.ModelSlot) string {
	return filepath.Join(r.root, string(slot))
}

// ArtifactName builds the canonical trained-artifact file name:
// algorithm plus UTC creation timestamp.
func ArtifactName(algorithm string, createdAt time.Time) string {
	return fmt.Sprintf("%s_%s.json", algorithm, createdAt.UTC().Format("20060102150405"))
}

// WriteTrained writes a serialized model into the trained slot and returns
// the artifact path.
func (r *Registry) WriteTrained(name string, data []byte) (string, error) {
	path := filepath.Join(r.SlotDir(domain.SlotTrained), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write artifact %s: %v", domain.ErrPersistence, name, err)
	}
	r.logger.Info("trained artifact written", "artifact", name)
	return path, nil
}

// WriteReport writes the training report next to its model artifact.
func (r *Registry) WriteReport(modelName string, report *domain.TrainingReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode report for %s: %v", domain.ErrPersistence, modelName, err)
	}
	name := strings.TrimSuffix(modelName, ".json") + reportSuffix
	path := filepath.Join(r.SlotDir(domain.SlotTrained), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write report %s: %v", domain.ErrPersistence, name, err)
	}
	return path, nil
}

// WriteHoldout writes the held-out predictions CSV next to its model
// artifact.
func (r *Registry) WriteHoldout(modelName string, preds []domain.HoldoutPrediction) (string, error) {
	var b strings.Builder
	b.WriteString("actual,predicted,score\n")
	for _, p := range preds {
		fmt.Fprintf(&b, "%d,%d,%g\n", p.Actual, p.Predicted, p.Score)
	}
	name := strings.TrimSuffix(modelName, ".json") + "_holdout.csv"
	path := filepath.Join(r.SlotDir(domain.SlotTrained), name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("%w: write holdout %s: %v", domain.ErrPersistence, name, err)
	}
	return path, nil
}

// List returns the model artifacts in a slot, most recently modified first.
// Reports and holdout files are not artifacts and are excluded.
func (r *Registry) List(slot domain.ModelSlot) ([]domain.ModelArtifact, error) {
	entries, err := os.ReadDir(r.SlotDir(slot))
	if err != nil {
		return nil, fmt.Errorf("%w: read slot %s: %v", domain.ErrPersistence, slot, err)
	}

	var artifacts []domain.ModelArtifact
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.HasSuffix(name, reportSuffix) || name == PromotionMetaFile {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, domain.ModelArtifact{
			ModelID:   strings.TrimSuffix(name, ".json"),
			Algorithm: algorithmOf(name),
			Path:      filepath.Join(r.SlotDir(slot), name),
			Slot:      slot,
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if !artifacts[i].CreatedAt.Equal(artifacts[j].CreatedAt) {
			return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
		}
		return artifacts[i].ModelID > artifacts[j].ModelID
	})
	return artifacts, nil
}

// Promote copies the most recently trained artifact into the production
// slot, overwriting the current production model, and records provenance.
// Selection is strictly by creation time; metrics are never compared.
// There is no rollback: promote an older artifact again to go back.
func (r *Registry) Promote() (*domain.PromotionRecord, error) {
	trained, err := r.List(domain.SlotTrained)
	if err != nil {
		return nil, err
	}
	if len(trained) == 0 {
		return nil, fmt.Errorf("no trained artifacts to promote")
	}
	newest := trained[0]

	data, err := os.ReadFile(newest.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact %s: %v", domain.ErrPersistence, newest.ModelID, err)
	}
	prodPath := filepath.Join(r.SlotDir(domain.SlotProduction), ProductionModelFile)
	if err := os.WriteFile(prodPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write production model: %v", domain.ErrPersistence, err)
	}

	record := &domain.PromotionRecord{
		ModelPath:  newest.Path,
		PromotedAt: time.Now().UTC().Format(time.RFC3339),
		Report:     r.readReport(newest.ModelID),
	}
	meta, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encode promotion record: %v", domain.ErrPersistence, err)
	}
	metaPath := filepath.Join(r.SlotDir(domain.SlotProduction), PromotionMetaFile)
	if err := os.WriteFile(metaPath, meta, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write promotion record: %v", domain.ErrPersistence, err)
	}

	r.logger.Info("model promoted", "artifact", newest.ModelID)
	return record, nil
}

// ProductionModel returns the serialized production artifact, or
// os.ErrNotExist when nothing has been promoted yet.
func (r *Registry) ProductionModel() ([]byte, error) {
	return os.ReadFile(filepath.Join(r.SlotDir(domain.SlotProduction), ProductionModelFile))
}

// PromotionMeta returns the current promotion provenance record, or nil
// when nothing has been promoted yet.
func (r *Registry) PromotionMeta() (*domain.PromotionRecord, error) {
	data, err := os.ReadFile(filepath.Join(r.SlotDir(domain.SlotProduction), PromotionMetaFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read promotion record: %v", domain.ErrPersistence, err)
	}
	var record domain.PromotionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: decode promotion record: %v", domain.ErrPersistence, err)
	}
	return &record, nil
}

// readReport loads the training report for an artifact if it exists.
func (r *Registry) readReport(modelID string) *domain.TrainingReport {
	path := filepath.Join(r.SlotDir(domain.SlotTrained), modelID+reportSuffix)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var report domain.TrainingReport
	if err := json.Unmarshal(data, &report); err != nil {
		r.logger.Warn("unreadable training report", "artifact", modelID, "error", err)
		return nil
	}
	return &report
}

func algorithmOf(name string) string {
	if i := strings.Index(name, "_"); i > 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, ".json")
}
