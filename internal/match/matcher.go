// Package match reconciles freshly extracted records against the existing
// supplier catalog.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/pricedock/pricedock/internal/models"
)

// TextEmbedder produces embedding vectors for product names. Implemented by
// llm.Embedder; tests substitute a fake.
type TextEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds the similarity thresholds for embedding-based matching.
type Config struct {
	// MatchThreshold is the cosine similarity above which a name pair is
	// considered the same product.
	MatchThreshold float64
	// ReviewThreshold is the similarity above which a pair is routed to
	// human review instead of being created as a new item.
	ReviewThreshold float64
}

// Matcher decides, for each extracted record, whether it updates an existing
// catalog item, needs review, or creates a new item.
type Matcher struct {
	embedder TextEmbedder
	cfg      Config
	logger   *slog.Logger
}

// New creates a matcher. embedder may be nil, in which case only exact SKU
// matching is performed regardless of job options.
func New(embedder TextEmbedder, cfg Config, logger *slog.Logger) *Matcher {
	return &Matcher{embedder: embedder, cfg: cfg, logger: logger}
}

// Result is one matching decision with the similarity evidence behind it.
type Result struct {
	Item       models.CatalogItem
	Similarity float64
	MatchedSKU string
}

// Match reconciles records against the supplier's existing catalog items.
// Exact SKU equality always wins. When useML is set and an embedder is
// available, records without a SKU hit fall back to name-embedding cosine
// similarity against the existing catalog.
func (m *Matcher) Match(ctx context.Context, supplierID, jobID string, records []models.NormalizedRecord, existing []models.CatalogItem, useML bool) ([]Result, error) {
	bySKU := make(map[string]models.CatalogItem, len(existing))
	for _, item := range existing {
		if item.SKU != "" {
			bySKU[strings.ToLower(item.SKU)] = item
		}
	}

	results := make([]Result, 0, len(records))
	var unresolved []int

	now := time.Now().UTC()
	for i, rec := range records {
		item := models.CatalogItem{
			SupplierID: supplierID,
			SKU:        rec.SKU,
			Record:     rec,
			JobID:      jobID,
			UpdatedAt:  now,
		}

		if rec.SKU != "" {
			if hit, ok := bySKU[strings.ToLower(rec.SKU)]; ok {
				item.Outcome = models.MatchOutcomeMatched
				results = append(results, Result{Item: item, Similarity: 1, MatchedSKU: hit.SKU})
				continue
			}
		}

		item.Outcome = models.MatchOutcomeNew
		results = append(results, Result{Item: item})
		unresolved = append(unresolved, i)
	}

	if !useML || m.embedder == nil || len(unresolved) == 0 || len(existing) == 0 {
		return results, nil
	}

	if err := m.resolveBySimilarity(ctx, results, unresolved, existing); err != nil {
		// Similarity is an enhancement over SKU matching; a failed
		// embedding call degrades to the SKU-only outcomes.
		m.logger.Warn("similarity matching failed, keeping sku-only outcomes",
			"supplier_id", supplierID, "error", err)
	}
	return results, nil
}

func (m *Matcher) resolveBySimilarity(ctx context.Context, results []Result, unresolved []int, existing []models.CatalogItem) error {
	catalogNames := make([]string, len(existing))
	for i, item := range existing {
		catalogNames[i] = item.Record.Name
	}
	catalogVecs, err := m.embedder.EmbedBatch(ctx, catalogNames)
	if err != nil {
		return fmt.Errorf("embed catalog names: %w", err)
	}

	recordNames := make([]string, len(unresolved))
	for i, idx := range unresolved {
		recordNames[i] = results[idx].Item.Record.Name
	}
	recordVecs, err := m.embedder.EmbedBatch(ctx, recordNames)
	if err != nil {
		return fmt.Errorf("embed record names: %w", err)
	}

	for i, idx := range unresolved {
		best, bestSim := -1, -1.0
		for j, cv := range catalogVecs {
			sim := cosineSimilarity(recordVecs[i], cv)
			if sim > bestSim {
				best, bestSim = j, sim
			}
		}
		if best < 0 {
			continue
		}

		results[idx].Similarity = bestSim
		switch {
		case bestSim >= m.cfg.MatchThreshold:
			results[idx].Item.Outcome = models.MatchOutcomeMatched
			results[idx].MatchedSKU = existing[best].SKU
			// Inherit the catalog key so the upsert lands on the
			// matched item rather than creating a duplicate.
			if results[idx].Item.SKU == "" {
				results[idx].Item.SKU = existing[best].SKU
			}
		case bestSim >= m.cfg.ReviewThreshold:
			results[idx].Item.Outcome = models.MatchOutcomeReview
			results[idx].MatchedSKU = existing[best].SKU
		}
	}
	return nil
}

// cosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either has zero magnitude or the dimensions differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
