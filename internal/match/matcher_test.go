package match

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"testing"

	"github.com/pricedock/pricedock/internal/models"
)

// fakeEmbedder maps known names to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := f.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", text)
		}
		out[i] = v
	}
	return out, nil
}

func testConfig() Config {
	return Config{MatchThreshold: 0.85, ReviewThreshold: 0.65}
}

func existingCatalog() []models.CatalogItem {
	return []models.CatalogItem{
		{
			SupplierID: "acme",
			SKU:        "D-1",
			Record:     models.NormalizedRecord{Name: "Drill X200"},
		},
	}
}

func TestMatch_ExactSKU(t *testing.T) {
	m := New(nil, testConfig(), slog.New(slog.DiscardHandler))

	records := []models.NormalizedRecord{
		{Name: "Drill X200 (2026)", SKU: "d-1"}, // sku match is case-insensitive
		{Name: "Unknown Thing", SKU: "Z-9"},
	}

	results, err := m.Match(context.Background(), "acme", "job-1", records, existingCatalog(), false)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	if results[0].Item.Outcome != models.MatchOutcomeMatched {
		t.Errorf("sku hit outcome = %s, want matched", results[0].Item.Outcome)
	}
	if results[0].MatchedSKU != "D-1" {
		t.Errorf("MatchedSKU = %q, want D-1", results[0].MatchedSKU)
	}
	// Without ML, an unknown sku is a new item.
	if results[1].Item.Outcome != models.MatchOutcomeNew {
		t.Errorf("unknown sku outcome = %s, want new", results[1].Item.Outcome)
	}
}

func TestMatch_SimilarityThresholds(t *testing.T) {
	// Vectors chosen for exact cosine similarities against the catalog
	// vector [1, 0]: identical 1.0, angled 0.8, orthogonal 0.0.
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"Drill X200":      {1, 0},
		"Drill X200 Pro":  {1, 0},
		"Drilling Set":    {0.8, 0.6},
		"Garden Hose 25m": {0, 1},
	}}
	m := New(emb, testConfig(), slog.New(slog.DiscardHandler))

	records := []models.NormalizedRecord{
		{Name: "Drill X200 Pro"},
		{Name: "Drilling Set"},
		{Name: "Garden Hose 25m"},
	}

	results, err := m.Match(context.Background(), "acme", "job-1", records, existingCatalog(), true)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	if results[0].Item.Outcome != models.MatchOutcomeMatched {
		t.Errorf("similarity 1.0 outcome = %s, want matched", results[0].Item.Outcome)
	}
	// A confident name match lands on the matched item's catalog key.
	if results[0].Item.SKU != "D-1" {
		t.Errorf("matched item SKU = %q, want inherited D-1", results[0].Item.SKU)
	}

	if results[1].Item.Outcome != models.MatchOutcomeReview {
		t.Errorf("similarity 0.8 outcome = %s, want review", results[1].Item.Outcome)
	}
	if math.Abs(results[1].Similarity-0.8) > 1e-6 {
		t.Errorf("Similarity = %v, want 0.8", results[1].Similarity)
	}

	if results[2].Item.Outcome != models.MatchOutcomeNew {
		t.Errorf("orthogonal outcome = %s, want new", results[2].Item.Outcome)
	}
}

func TestMatch_MLDisabledSkipsEmbedding(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	m := New(emb, testConfig(), slog.New(slog.DiscardHandler))

	records := []models.NormalizedRecord{{Name: "Drill X200"}}
	results, err := m.Match(context.Background(), "acme", "job-1", records, existingCatalog(), false)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times with ML disabled, want 0", emb.calls)
	}
	if results[0].Item.Outcome != models.MatchOutcomeNew {
		t.Errorf("outcome = %s, want new", results[0].Item.Outcome)
	}
}

func TestMatch_EmbeddingFailureDegrades(t *testing.T) {
	emb := &fakeEmbedder{err: fmt.Errorf("model not loaded")}
	m := New(emb, testConfig(), slog.New(slog.DiscardHandler))

	records := []models.NormalizedRecord{{Name: "Drill X200"}}
	results, err := m.Match(context.Background(), "acme", "job-1", records, existingCatalog(), true)
	if err != nil {
		t.Fatalf("Match() error = %v, embedding failure must not abort matching", err)
	}
	if results[0].Item.Outcome != models.MatchOutcomeNew {
		t.Errorf("outcome = %s, want sku-only fallback result", results[0].Item.Outcome)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"dimension mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
