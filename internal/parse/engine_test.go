package parse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pricedock/pricedock/internal/llm"
	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/tabular"
)

// scriptedBackend replays canned responses and records every call.
type scriptedBackend struct {
	responses []string
	calls     []backendCall
}

type backendCall struct {
	system string
	user   string
}

func (b *scriptedBackend) Generate(ctx context.Context, system, user string) (string, llm.Usage, error) {
	b.calls = append(b.calls, backendCall{system: system, user: user})
	if len(b.responses) == 0 {
		return "", llm.Usage{}, fmt.Errorf("no scripted response for call %d", len(b.calls))
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (b *scriptedBackend) Healthy(ctx context.Context) error { return nil }

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func testDocument() *tabular.Document {
	return &tabular.Document{Rows: [][]string{
		{"Supplier Price List 2026"},
		{"Name", "SKU", "Retail", "Category"},
		{"Drill X200", "D-100", "₽1 500.00", "Tools / Power"},
		{"", "X-1", "100", ""},
		{"Итого", "", "", ""},
	}}
}

func testEngine(backend llm.Backend) *Engine {
	return NewEngine(backend, Config{
		SampleRows:          20,
		ConfidenceThreshold: 0.7,
		StageARetries:       2,
	}, slog.New(slog.DiscardHandler))
}

const goodAnalysis = `{
	"header_rows": [0, 1],
	"data_start_row": 2,
	"data_end_row": 3,
	"column_mapping": {"name": 0, "sku": 1, "retail_price": 2, "category": 3},
	"confidence": 0.92,
	"detected_currency": "RUB"
}`

const extractionWithStragglers = `[
	{"row_index": 2, "name": "Drill X200", "sku": "D-100", "retail_price_raw": "₽1 500.00", "category": "Tools / Power"},
	{"row_index": 3, "name": "", "sku": "X-1", "retail_price_raw": "100"},
	{"row_index": 4, "name": "Итого"}
]`

func TestParse_TargetedPath(t *testing.T) {
	backend := &scriptedBackend{responses: []string{goodAnalysis, extractionWithStragglers}}
	engine := testEngine(backend)

	result, err := engine.Parse(context.Background(), testDocument(), Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if result.Fallback {
		t.Error("Fallback = true, want targeted path")
	}
	if len(backend.calls) != 2 {
		t.Fatalf("got %d backend calls, want 2", len(backend.calls))
	}
	if backend.calls[1].system != llm.ExtractSystemPrompt {
		t.Error("second call did not use the extraction system prompt")
	}

	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(result.Records), result.Records)
	}
	rec := result.Records[0]
	if rec.Name != "Drill X200" || rec.SKU != "D-100" {
		t.Errorf("record = %+v", rec)
	}
	if rec.RetailPrice == nil || !rec.RetailPrice.Equal(decimalFromString(t, "1500")) {
		t.Errorf("RetailPrice = %v, want 1500", rec.RetailPrice)
	}
	if rec.CurrencyCode != "RUB" {
		t.Errorf("CurrencyCode = %q, want RUB (from detected currency)", rec.CurrencyCode)
	}
	if len(rec.CategoryPath) != 2 || rec.CategoryPath[0] != "Tools" || rec.CategoryPath[1] != "Power" {
		t.Errorf("CategoryPath = %v, want [Tools Power]", rec.CategoryPath)
	}

	// Row 3 sits inside the span but has no name: recorded, never aborts.
	if len(result.RowErrors) != 1 || result.RowErrors[0].RowIndex != 3 {
		t.Errorf("RowErrors = %+v, want one error for row 3", result.RowErrors)
	}
	// Row 4 sits outside the span: silently skipped.
	if result.Metrics.ParsedRows != 1 || result.Metrics.ErrorRows != 1 {
		t.Errorf("metrics = %+v", result.Metrics)
	}
	if result.Metrics.SkippedRows == 0 {
		t.Error("SkippedRows = 0, want rows outside the span counted")
	}
}

func TestParse_LowConfidenceFallsBack(t *testing.T) {
	lowConfidence := strings.Replace(goodAnalysis, "0.92", "0.40", 1)
	backend := &scriptedBackend{responses: []string{
		lowConfidence,
		`[{"row_index": 2, "name": "Drill X200", "retail_price_raw": "1500"}]`,
	}}
	engine := testEngine(backend)

	result, err := engine.Parse(context.Background(), testDocument(), Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !result.Fallback {
		t.Error("Fallback = false, want full-document fallback below confidence threshold")
	}
	if backend.calls[1].system != llm.FallbackSystemPrompt {
		t.Error("fallback call did not use the fallback system prompt")
	}
	if len(result.Records) != 1 {
		t.Errorf("got %d records, want 1", len(result.Records))
	}
}

func TestParse_MalformedAnalysisRetriesThenFallsBack(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		"this is not json",
		"still not json",
		"{ definitely broken",
		`[{"row_index": 0, "name": "Something", "retail_price_raw": "10"}]`,
	}}
	engine := testEngine(backend)

	result, err := engine.Parse(context.Background(), testDocument(), Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !result.Fallback {
		t.Error("Fallback = false, want fallback after malformed analysis")
	}
	// Initial attempt plus StageARetries, then the fallback extraction.
	if len(backend.calls) != 4 {
		t.Fatalf("got %d backend calls, want 4", len(backend.calls))
	}
	if !strings.Contains(backend.calls[1].user, strings.TrimSpace(llm.StructureRetryReminder)) {
		t.Error("retry attempt did not append the shape reminder")
	}
}

func TestParse_DegenerateSpanFallsBack(t *testing.T) {
	// data_start_row beyond the document forces the fallback even with high
	// confidence.
	degenerate := strings.Replace(goodAnalysis, `"data_start_row": 2`, `"data_start_row": 40`, 1)
	degenerate = strings.Replace(degenerate, `"data_end_row": 3`, `"data_end_row": -1`, 1)
	degenerate = strings.Replace(degenerate, `"header_rows": [0, 1]`, `"header_rows": []`, 1)
	backend := &scriptedBackend{responses: []string{
		degenerate,
		`[{"row_index": 2, "name": "Drill X200"}]`,
	}}
	engine := testEngine(backend)

	result, err := engine.Parse(context.Background(), testDocument(), Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !result.Fallback {
		t.Error("Fallback = false, want fallback on degenerate row span")
	}
}

func TestParse_AmbiguousPriceColumnDefaultsToRetail(t *testing.T) {
	// The analysis maps name and sku but misses the only price column; its
	// header carries no retail or wholesale hint.
	doc := &tabular.Document{Rows: [][]string{
		{"Наименование", "Артикул", "Цена"},
		{"Drill X200", "D-100", "1500"},
	}}
	backend := &scriptedBackend{responses: []string{
		`{"header_rows": [0], "data_start_row": 1, "data_end_row": -1,
		  "column_mapping": {"name": 0, "sku": 1}, "confidence": 0.9}`,
		`[{"row_index": 1, "name": "Drill X200", "sku": "D-100", "retail_price_raw": "1500"}]`,
	}}
	engine := testEngine(backend)

	result, err := engine.Parse(context.Background(), doc, Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	mapping := result.Analysis.ColumnMapping
	if mapping.RetailPrice == nil || *mapping.RetailPrice != 2 {
		t.Fatalf("RetailPrice = %v, want column 2", mapping.RetailPrice)
	}
	// Stage B must see the reconciled mapping, not the one as returned.
	if !strings.Contains(backend.calls[1].user, `"retail_price":2`) {
		t.Error("extraction prompt missing the reconciled price column")
	}
}

func TestReconcilePriceColumns(t *testing.T) {
	col := func(i int) *int { return &i }

	tests := []struct {
		name          string
		headers       []string
		mapping       models.ColumnMapping
		wantRetail    *int
		wantWholesale *int
	}{
		{
			name:          "wholesale header fills the missing slot",
			headers:       []string{"Название", "Опт. цена", "Розница"},
			mapping:       models.ColumnMapping{Name: col(0), RetailPrice: col(2)},
			wantRetail:    col(2),
			wantWholesale: col(1),
		},
		{
			name:       "single ambiguous price column becomes retail",
			headers:    []string{"Name", "SKU", "Price"},
			mapping:    models.ColumnMapping{Name: col(0), SKU: col(1)},
			wantRetail: col(2),
		},
		{
			name:    "two ambiguous price columns stay unassigned",
			headers: []string{"Name", "Цена 1", "Цена 2"},
			mapping: models.ColumnMapping{Name: col(0)},
		},
		{
			name:       "mapped columns are left alone",
			headers:    []string{"Name", "Price"},
			mapping:    models.ColumnMapping{Name: col(0), RetailPrice: col(1)},
			wantRetail: col(1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis := &models.StructureAnalysis{
				HeaderRows:    []int{0},
				DataStartRow:  1,
				DataEndRow:    -1,
				ColumnMapping: tt.mapping,
			}
			doc := &tabular.Document{Rows: [][]string{tt.headers, {"x", "1", "2"}}}
			reconcilePriceColumns(doc, analysis)

			got := analysis.ColumnMapping
			if (got.RetailPrice == nil) != (tt.wantRetail == nil) ||
				(got.RetailPrice != nil && *got.RetailPrice != *tt.wantRetail) {
				t.Errorf("RetailPrice = %v, want %v", got.RetailPrice, tt.wantRetail)
			}
			if (got.WholesalePrice == nil) != (tt.wantWholesale == nil) ||
				(got.WholesalePrice != nil && *got.WholesalePrice != *tt.wantWholesale) {
				t.Errorf("WholesalePrice = %v, want %v", got.WholesalePrice, tt.wantWholesale)
			}
		})
	}
}

func TestAnalyzeStructure_IdempotentPrompt(t *testing.T) {
	backend := &scriptedBackend{responses: []string{goodAnalysis}}
	engine := testEngine(backend)
	doc := testDocument()

	first, _, err := engine.AnalyzeStructure(context.Background(), doc)
	if err != nil {
		t.Fatalf("AnalyzeStructure() error = %v", err)
	}

	backend2 := &scriptedBackend{responses: []string{goodAnalysis}}
	engine2 := testEngine(backend2)
	second, _, err := engine2.AnalyzeStructure(context.Background(), doc)
	if err != nil {
		t.Fatalf("AnalyzeStructure() second run error = %v", err)
	}

	// Same document, same configuration: the request envelope must be
	// byte-identical so repeated analyses are comparable.
	if backend.calls[0].user != backend2.calls[0].user {
		t.Error("structure analysis prompt differs between identical runs")
	}
	if first.DataStartRow != second.DataStartRow || first.Confidence != second.Confidence {
		t.Error("identical responses decoded differently")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced object", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around array", "Here you go:\n[1,2]\nHope that helps!", "[1,2]"},
		{"no json returns input", "nothing here", "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open, closing := byte('{'), byte('}')
			if strings.Contains(tt.want, "[") {
				open, closing = '[', ']'
			}
			if got := extractJSON(tt.in, open, closing); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
