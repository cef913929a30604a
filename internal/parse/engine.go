package parse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pricedock/pricedock/internal/llm"
	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/tabular"
)

// ErrMalformedAnalysis indicates Stage A never produced a well-formed
// structure analysis within its retry budget. Callers fall back to
// full-document parsing.
var ErrMalformedAnalysis = errors.New("structure analysis malformed after retries")

// Config holds the tunables of the two-stage engine.
type Config struct {
	SampleRows          int
	ConfidenceThreshold float64
	StageARetries       int
}

// Options carries per-job parsing knobs.
type Options struct {
	DefaultCurrency    string
	CompositeDelimiter string
}

// Engine runs structure analysis (Stage A), targeted extraction (Stage B),
// and the full-document fallback against one inference backend.
type Engine struct {
	backend llm.Backend
	cfg     Config
	logger  *slog.Logger
}

// NewEngine creates a parsing engine.
func NewEngine(backend llm.Backend, cfg Config, logger *slog.Logger) *Engine {
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 20
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.StageARetries <= 0 {
		cfg.StageARetries = 3
	}
	return &Engine{backend: backend, cfg: cfg, logger: logger}
}

// RawRecord is the wire shape Stage B and the fallback parser request from
// the backend. Price cells arrive verbatim; normalization is deterministic
// post-processing.
type RawRecord struct {
	RowIndex          int            `json:"row_index"`
	Name              string         `json:"name"`
	SKU               string         `json:"sku"`
	RetailPriceRaw    string         `json:"retail_price_raw"`
	WholesalePriceRaw string         `json:"wholesale_price_raw"`
	Category          string         `json:"category"`
	RawComposite      string         `json:"raw_composite"`
	Unit              string         `json:"unit"`
	Brand             string         `json:"brand"`
	Description       string         `json:"description"`
	Characteristics   map[string]any `json:"characteristics"`
}

// Result is the outcome of a full parsing run.
type Result struct {
	Records   []models.NormalizedRecord
	RowErrors []models.RowError
	Analysis  *models.StructureAnalysis
	Fallback  bool
	Metrics   models.ParsingMetrics
}

// Parse runs the two-stage pipeline over a document: Stage A, the confidence
// gate, then either targeted extraction or the full-document fallback.
func (e *Engine) Parse(ctx context.Context, doc *tabular.Document, opts Options) (*Result, error) {
	start := time.Now()
	result := &Result{Metrics: models.ParsingMetrics{
		TotalRows: len(doc.Rows),
		StageMs:   map[string]int64{},
	}}

	stageAStart := time.Now()
	analysis, usageA, err := e.AnalyzeStructure(ctx, doc)
	result.Metrics.StageMs["structure_analysis"] = time.Since(stageAStart).Milliseconds()
	result.Metrics.StageATokens = usageA.InputTokens + usageA.OutputTokens

	useFallback := false
	switch {
	case errors.Is(err, ErrMalformedAnalysis):
		e.logger.Warn("structure analysis malformed, using fallback parser")
		useFallback = true
	case err != nil:
		return nil, err
	case analysis.Confidence < e.cfg.ConfidenceThreshold:
		e.logger.Info("structure confidence below threshold, using fallback parser",
			"confidence", analysis.Confidence, "threshold", e.cfg.ConfidenceThreshold)
		useFallback = true
	case degenerateSpan(analysis, len(doc.Rows)):
		e.logger.Warn("degenerate data row span, using fallback parser",
			"data_start_row", analysis.DataStartRow, "data_end_row", analysis.DataEndRow)
		useFallback = true
	}

	if analysis != nil {
		result.Analysis = analysis
		if opts.DefaultCurrency == "" && analysis.DetectedCurrency != "" {
			opts.DefaultCurrency = analysis.DetectedCurrency
		}
	}

	if !useFallback {
		reconcilePriceColumns(doc, analysis)
	}

	stageBStart := time.Now()
	var raws []RawRecord
	var usageB llm.Usage
	if useFallback {
		result.Fallback = true
		raws, usageB, err = e.fallbackExtract(ctx, doc)
		result.Metrics.StageMs["fallback_extraction"] = time.Since(stageBStart).Milliseconds()
	} else {
		raws, usageB, err = e.targetedExtract(ctx, doc, analysis)
		result.Metrics.StageMs["targeted_extraction"] = time.Since(stageBStart).Milliseconds()
	}
	if err != nil {
		return nil, err
	}
	result.Metrics.StageBTokens = usageB.InputTokens + usageB.OutputTokens

	e.normalizeAll(doc, raws, analysis, useFallback, opts, result)

	result.Metrics.DurationMs = time.Since(start).Milliseconds()
	result.Metrics.FieldExtractionRate = fieldExtractionRate(result.Records)
	return result, nil
}

// AnalyzeStructure samples the document head and requests a structure
// analysis. A malformed response earns up to StageARetries further attempts,
// each with an explicit reminder of the expected shape, before
// ErrMalformedAnalysis is returned. Low confidence is not retried here; the
// caller's gate handles it.
func (e *Engine) AnalyzeStructure(ctx context.Context, doc *tabular.Document) (*models.StructureAnalysis, llm.Usage, error) {
	sample := tabular.Render(doc.Sample(e.cfg.SampleRows), 0)
	prompt := fmt.Sprintf(llm.StructureUserPromptTemplate, sample)

	var total llm.Usage
	for attempt := 0; attempt <= e.cfg.StageARetries; attempt++ {
		if attempt > 0 {
			prompt += llm.StructureRetryReminder
		}

		raw, usage, err := e.backend.Generate(ctx, llm.StructureSystemPrompt, prompt)
		total.InputTokens += usage.InputTokens
		total.OutputTokens += usage.OutputTokens
		if err != nil {
			return nil, total, fmt.Errorf("structure analysis call: %w", err)
		}

		var analysis models.StructureAnalysis
		if err := json.Unmarshal([]byte(extractJSON(raw, '{', '}')), &analysis); err != nil {
			e.logger.Warn("structure analysis response not valid JSON", "attempt", attempt+1, "error", err)
			continue
		}
		if err := analysis.Validate(); err != nil {
			e.logger.Warn("structure analysis failed validation", "attempt", attempt+1, "error", err)
			continue
		}
		return &analysis, total, nil
	}
	return nil, total, ErrMalformedAnalysis
}

// targetedExtract sends only the identified data rows plus the column
// mapping. Bounding the context this way is the engine's main token-economy
// mechanism.
func (e *Engine) targetedExtract(ctx context.Context, doc *tabular.Document, analysis *models.StructureAnalysis) ([]RawRecord, llm.Usage, error) {
	rows := doc.Slice(analysis.DataStartRow, analysis.DataEndRow)
	mapping, err := json.Marshal(analysis.ColumnMapping)
	if err != nil {
		return nil, llm.Usage{}, fmt.Errorf("marshal column mapping: %w", err)
	}
	prompt := fmt.Sprintf(llm.ExtractUserPromptTemplate, string(mapping), tabular.Render(rows, analysis.DataStartRow))

	raw, usage, err := e.backend.Generate(ctx, llm.ExtractSystemPrompt, prompt)
	if err != nil {
		return nil, usage, fmt.Errorf("targeted extraction call: %w", err)
	}
	records, err := decodeRawRecords(raw)
	if err != nil {
		return nil, usage, fmt.Errorf("targeted extraction response: %w", err)
	}
	return records, usage, nil
}

// fallbackExtract re-parses the whole document without column hints: worse
// token economy, higher completion guarantee.
func (e *Engine) fallbackExtract(ctx context.Context, doc *tabular.Document) ([]RawRecord, llm.Usage, error) {
	prompt := fmt.Sprintf(llm.FallbackUserPromptTemplate, tabular.Render(doc.Rows, 0))

	raw, usage, err := e.backend.Generate(ctx, llm.FallbackSystemPrompt, prompt)
	if err != nil {
		return nil, usage, fmt.Errorf("fallback extraction call: %w", err)
	}
	records, err := decodeRawRecords(raw)
	if err != nil {
		return nil, usage, fmt.Errorf("fallback extraction response: %w", err)
	}
	return records, usage, nil
}

// normalizeAll post-processes raw records into normalized ones. Rows outside
// the analyzed span are excluded; rows inside it that fail normalization are
// recorded individually as error rows and never abort the batch.
func (e *Engine) normalizeAll(doc *tabular.Document, raws []RawRecord, analysis *models.StructureAnalysis, fallback bool, opts Options, result *Result) {
	for _, raw := range raws {
		if !fallback && analysis != nil {
			end := analysis.DataEndRow
			if end == -1 {
				end = len(doc.Rows) - 1
			}
			if raw.RowIndex < analysis.DataStartRow || raw.RowIndex > end {
				result.Metrics.SkippedRows++
				continue
			}
		}

		record, err := e.normalize(raw, opts)
		if err != nil {
			result.RowErrors = append(result.RowErrors, models.RowError{
				RowIndex: raw.RowIndex,
				Raw:      sourceRow(doc, raw.RowIndex),
				Reason:   err.Error(),
			})
			result.Metrics.ErrorRows++
			continue
		}
		if raw.RowIndex >= 0 && raw.RowIndex < len(doc.Rows) {
			record.RawSourceRow = doc.Rows[raw.RowIndex]
		}
		result.Records = append(result.Records, record)
		result.Metrics.ParsedRows++
	}

	if !fallback && analysis != nil {
		counted := result.Metrics.ParsedRows + result.Metrics.ErrorRows + result.Metrics.SkippedRows
		if rest := result.Metrics.TotalRows - counted; rest > 0 {
			// header rows, trailing notes, everything outside the span
			result.Metrics.SkippedRows += rest
		}
	} else if fallback {
		counted := result.Metrics.ParsedRows + result.Metrics.ErrorRows
		if rest := result.Metrics.TotalRows - counted; rest > 0 {
			result.Metrics.SkippedRows += rest
		}
	}
}

// normalize applies the deterministic post-processors to one raw record.
func (e *Engine) normalize(raw RawRecord, opts Options) (models.NormalizedRecord, error) {
	record := models.NormalizedRecord{
		Name:            strings.TrimSpace(raw.Name),
		Description:     strings.TrimSpace(raw.Description),
		SKU:             strings.TrimSpace(raw.SKU),
		Unit:            strings.TrimSpace(raw.Unit),
		Brand:           strings.TrimSpace(raw.Brand),
		Characteristics: raw.Characteristics,
	}

	if raw.RawComposite != "" {
		comp := SplitComposite(raw.RawComposite, opts.CompositeDelimiter)
		record.RawComposite = comp.RawComposite
		record.CategoryPath = comp.CategoryPath
		if record.Name == "" {
			record.Name = comp.Name
		}
		if record.Description == "" {
			record.Description = comp.Description
		}
	}
	if len(record.CategoryPath) == 0 && strings.TrimSpace(raw.Category) != "" {
		record.CategoryPath = splitHierarchy(strings.TrimSpace(raw.Category))
	}

	if record.Name == "" {
		return models.NormalizedRecord{}, fmt.Errorf("row %d: no product name extracted", raw.RowIndex)
	}

	if p := ExtractPrice(raw.RetailPriceRaw, opts.DefaultCurrency); p != nil {
		amount := p.Amount
		record.RetailPrice = &amount
		record.CurrencyCode = p.CurrencyCode
	}
	if p := ExtractPrice(raw.WholesalePriceRaw, opts.DefaultCurrency); p != nil {
		amount := p.Amount
		record.WholesalePrice = &amount
		if record.CurrencyCode == "" {
			record.CurrencyCode = p.CurrencyCode
		}
	}

	return record, nil
}

// reconcilePriceColumns checks unmapped columns against header text and fills
// in price columns the structure analysis missed. When the document has
// exactly one price column and its header carries no retail or wholesale
// hint, that column is the retail price.
func reconcilePriceColumns(doc *tabular.Document, analysis *models.StructureAnalysis) {
	headerRow := -1
	for _, h := range analysis.HeaderRows {
		if h > headerRow {
			headerRow = h
		}
	}
	if headerRow < 0 || headerRow >= len(doc.Rows) {
		return
	}
	headers := doc.Rows[headerRow]

	m := &analysis.ColumnMapping
	mapped := map[int]bool{}
	for _, idx := range []*int{m.Name, m.SKU, m.RetailPrice, m.WholesalePrice, m.Category, m.Unit, m.Description, m.Brand} {
		if idx != nil {
			mapped[*idx] = true
		}
	}

	var ambiguous []int
	for i, header := range headers {
		if mapped[i] || !IsPriceHeader(header) {
			continue
		}
		idx := i
		switch ClassifyPriceColumn(header) {
		case PriceColumnWholesale:
			if m.WholesalePrice == nil {
				m.WholesalePrice = &idx
			}
		case PriceColumnRetail:
			if m.RetailPrice == nil {
				m.RetailPrice = &idx
			}
		default:
			ambiguous = append(ambiguous, idx)
		}
	}

	if m.RetailPrice == nil && m.WholesalePrice == nil && len(ambiguous) == 1 {
		m.RetailPrice = &ambiguous[0]
	}
}

func degenerateSpan(a *models.StructureAnalysis, totalRows int) bool {
	if a.DataStartRow >= totalRows {
		return true
	}
	end := a.DataEndRow
	if end == -1 {
		end = totalRows - 1
	}
	return end < a.DataStartRow
}

func sourceRow(doc *tabular.Document, index int) string {
	if index < 0 || index >= len(doc.Rows) {
		return ""
	}
	return strings.Join(doc.Rows[index], "\t")
}

func decodeRawRecords(response string) ([]RawRecord, error) {
	var records []RawRecord
	if err := json.Unmarshal([]byte(extractJSON(response, '[', ']')), &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// extractJSON trims prose and code fences around the outermost JSON value.
// Models occasionally wrap output despite instructions.
func extractJSON(s string, open, closing byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, closing)
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

// fieldExtractionRate computes, per field, the fraction of parsed records
// carrying a value.
func fieldExtractionRate(records []models.NormalizedRecord) map[string]float64 {
	if len(records) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, r := range records {
		if r.Name != "" {
			counts["name"]++
		}
		if r.SKU != "" {
			counts["sku"]++
		}
		if r.RetailPrice != nil {
			counts["retail_price"]++
		}
		if r.WholesalePrice != nil {
			counts["wholesale_price"]++
		}
		if len(r.CategoryPath) > 0 {
			counts["category"]++
		}
		if r.Unit != "" {
			counts["unit"]++
		}
		if r.Brand != "" {
			counts["brand"]++
		}
		if r.Description != "" {
			counts["description"]++
		}
	}
	rates := make(map[string]float64, len(counts))
	for field, n := range counts {
		rates[field] = float64(n) / float64(len(records))
	}
	return rates
}
