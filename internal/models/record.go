package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ColumnMapping assigns column indices to known field purposes. Each field is
// optional; a nil index means the structure analysis did not find a column
// for that purpose. Unknown columns are never guessed downstream.
type ColumnMapping struct {
	Name           *int `json:"name,omitempty"`
	SKU            *int `json:"sku,omitempty"`
	RetailPrice    *int `json:"retail_price,omitempty"`
	WholesalePrice *int `json:"wholesale_price,omitempty"`
	Category       *int `json:"category,omitempty"`
	Unit           *int `json:"unit,omitempty"`
	Description    *int `json:"description,omitempty"`
	Brand          *int `json:"brand,omitempty"`
}

// Empty reports whether no column purpose was identified at all.
func (m ColumnMapping) Empty() bool {
	return m.Name == nil && m.SKU == nil && m.RetailPrice == nil &&
		m.WholesalePrice == nil && m.Category == nil && m.Unit == nil &&
		m.Description == nil && m.Brand == nil
}

// StructureAnalysis is the Stage A result: where the data lives in the
// document and which column serves which purpose. It is ephemeral; it feeds
// Stage B and is not persisted beyond the job.
type StructureAnalysis struct {
	HeaderRows       []int         `json:"header_rows"`
	DataStartRow     int           `json:"data_start_row"`
	DataEndRow       int           `json:"data_end_row"` // -1 means end of document
	ColumnMapping    ColumnMapping `json:"column_mapping"`
	Confidence       float64       `json:"confidence"`
	DetectedCurrency string        `json:"detected_currency,omitempty"`
	HasMergedCells   bool          `json:"has_merged_cells"`
	Notes            string        `json:"notes,omitempty"`
}

// Validate checks the structural invariants of a Stage A response.
func (a *StructureAnalysis) Validate() error {
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", a.Confidence)
	}
	if a.DataStartRow < 0 {
		return fmt.Errorf("data_start_row %d is negative", a.DataStartRow)
	}
	if a.DataEndRow != -1 && a.DataEndRow < a.DataStartRow {
		return fmt.Errorf("degenerate row span [%d,%d]", a.DataStartRow, a.DataEndRow)
	}
	for _, h := range a.HeaderRows {
		if h >= a.DataStartRow {
			return fmt.Errorf("header row %d not above data_start_row %d", h, a.DataStartRow)
		}
	}
	return nil
}

// NormalizedRecord is the canonical parsed-row shape emitted by both the
// targeted and the fallback parsing paths.
type NormalizedRecord struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SKU         string `json:"sku,omitempty"`

	RetailPrice    *decimal.Decimal `json:"retail_price,omitempty"`
	WholesalePrice *decimal.Decimal `json:"wholesale_price,omitempty"`
	CurrencyCode   string           `json:"currency_code,omitempty"`

	CategoryPath []string `json:"category_path,omitempty"`
	RawComposite string   `json:"raw_composite,omitempty"`

	Unit            string         `json:"unit,omitempty"`
	Brand           string         `json:"brand,omitempty"`
	Characteristics map[string]any `json:"characteristics,omitempty"`

	// RawSourceRow keeps the untouched source cells for debugging.
	RawSourceRow []string `json:"raw_source_row,omitempty"`
}

// Category returns the legacy single-category view of CategoryPath.
func (r *NormalizedRecord) Category() string {
	if len(r.CategoryPath) == 0 {
		return ""
	}
	return r.CategoryPath[len(r.CategoryPath)-1]
}

// Price returns the legacy single-price view: retail when present, otherwise
// wholesale. Keeping the two representations derivable from each other is a
// data-model invariant.
func (r *NormalizedRecord) Price() *decimal.Decimal {
	if r.RetailPrice != nil {
		return r.RetailPrice
	}
	return r.WholesalePrice
}

// ProvenanceSidecar describes a downloaded file's origin and integrity. It is
// written next to the file after the bytes land and is immutable afterwards.
type ProvenanceSidecar struct {
	OriginalName  string     `json:"original_name"`
	SourceKind    SourceKind `json:"source_kind"`
	SourceLocator string     `json:"source_locator"`
	SupplierID    string     `json:"supplier_id"`
	FileType      FileType   `json:"file_type"`
	Size          int64      `json:"size"`
	Checksum      string     `json:"checksum"`
	DownloadedAt  time.Time  `json:"downloaded_at"`
	JobID         string     `json:"job_id"`
}

// MatchOutcome is the terminal per-row result of the matching phase.
type MatchOutcome string

const (
	MatchOutcomeMatched MatchOutcome = "matched"
	MatchOutcomeReview  MatchOutcome = "review"
	MatchOutcomeNew     MatchOutcome = "new"
)

// CatalogItem is the row shape handed to the catalog store, keyed by
// (supplier_id, sku). The relational catalog schema itself is owned elsewhere.
type CatalogItem struct {
	SupplierID string           `json:"supplier_id"`
	SKU        string           `json:"sku"`
	Record     NormalizedRecord `json:"record"`
	Outcome    MatchOutcome     `json:"outcome"`
	JobID      string           `json:"job_id"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
