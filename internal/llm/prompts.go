package llm

// --- Structure analysis (Stage A) prompts ---

const StructureSystemPrompt = "You are a spreadsheet structure analyst for supplier price lists. " +
	"You identify header rows, the span of data rows, and which column serves which purpose. " +
	"You must output your response as a single valid JSON object and nothing else."

const StructureUserPromptTemplate = `Below is a sample of the first rows of a supplier price list.
Each line starts with its zero-based row index followed by tab-separated cell values.

%s

Analyze the sample and respond with exactly one JSON object of this shape:
{
  "header_rows": [int],             // zero-based indices of header rows, [] if none
  "data_start_row": int,            // zero-based index of the first data row
  "data_end_row": int,              // zero-based index of the last data row, -1 if data continues to the end of the document
  "column_mapping": {               // omit keys for columns you cannot identify
    "name": int, "sku": int, "retail_price": int, "wholesale_price": int,
    "category": int, "unit": int, "description": int, "brand": int
  },
  "confidence": float,              // 0.0 - 1.0, your confidence in this analysis
  "detected_currency": "ISO-4217 code or empty string",
  "has_merged_cells": bool,
  "notes": "anything unusual about the layout"
}

Rules:
- data_start_row must be greater than every header row index.
- Column indices are zero-based positions within a row.
- Do not include any text before or after the JSON object.`

// StructureRetryReminder is appended when a previous response failed
// validation, restating the expected shape.
const StructureRetryReminder = `

REMINDER: your previous response was not a well-formed structure analysis.
Respond with ONE valid JSON object only: keys header_rows, data_start_row,
data_end_row, column_mapping, confidence, detected_currency, has_merged_cells,
notes. No prose, no code fences.`

// --- Targeted extraction (Stage B) prompts ---

const ExtractSystemPrompt = "You are a product record extractor for supplier price lists. " +
	"Given data rows and a column mapping, you emit one structured record per data row. " +
	"You must output your response as a single valid JSON array and nothing else."

const ExtractUserPromptTemplate = `Column mapping (zero-based column index per field):
%s

Data rows, one per line, zero-based absolute row index followed by tab-separated cells:

%s

For every row, emit one JSON object:
{
  "row_index": int,                 // the absolute row index from the input
  "name": "product name",
  "sku": "article/sku or empty",
  "retail_price_raw": "price cell verbatim, with currency symbols, or empty",
  "wholesale_price_raw": "price cell verbatim or empty",
  "category": "category cell verbatim or empty",
  "raw_composite": "the composite cell verbatim when one cell packs category/name/description, else empty",
  "unit": "unit of sale or empty",
  "brand": "brand or empty",
  "description": "description or empty",
  "characteristics": {}             // any extra attribute cells, keyed by header
}

Rules:
- Copy price cells verbatim; do not normalize numbers or currencies.
- Skip no rows; if a row is unparseable, still emit an object with its row_index and an empty name.
- The final output MUST be a single valid JSON array of these objects, nothing else.`

// --- Fallback full-document prompts ---

const FallbackSystemPrompt = "You are a product record extractor for supplier price lists. " +
	"You receive an entire document with no layout hints and extract every product row you can find. " +
	"You must output your response as a single valid JSON array and nothing else."

const FallbackUserPromptTemplate = `The document below is a supplier price list whose layout could not be
determined. Lines are prefixed with their zero-based row index.

%s

Extract every product you can find. Emit a JSON array of objects with the same
shape as a targeted extraction: row_index, name, sku, retail_price_raw,
wholesale_price_raw, category, raw_composite, unit, brand, description,
characteristics. Copy price cells verbatim. Ignore header, footer, and note
rows. The output MUST be a single valid JSON array, nothing else.`
