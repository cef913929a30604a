// Package tabular reads stored price-list files into a uniform row grid for
// the parsing engine. It never interprets cell contents.
package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pricedock/pricedock/internal/models"
)

// Document is the raw tabular content of one stored file. Row indices are
// zero-based and match the indices used in structure analysis.
type Document struct {
	Rows [][]string
}

// Read loads the file at path into a row grid according to its declared type.
func Read(path string, fileType models.FileType) (*Document, error) {
	switch fileType {
	case models.FileTypeSpreadsheet:
		return readSpreadsheet(path)
	case models.FileTypeDelimited:
		return readDelimited(path)
	case models.FileTypeDocument:
		return readLines(path)
	default:
		return nil, fmt.Errorf("tabular: unsupported file type %q", fileType)
	}
}

// readSpreadsheet reads the first sheet of an xlsx workbook. Supplier exports
// put the price list on the first sheet; later sheets hold legalese.
func readSpreadsheet(path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("tabular: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("tabular: read sheet %q: %w", sheets[0], err)
	}
	return &Document{Rows: rows}, nil
}

func readDelimited(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: read delimited file: %w", err)
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = sniffDelimiter(string(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("tabular: parse delimited file: %w", err)
	}
	return &Document{Rows: records}, nil
}

// readLines treats an unstructured document as one column of lines so the
// fallback parser can still see all of it.
func readLines(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: read document: %w", err)
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, []string{line})
	}
	return &Document{Rows: rows}, nil
}

// sniffDelimiter picks the separator that appears most often in the first
// non-empty line. Semicolon exports are common in European price lists.
func sniffDelimiter(data string) rune {
	for _, line := range strings.Split(data, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		best, bestCount := ',', strings.Count(line, ",")
		for _, cand := range []rune{';', '\t', '|'} {
			if c := strings.Count(line, string(cand)); c > bestCount {
				best, bestCount = cand, c
			}
		}
		return best
	}
	return ','
}

// Sample returns up to n leading rows for structure analysis.
func (d *Document) Sample(n int) [][]string {
	if n <= 0 || n > len(d.Rows) {
		n = len(d.Rows)
	}
	return d.Rows[:n]
}

// Slice returns rows [start, end]. end == -1 means through the last row.
// Indices outside the document are clamped.
func (d *Document) Slice(start, end int) [][]string {
	if start < 0 {
		start = 0
	}
	if end == -1 || end >= len(d.Rows) {
		end = len(d.Rows) - 1
	}
	if start > end || start >= len(d.Rows) {
		return nil
	}
	return d.Rows[start : end+1]
}

// Render formats rows for an inference prompt, one line per row prefixed with
// its absolute index so the model can reference rows unambiguously.
func Render(rows [][]string, startIndex int) string {
	var b strings.Builder
	for i, row := range rows {
		fmt.Fprintf(&b, "%d\t%s\n", startIndex+i, strings.Join(row, "\t"))
	}
	return b.String()
}
