package fetch

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var sheetURLPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// DriveExporter exports hosted spreadsheets through the Drive API. Export
// always targets xlsx: a single-file tabular format that preserves sheets and
// cell types, unlike a text export.
type DriveExporter struct {
	files *drive.FilesService
}

// NewDriveExporter builds an exporter using application default credentials.
func NewDriveExporter(ctx context.Context, opts ...option.ClientOption) (*DriveExporter, error) {
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DriveExporter{files: srv.Files}, nil
}

// ExportXLSX downloads the spreadsheet identified by locator (a share URL or
// bare file id) as xlsx bytes.
func (e *DriveExporter) ExportXLSX(ctx context.Context, locator string) (io.ReadCloser, error) {
	fileID, err := SheetFileID(locator)
	if err != nil {
		return nil, err
	}
	resp, err := e.files.Export(fileID, xlsxMIME).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("drive export %s: %w", fileID, err)
	}
	return resp.Body, nil
}

// SheetFileID extracts the Drive file id from a spreadsheet share URL, or
// returns the locator unchanged when it already looks like a bare id.
func SheetFileID(locator string) (string, error) {
	if m := sheetURLPattern.FindStringSubmatch(locator); m != nil {
		return m[1], nil
	}
	if strings.ContainsAny(locator, "/?&= ") {
		return "", fmt.Errorf("cannot extract spreadsheet id from %q", locator)
	}
	return locator, nil
}
