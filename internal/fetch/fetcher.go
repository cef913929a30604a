// Package fetch retrieves raw price-list bytes from a named source and lands
// them in the shared file store. It is a courier: bytes are never interpreted
// or re-encoded in transit, so downstream checksum verification stays valid.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pricedock/pricedock/internal/filestore"
	"github.com/pricedock/pricedock/internal/models"
)

// Error classifies a fetch failure. Transient failures (timeouts, remote 5xx)
// are retriable by the orchestrator; permanent ones surface immediately.
type Error struct {
	Transient bool
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a fetch error worth retrying.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Transient
}

func transient(err error) error { return &Error{Transient: true, Err: err} }
func permanent(err error) error { return &Error{Transient: false, Err: err} }

// Result describes a landed file.
type Result struct {
	FileReference string
	FileType      models.FileType
	Size          int64
	Checksum      string
}

// ProgressFunc receives byte counts while a download streams. total is 0 when
// the remote does not announce a length.
type ProgressFunc func(transferred, total int64)

// SheetExporter exports a hosted spreadsheet to single-file xlsx bytes.
// Implemented by drive.Exporter; swapped for a stub in tests.
type SheetExporter interface {
	ExportXLSX(ctx context.Context, locator string) (io.ReadCloser, error)
}

// Fetcher downloads from the supported source kinds into the file store.
type Fetcher struct {
	store    *filestore.Store
	http     *http.Client
	exporter SheetExporter
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Fetcher. exporter may be nil when hosted-spreadsheet sources
// are not configured.
func New(store *filestore.Store, exporter SheetExporter, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		store:    store,
		http:     &http.Client{Timeout: 5 * time.Minute},
		exporter: exporter,
		logger:   logger,
		now:      time.Now,
	}
}

// Fetch retrieves the bytes for one source and writes them plus a provenance
// sidecar into the shared store. The sidecar goes last: a file without one is
// ignorable by consumers.
func (f *Fetcher) Fetch(ctx context.Context, kind models.SourceKind, locator, supplierID, jobID string, progress ProgressFunc) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch kind {
	case models.SourceHostedSheet:
		res, err = f.fetchHostedSheet(ctx, locator, supplierID, progress)
	case models.SourceDirectURL:
		res, err = f.fetchURL(ctx, locator, supplierID, progress)
	case models.SourceLocalCopy:
		res, err = f.fetchLocal(locator, supplierID, progress)
	default:
		return nil, permanent(fmt.Errorf("unknown source kind %q", kind))
	}
	if err != nil {
		return nil, err
	}

	sc := models.ProvenanceSidecar{
		OriginalName:  originalName(kind, locator),
		SourceKind:    kind,
		SourceLocator: locator,
		SupplierID:    supplierID,
		FileType:      res.FileType,
		Size:          res.Size,
		Checksum:      res.Checksum,
		DownloadedAt:  f.now().UTC(),
		JobID:         jobID,
	}
	if err := f.store.WriteSidecar(res.FileReference, sc); err != nil {
		return nil, permanent(fmt.Errorf("write provenance sidecar: %w", err))
	}

	f.logger.Info("file landed",
		"job_id", jobID,
		"supplier_id", supplierID,
		"source_kind", kind,
		"file_reference", res.FileReference,
		"file_type", res.FileType,
		"size", res.Size)
	return res, nil
}

// fetchHostedSheet exports the remote document to xlsx so downstream parsing
// sees one normalized tabular shape. A lossy text export is never acceptable
// here.
func (f *Fetcher) fetchHostedSheet(ctx context.Context, locator, supplierID string, progress ProgressFunc) (*Result, error) {
	if f.exporter == nil {
		return nil, permanent(fmt.Errorf("no spreadsheet exporter configured"))
	}
	body, err := f.exporter.ExportXLSX(ctx, locator)
	if err != nil {
		// Export backends report quota/availability problems as plain
		// errors; treat them as transient unless auth is the cause.
		if strings.Contains(err.Error(), "auth") || strings.Contains(err.Error(), "permission") {
			return nil, permanent(fmt.Errorf("export spreadsheet: %w", err))
		}
		return nil, transient(fmt.Errorf("export spreadsheet: %w", err))
	}
	defer body.Close()

	reference := f.store.Layout(supplierID, originalName(models.SourceHostedSheet, locator), f.now())
	size, checksum, err := f.land(reference, body, 0, progress)
	if err != nil {
		return nil, err
	}
	return &Result{
		FileReference: reference,
		FileType:      models.FileTypeSpreadsheet,
		Size:          size,
		Checksum:      checksum,
	}, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, locator, supplierID string, progress ProgressFunc) (*Result, error) {
	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, permanent(fmt.Errorf("malformed source URL %q", locator))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, permanent(fmt.Errorf("build request: %w", err))
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, transient(fmt.Errorf("download %s: %w", locator, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, permanent(fmt.Errorf("download %s: auth failure (%d)", locator, resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, transient(fmt.Errorf("download %s: remote error %d", locator, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, permanent(fmt.Errorf("download %s: unexpected status %d", locator, resp.StatusCode))
	}

	total := resp.ContentLength
	if total < 0 {
		// Chunked responses report -1; progress consumers expect 0 for
		// an unknown length.
		total = 0
	}

	reference := f.store.Layout(supplierID, originalName(models.SourceDirectURL, locator), f.now())
	size, checksum, err := f.land(reference, resp.Body, total, progress)
	if err != nil {
		return nil, err
	}

	return &Result{
		FileReference: reference,
		FileType:      detectFileType(resp.Header.Get("Content-Type"), filepath.Join(f.store.Root(), reference)),
		Size:          size,
		Checksum:      checksum,
	}, nil
}

// fetchLocal copies the file verbatim. Any mutation of the byte stream would
// invalidate the checksum used for retry verification.
func (f *Fetcher) fetchLocal(locator, supplierID string, progress ProgressFunc) (*Result, error) {
	src, err := os.Open(locator)
	if err != nil {
		return nil, permanent(fmt.Errorf("open local source: %w", err))
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, permanent(fmt.Errorf("stat local source: %w", err))
	}

	reference := f.store.Layout(supplierID, filepath.Base(locator), f.now())
	size, checksum, err := f.land(reference, src, info.Size(), progress)
	if err != nil {
		return nil, err
	}

	return &Result{
		FileReference: reference,
		FileType:      detectFileType("", filepath.Join(f.store.Root(), reference)),
		Size:          size,
		Checksum:      checksum,
	}, nil
}

// land streams body into the store under reference, hashing as it goes.
func (f *Fetcher) land(reference string, body io.Reader, total int64, progress ProgressFunc) (int64, string, error) {
	dest := filepath.Join(f.store.Root(), reference)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, "", permanent(fmt.Errorf("prepare store dir: %w", err))
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, "", permanent(fmt.Errorf("create %s: %w", reference, err))
	}

	hasher := sha256.New()
	counter := &countingWriter{total: total, progress: progress}
	size, err := io.Copy(io.MultiWriter(out, hasher, counter), body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, "", transient(fmt.Errorf("stream to store: %w", err))
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

type countingWriter struct {
	n        int64
	total    int64
	progress ProgressFunc
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	if w.progress != nil {
		w.progress(w.n, w.total)
	}
	return len(p), nil
}

// detectFileType classifies by content headers first, extension as fallback.
func detectFileType(contentType, storedPath string) models.FileType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "spreadsheetml"), strings.Contains(ct, "vnd.ms-excel"), strings.Contains(ct, "oasis.opendocument.spreadsheet"):
		return models.FileTypeSpreadsheet
	case strings.Contains(ct, "csv"), strings.Contains(ct, "tab-separated"), strings.HasPrefix(ct, "text/plain"):
		return models.FileTypeDelimited
	case strings.Contains(ct, "pdf"), strings.Contains(ct, "msword"), strings.Contains(ct, "officedocument.wordprocessingml"):
		return models.FileTypeDocument
	}

	if mt, err := mimetype.DetectFile(storedPath); err == nil {
		switch {
		case mt.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"), mt.Is("application/vnd.ms-excel"):
			return models.FileTypeSpreadsheet
		case mt.Is("text/csv"), mt.Is("text/tab-separated-values"), mt.Is("text/plain"):
			return models.FileTypeDelimited
		}
	}

	switch strings.ToLower(filepath.Ext(storedPath)) {
	case ".xlsx", ".xls", ".ods":
		return models.FileTypeSpreadsheet
	case ".csv", ".tsv", ".txt":
		return models.FileTypeDelimited
	default:
		return models.FileTypeDocument
	}
}

func originalName(kind models.SourceKind, locator string) string {
	switch kind {
	case models.SourceHostedSheet:
		return "export.xlsx"
	case models.SourceDirectURL:
		if u, err := url.Parse(locator); err == nil {
			if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
				return name
			}
		}
		return "download"
	default:
		return filepath.Base(locator)
	}
}

// VerifyChecksum re-hashes an already-stored file so a retry can reuse it
// instead of re-fetching.
func VerifyChecksum(store *filestore.Store, reference, want string) (bool, error) {
	path, err := store.Resolve(reference)
	if err != nil {
		return false, err
	}
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open for verification: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false, fmt.Errorf("hash for verification: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)) == want, nil
}
