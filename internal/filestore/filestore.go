// Package filestore guards access to the shared price-list file area. Both
// the orchestrator (writer) and the analysis worker (reader) resolve logical
// file references through it; nothing else touches the root directly.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pricedock/pricedock/internal/models"
)

// Sentinel errors for file resolution. All are non-retriable and
// caller-visible; check with errors.Is.
var (
	// ErrOutsideAllowedRoot indicates the canonicalized path escapes the
	// configured root. Logged as a security event by callers.
	ErrOutsideAllowedRoot = errors.New("path resolves outside allowed root")

	// ErrNotFound indicates the referenced file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrNotAFile indicates the reference points at something other than a
	// regular file.
	ErrNotAFile = errors.New("not a regular file")

	// ErrTooLarge indicates the file exceeds the configured size ceiling.
	ErrTooLarge = errors.New("file exceeds size ceiling")
)

// SidecarSuffix is appended to a stored file's path to name its provenance
// sidecar.
const SidecarSuffix = ".meta.json"

// Store validates and resolves logical file references against one allowed
// root. All checks are read-only.
type Store struct {
	root        string
	maxFileSize int64
}

// New creates a Store rooted at root. The root is canonicalized once so
// symlinked roots behave consistently.
func New(root string, maxFileSize int64) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("filestore: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("filestore: canonicalize root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Store{root: abs, maxFileSize: maxFileSize}, nil
}

// Root returns the canonicalized allowed root.
func (s *Store) Root() string {
	return s.root
}

// Resolve canonicalizes a logical reference and returns the absolute path of
// the regular file it names. It rejects traversal and symlink escapes, missing
// or non-regular targets, and files above the size ceiling before any read
// happens.
func (s *Store) Resolve(reference string) (string, error) {
	if reference == "" {
		return "", fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	candidate := reference
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !s.within(candidate) {
		return "", fmt.Errorf("%w: %s", ErrOutsideAllowedRoot, reference)
	}

	// Re-check after symlink resolution: a link inside the root may still
	// point outside it.
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, reference)
		}
		return "", fmt.Errorf("filestore: resolve %s: %w", reference, err)
	}
	if !s.within(resolved) {
		return "", fmt.Errorf("%w: %s (symlink escape)", ErrOutsideAllowedRoot, reference)
	}

	info, err := os.Lstat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, reference)
		}
		return "", fmt.Errorf("filestore: stat %s: %w", reference, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotAFile, reference)
	}
	if s.maxFileSize > 0 && info.Size() > s.maxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes (ceiling %d)", ErrTooLarge, reference, info.Size(), s.maxFileSize)
	}

	return resolved, nil
}

func (s *Store) within(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Layout builds the storage path for a new download:
// {root}/{supplier_id}_{timestamp}_{original_name}. The returned reference is
// relative to the root.
func (s *Store) Layout(supplierID, originalName string, now time.Time) string {
	name := sanitizeName(originalName)
	return fmt.Sprintf("%s_%s_%s", sanitizeName(supplierID), now.UTC().Format("20060102T150405"), name)
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, name)
}

// WriteSidecar persists the provenance sidecar next to an already-landed
// file. A partial file without its sidecar is safely ignorable by consumers,
// which is why the sidecar always goes last.
func (s *Store) WriteSidecar(reference string, sc models.ProvenanceSidecar) error {
	path, err := s.Resolve(reference)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path+SidecarSuffix, data, 0644); err != nil {
		return fmt.Errorf("filestore: write sidecar: %w", err)
	}
	return nil
}

// ReadSidecar loads the provenance sidecar for a stored file.
func (s *Store) ReadSidecar(reference string) (*models.ProvenanceSidecar, error) {
	path, err := s.Resolve(reference)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path + SidecarSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: sidecar for %s", ErrNotFound, reference)
		}
		return nil, fmt.Errorf("filestore: read sidecar: %w", err)
	}
	var sc models.ProvenanceSidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("filestore: parse sidecar: %w", err)
	}
	return &sc, nil
}

// Sweep deletes stored files (and their sidecars) whose sidecar is older than
// maxAge. Files without a sidecar are left alone: they are either mid-download
// or already ignorable. Returns the number of files removed.
func (s *Store) Sweep(maxAge time.Duration, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("filestore: sweep: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SidecarSuffix) {
			continue
		}
		sidecarPath := filepath.Join(s.root, entry.Name())
		data, err := os.ReadFile(sidecarPath)
		if err != nil {
			continue
		}
		var sc models.ProvenanceSidecar
		if err := json.Unmarshal(data, &sc); err != nil {
			logger.Warn("unreadable sidecar during sweep", "path", sidecarPath, "error", err)
			continue
		}
		if sc.DownloadedAt.After(cutoff) {
			continue
		}

		filePath := strings.TrimSuffix(sidecarPath, SidecarSuffix)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove expired file", "path", filePath, "error", err)
			continue
		}
		if err := os.Remove(sidecarPath); err != nil {
			logger.Warn("failed to remove expired sidecar", "path", sidecarPath, "error", err)
		}
		removed++
	}
	return removed, nil
}
