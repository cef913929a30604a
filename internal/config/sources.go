package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceEntry describes one supplier price-list source in a sources file.
type SourceEntry struct {
	SupplierID         string `yaml:"supplier_id"`
	SupplierName       string `yaml:"supplier_name"`
	SourceKind         string `yaml:"source_kind"`
	SourceLocator      string `yaml:"source_locator"`
	DefaultCurrency    string `yaml:"default_currency"`
	CompositeDelimiter string `yaml:"composite_delimiter"`
	UseMLProcessing    bool   `yaml:"use_ml_processing"`
}

// SourcesFile is a batch of supplier sources for triggering ingestions.
type SourcesFile struct {
	Sources []SourceEntry `yaml:"sources"`
}

// LoadSources reads a YAML sources file from path and returns validated entries.
func LoadSources(path string) (*SourcesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sources: read %s: %w", path, err)
	}
	return ParseSources(data)
}

// ParseSources unmarshals YAML bytes into a validated SourcesFile.
func ParseSources(data []byte) (*SourcesFile, error) {
	var f SourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("sources: parse: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *SourcesFile) validate() error {
	var errs []string
	if len(f.Sources) == 0 {
		errs = append(errs, "at least one source is required")
	}
	for i, s := range f.Sources {
		if s.SupplierID == "" {
			errs = append(errs, fmt.Sprintf("sources[%d].supplier_id is required", i))
		}
		switch s.SourceKind {
		case "hosted-spreadsheet", "direct-url", "local-copy":
		default:
			errs = append(errs, fmt.Sprintf("sources[%d].source_kind %q is not one of hosted-spreadsheet, direct-url, local-copy", i, s.SourceKind))
		}
		if s.SourceLocator == "" {
			errs = append(errs, fmt.Sprintf("sources[%d].source_locator is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("sources: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
