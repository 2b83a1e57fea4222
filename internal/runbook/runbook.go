// Package runbook looks up remediation guides by failure signatures found
// in log text.
package runbook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/storage"
)

// Sentinel replies. Retrieve never returns an error.
const (
	NoRunbook      = "No runbook found."
	RunbookMissing = "Runbook file missing."
)

// Entry maps a log signature to a runbook document path.
type Entry struct {
	Signature string `yaml:"signature"`
	Document  string `yaml:"document"`
}

// CatalogFile is the on-disk layout of a runbook catalog.
type CatalogFile struct {
	Runbooks []Entry `yaml:"runbooks"`
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() []Entry {
	return []Entry{
		{Signature: "MemoryAllocationFailure", Document: "payment_gateway.md"},
	}
}

// LoadCatalog reads a YAML catalog. An empty path or a missing file yields
// the default catalog.
func LoadCatalog(path string) ([]Entry, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultCatalog(), nil
		}
		return nil, fmt.Errorf("runbook: reading catalog %q: %w", path, err)
	}

	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("runbook: parsing catalog %q: %w", path, err)
	}
	for i, e := range file.Runbooks {
		if e.Signature == "" || e.Document == "" {
			return nil, fmt.Errorf("runbook: catalog entry %d needs both signature and document", i)
		}
	}
	return file.Runbooks, nil
}

// Retriever resolves log excerpts to runbook text.
type Retriever struct {
	entries []Entry
	docs    storage.Backend
	logger  *zap.Logger
}

// NewRetriever creates a retriever over the given catalog, reading documents
// from docs.
func NewRetriever(entries []Entry, docs storage.Backend, logger *zap.Logger) *Retriever {
	return &Retriever{
		entries: entries,
		docs:    docs,
		logger:  logger.Named("runbook"),
	}
}

// Retrieve returns the document for the first catalog signature contained in
// excerpt. It returns NoRunbook when nothing matches and RunbookMissing when
// the matched document cannot be read.
func (r *Retriever) Retrieve(ctx context.Context, excerpt string) string {
	for _, e := range r.entries {
		if !strings.Contains(excerpt, e.Signature) {
			continue
		}

		data, err := r.docs.Read(ctx, e.Document)
		if err != nil {
			r.logger.Warn("runbook document unavailable",
				zap.String("signature", e.Signature),
				zap.String("document", e.Document),
				zap.Error(err))
			return RunbookMissing
		}
		r.logger.Debug("runbook matched", zap.String("signature", e.Signature))
		return string(data)
	}
	return NoRunbook
}
