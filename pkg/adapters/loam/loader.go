package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"

	"github.com/aretw0/canopy/internal/config"
)

// Header is the part of a scenario document used for listing.
type Header struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
}

// headerOnly are frontmatter keys that describe the document rather than the model.
var headerOnly = []string{"id", "description", "tags"}

// Loader reads scenarios from a loam repository. Each document's frontmatter (or JSON
// or YAML body) is one scenario; the Markdown body is free text.
type Loader struct {
	repo  core.Repository
	typed *loam.TypedRepository[Header]
}

// New wraps an initialised repository.
func New(repo core.Repository) *Loader {
	return &Loader{
		repo:  repo,
		typed: loam.NewTypedRepository[Header](repo),
	}
}

// Open initialises a read-only, strict loam repository at path.
func Open(path string) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(repo), nil
}

// Load decodes the scenario stored under id. A scenario without a name takes id.
func (l *Loader) Load(ctx context.Context, id string) (*config.Scenario, error) {
	doc, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loam get failed for %s: %w", id, err)
	}

	raw := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		raw[k] = v
	}
	for _, k := range headerOnly {
		delete(raw, k)
	}
	if _, ok := raw["name"]; !ok {
		raw["name"] = trimExtension(id)
	}

	s, err := config.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", id, err)
	}
	return s, nil
}

// List returns the scenario IDs, extensions stripped.
func (l *Loader) List(ctx context.Context) ([]string, error) {
	docs, err := l.typed.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := trimExtension(doc.ID)
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("collision detected: scenario '%s' is defined in both '%s' and '%s'", id, prev, doc.ID)
		}
		seen[id] = doc.ID
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func trimExtension(id string) string {
	return filepath.ToSlash(strings.TrimSuffix(id, filepath.Ext(id)))
}
