// Package export builds dependency-closure bundle manifests.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"asset-atlas/internal/database"
	"asset-atlas/internal/deps"
	"asset-atlas/internal/logging"
	"asset-atlas/internal/metrics"
)

const manifestVersion = "1.0"

// BundleManifest describes a root asset and its transitive dependency
// closure. Assets are identified by project-relative path so the manifest
// stays meaningful outside the exporting machine.
type BundleManifest struct {
	Version         string          `json:"version"`
	ExportedAt      string          `json:"exported_at"`
	SourceProject   string          `json:"source_project"`
	RootAsset       string          `json:"root_asset"`
	Assets          []ManifestAsset `json:"assets"`
	DependencyGraph []ManifestEdge  `json:"dependency_graph"`
}

// ManifestAsset is one member of the exported closure.
type ManifestAsset struct {
	RelativePath string `json:"relative_path"`
	Type         string `json:"type"`
	ExternalID   string `json:"external_id,omitempty"`
}

// ManifestEdge is one resolved dependency between closure members.
type ManifestEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// Exporter produces bundle manifests from the index.
type Exporter struct {
	db       *database.Database
	resolver *deps.Resolver
}

// New creates an Exporter over the given index.
func New(db *database.Database, resolver *deps.Resolver) *Exporter {
	return &Exporter{db: db, resolver: resolver}
}

// Manifest builds the bundle manifest for a root asset without writing
// anything to disk.
func (e *Exporter) Manifest(ctx context.Context, assetID string) (*BundleManifest, error) {
	closure, err := e.resolver.BundleClosure(ctx, assetID)
	if err != nil {
		return nil, err
	}

	project, err := e.db.GetProject(ctx, closure.Root.ProjectID)
	if err != nil {
		return nil, err
	}

	// Relative paths for closure members only; edges leading outside the
	// closure (unresolved or deleted targets) are not part of the graph.
	pathByID := make(map[string]string, len(closure.Assets))
	assets := make([]ManifestAsset, 0, len(closure.Assets))
	for i := range closure.Assets {
		a := &closure.Assets[i]
		pathByID[a.ID] = a.RelativePath
		assets = append(assets, ManifestAsset{
			RelativePath: a.RelativePath,
			Type:         string(a.Type),
			ExternalID:   a.ExternalID,
		})
	}

	graph := make([]ManifestEdge, 0, len(closure.Edges))
	for _, edge := range closure.Edges {
		from, okFrom := pathByID[edge.FromAssetID]
		to, okTo := pathByID[edge.ToAssetID]
		if !okFrom || !okTo {
			continue
		}
		graph = append(graph, ManifestEdge{From: from, To: to, Relation: edge.RelationType})
	}

	return &BundleManifest{
		Version:         manifestVersion,
		ExportedAt:      time.Now().UTC().Format(time.RFC3339),
		SourceProject:   project.Name,
		RootAsset:       closure.Root.RelativePath,
		Assets:          assets,
		DependencyGraph: graph,
	}, nil
}

// ExportBundle writes the bundle manifest for a root asset to
// destDir/manifest.json and returns the manifest. Asset payload bytes are
// never copied.
func (e *Exporter) ExportBundle(ctx context.Context, assetID, destDir string) (*BundleManifest, error) {
	manifest, err := e.Manifest(ctx, assetID)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		metrics.ExportsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	path := filepath.Join(destDir, "manifest.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		metrics.ExportsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	metrics.ExportsTotal.WithLabelValues("success").Inc()
	logging.Info("Exported bundle manifest for %s: %d assets, %d edges -> %s",
		manifest.RootAsset, len(manifest.Assets), len(manifest.DependencyGraph), path)

	return manifest, nil
}
