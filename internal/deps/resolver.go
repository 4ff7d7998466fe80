package deps

import (
	"context"
	"errors"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"asset-atlas/internal/assettypes"
	"asset-atlas/internal/database"
	"asset-atlas/internal/logging"
	"asset-atlas/internal/metrics"
)

// Descriptor grammars vary by engine version and are not formal, so
// extraction is tiered: each pattern grades how certain we are that the
// matched id is a real reference.
var (
	// A structured reference slot: {fileID: ..., guid: <id>, ...}
	structuredRefPattern = regexp.MustCompile(`\{[^{}]*fileID:\s*-?\d+[^{}]*guid:\s*([a-f0-9]{32})[^{}]*\}`)

	// A guid marker outside any recognized slot.
	markerRefPattern = regexp.MustCompile(`guid:\s*([a-f0-9]{32})`)

	// A bare id-shaped token next to a reference-looking key.
	bareRefPattern = regexp.MustCompile(`(?i)(?:ref\w*|target\w*|asset\w*|link\w*)["']?\s*[:=]\s*["']?([a-f0-9]{32})\b`)
)

// Resolver reconstructs the dependency graph from asset descriptors.
type Resolver struct {
	db *database.Database
}

// New creates a Resolver.
func New(db *database.Database) *Resolver {
	return &Resolver{db: db}
}

// extract pulls candidate external ids out of descriptor text, keeping the
// highest confidence tier seen for each id.
func extract(content []byte) map[string]database.Confidence {
	found := make(map[string]database.Confidence)

	grade := func(id string, c database.Confidence) {
		switch existing, ok := found[id]; {
		case !ok:
			found[id] = c
		case c == database.ConfidenceHigh:
			found[id] = c
		case c == database.ConfidenceMedium && existing == database.ConfidenceLow:
			found[id] = c
		}
	}

	for _, m := range structuredRefPattern.FindAllSubmatch(content, -1) {
		grade(string(m[1]), database.ConfidenceHigh)
	}
	for _, m := range markerRefPattern.FindAllSubmatch(content, -1) {
		if _, ok := found[string(m[1])]; !ok {
			grade(string(m[1]), database.ConfidenceMedium)
		}
	}
	for _, m := range bareRefPattern.FindAllSubmatch(content, -1) {
		grade(string(m[1]), database.ConfidenceLow)
	}

	return found
}

// inferRelationType names an edge from the (source, target) type pair.
// Unresolved targets fall through to the generic forms.
func inferRelationType(from assettypes.AssetType, to *database.Asset) string {
	toType := assettypes.AssetTypeUnknown
	if to != nil {
		toType = to.Type
	}

	switch {
	case from == assettypes.AssetTypeMaterial && toType == assettypes.AssetTypeTexture:
		return "material_texture"
	case from == assettypes.AssetTypeMaterial && toType == assettypes.AssetTypeShader:
		return "material_shader"
	case from == assettypes.AssetTypePrefab && toType == assettypes.AssetTypeMaterial:
		return "prefab_material"
	case from == assettypes.AssetTypePrefab && toType == assettypes.AssetTypeModel:
		return "prefab_model"
	case from == assettypes.AssetTypePrefab && toType == assettypes.AssetTypePrefab:
		return "prefab_prefab"
	case from == assettypes.AssetTypePrefab && toType == assettypes.AssetTypeTexture:
		return "prefab_texture"
	case from == assettypes.AssetTypeScene && toType == assettypes.AssetTypePrefab:
		return "scene_prefab"
	case from == assettypes.AssetTypeScene && toType == assettypes.AssetTypeMaterial:
		return "scene_material"
	case from == assettypes.AssetTypeScene:
		return "scene_reference"
	default:
		return "reference"
	}
}

// ResolveAsset parses one asset's descriptor and builds its outgoing edge
// set. Non-descriptor types and unreadable files yield no edges.
func (r *Resolver) ResolveAsset(ctx context.Context, asset *database.Asset) ([]*database.Dependency, error) {
	if !assettypes.IsDescriptor(asset.Type) {
		return nil, nil
	}

	content, err := os.ReadFile(asset.AbsolutePath)
	if err != nil {
		logging.Debug("Cannot read descriptor %s: %v", asset.RelativePath, err)
		return nil, nil
	}

	found := extract(content)

	// Deterministic edge order regardless of map iteration.
	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var edges []*database.Dependency
	for _, id := range ids {
		// Skip self-reference
		if asset.ExternalID != "" && id == asset.ExternalID {
			continue
		}

		confidence := found[id]
		metrics.DepsEdgesExtracted.WithLabelValues(string(confidence)).Inc()

		target, err := r.db.GetAssetByExternalID(ctx, asset.ProjectID, id)
		if err != nil && !errors.Is(err, database.ErrAssetNotFound) {
			return nil, err
		}

		edge := &database.Dependency{
			ID:           uuid.NewString(),
			FromAssetID:  asset.ID,
			ToExternalID: id,
			RelationType: inferRelationType(asset.Type, target),
			Confidence:   confidence,
		}
		if target != nil {
			edge.ToAssetID = target.ID
			metrics.DepsEdgesResolved.WithLabelValues("resolved").Inc()
		} else {
			// Unresolved references are data, not errors: the raw id is
			// preserved so a later scan can resolve it.
			metrics.DepsEdgesResolved.WithLabelValues("unresolved").Inc()
		}

		edges = append(edges, edge)
	}

	return edges, nil
}

// ResolveProject rebuilds the edge sets of every descriptor asset in the
// project. Each asset's edges are replaced atomically, so a pass over
// unchanged descriptors reproduces the same graph. Returns the total edge
// count. Cancellation is checked between assets.
func (r *Resolver) ResolveProject(ctx context.Context, projectID string, report func(done, total int)) (int, error) {
	start := time.Now()
	defer func() {
		metrics.DepsResolveDuration.Observe(time.Since(start).Seconds())
	}()

	assets, err := r.db.GetDescriptorAssets(ctx, projectID)
	if err != nil {
		return 0, err
	}

	logging.Info("Resolving dependencies for %d descriptor assets", len(assets))

	totalEdges := 0
	for i := range assets {
		if err := ctx.Err(); err != nil {
			return totalEdges, err
		}

		asset := &assets[i]
		edges, err := r.ResolveAsset(ctx, asset)
		if err != nil {
			return totalEdges, err
		}

		tx, err := r.db.BeginBatch()
		if err != nil {
			return totalEdges, err
		}
		err = r.db.ReplaceEdges(tx, asset.ID, edges)
		if err := r.db.EndBatch(tx, err); err != nil {
			logging.Warn("Failed to replace edges for %s: %v", asset.RelativePath, err)
			continue
		}

		totalEdges += len(edges)
		if report != nil {
			report(i+1, len(assets))
		}
	}

	// Referrers resolved before their targets were indexed left dangling
	// edges behind; point them at the assets that now carry their ids.
	fixed, err := r.db.ResolveDanglingEdges(ctx, projectID)
	if err != nil {
		return totalEdges, err
	}
	if fixed > 0 {
		logging.Info("Resolved %d previously dangling edges", fixed)
		metrics.DepsEdgesResolved.WithLabelValues("resolved").Add(float64(fixed))
	}

	logging.Info("Dependency resolution complete: %d edges in %v", totalEdges, time.Since(start))
	return totalEdges, nil
}

// Closure is the transitive dependency set of a root asset.
type Closure struct {
	Root      *database.Asset       `json:"root"`
	Assets    []database.Asset      `json:"assets"`
	Edges     []database.Dependency `json:"edges"`
	TotalSize int64                 `json:"totalSize"`
}

// BundleClosure walks resolved edges breadth-first from the root, visiting
// each asset once so cycles terminate. The returned set includes the root
// and the aggregate size of every member.
func (r *Resolver) BundleClosure(ctx context.Context, rootAssetID string) (*Closure, error) {
	root, err := r.db.GetAsset(ctx, rootAssetID)
	if err != nil {
		return nil, err
	}

	closure := &Closure{
		Root:      root,
		Assets:    []database.Asset{*root},
		TotalSize: root.SizeBytes,
	}

	visited := map[string]bool{root.ID: true}
	queue := []string{root.ID}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := queue[0]
		queue = queue[1:]

		edges, err := r.db.GetDependencies(ctx, current)
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			closure.Edges = append(closure.Edges, edge)
			if !edge.Resolved() || visited[edge.ToAssetID] {
				continue
			}
			visited[edge.ToAssetID] = true

			target, err := r.db.GetAsset(ctx, edge.ToAssetID)
			if err != nil {
				if errors.Is(err, database.ErrAssetNotFound) {
					continue
				}
				return nil, err
			}

			closure.Assets = append(closure.Assets, *target)
			closure.TotalSize += target.SizeBytes
			queue = append(queue, target.ID)
		}
	}

	return closure, nil
}
