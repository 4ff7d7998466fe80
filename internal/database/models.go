package database

import (
	"time"

	"asset-atlas/internal/assettypes"
)

// Confidence grades how a dependency edge was extracted from a descriptor.
type Confidence string

const (
	// ConfidenceHigh means the external id appeared inside a recognized
	// structured reference field.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium means the external id appeared with a reference
	// marker but outside a recognized field.
	ConfidenceMedium Confidence = "medium"
	// ConfidenceLow means a bare id-shaped token was found near
	// reference-looking text.
	ConfidenceLow Confidence = "low"
)

// ThumbStatus records the outcome of a thumbnail generation attempt.
type ThumbStatus string

const (
	// ThumbReady means a thumbnail payload exists on disk.
	ThumbReady ThumbStatus = "ready"
	// ThumbTooLarge means the source exceeded the decode size guard.
	// Permanent for this (asset, mtime) pair.
	ThumbTooLarge ThumbStatus = "too_large"
	// ThumbUnsupported means the source format cannot be decoded.
	// Permanent for this (asset, mtime) pair.
	ThumbUnsupported ThumbStatus = "unsupported"
	// ThumbFailed means decoding failed; a later attempt may retry.
	ThumbFailed ThumbStatus = "failed"
)

// IsPermanent reports whether the status should never be retried for the
// same (asset, mtime) pair.
func (s ThumbStatus) IsPermanent() bool {
	return s == ThumbReady || s == ThumbTooLarge || s == ThumbUnsupported
}

type Project struct {
	ID           string    `json:"id"`
	RootPath     string    `json:"rootPath"`
	Name         string    `json:"name"`
	LastScanTime time.Time `json:"lastScanTime,omitempty"`
	FileCount    int64     `json:"fileCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Asset struct {
	ID           string               `json:"id"`
	ProjectID    string               `json:"projectId"`
	AbsolutePath string               `json:"absolutePath"`
	RelativePath string               `json:"relativePath"`
	FileName     string               `json:"fileName"`
	Extension    string               `json:"extension"`
	Type         assettypes.AssetType `json:"type"`
	SizeBytes    int64                `json:"sizeBytes"`
	ModifiedTime time.Time            `json:"modifiedTime"`
	ExternalID   string               `json:"externalId,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

type Dependency struct {
	ID           string     `json:"id"`
	FromAssetID  string     `json:"fromAssetId"`
	ToAssetID    string     `json:"toAssetId,omitempty"`
	ToExternalID string     `json:"toExternalId"`
	RelationType string     `json:"relationType"`
	Confidence   Confidence `json:"confidence"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Resolved reports whether the edge points at an indexed asset.
func (d *Dependency) Resolved() bool {
	return d.ToAssetID != ""
}

// ThumbEntry is a row in the persistent thumbnail cache index.
type ThumbEntry struct {
	AssetID      string      `json:"assetId"`
	ModifiedTime time.Time   `json:"modifiedTime"`
	Status       ThumbStatus `json:"status"`
	Path         string      `json:"path,omitempty"`
	SizeBytes    int64       `json:"sizeBytes"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// FileState is the on-disk identity of an indexed asset, used by the
// scanner to skip unchanged files.
type FileState struct {
	AssetID      string
	SizeBytes    int64
	ModifiedTime int64
}

// AssetQuery describes a paginated catalog query.
type AssetQuery struct {
	ProjectID string
	Search    string
	Types     []assettypes.AssetType
	Page      int
	PageSize  int
}

type AssetPage struct {
	Items      []Asset `json:"items"`
	TotalItems int     `json:"totalItems"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	TotalPages int     `json:"totalPages"`
}

type TypeCount struct {
	Type  assettypes.AssetType `json:"type"`
	Count int64                `json:"count"`
}

type IndexStats struct {
	TotalAssets   int       `json:"totalAssets"`
	TotalEdges    int       `json:"totalEdges"`
	LastIndexed   time.Time `json:"lastIndexed"`
	IndexDuration string    `json:"indexDuration"`
}
