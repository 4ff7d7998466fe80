package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"asset-atlas/internal/logging"
	"asset-atlas/internal/thumbs"
)

// Thumbnail serves an asset's thumbnail, generating on first request.
// Permanent sentinels map to 413 (source too large) and 415 (format not
// decodable) so clients can stop retrying.
func (h *Handlers) Thumbnail(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.lookupAsset(w, r)
	if !ok {
		return
	}

	data, err := h.thumbs.GetThumbnail(r.Context(), asset)
	if err != nil {
		switch {
		case errors.Is(err, thumbs.ErrTooLarge):
			writeJSONError(w, "source too large for thumbnail", http.StatusRequestEntityTooLarge)
		case errors.Is(err, thumbs.ErrUnsupported):
			writeJSONError(w, "unsupported source format", http.StatusUnsupportedMediaType)
		case errors.Is(err, thumbs.ErrDisabled):
			writeJSONError(w, "thumbnails disabled", http.StatusNotFound)
		default:
			logging.Error("Thumbnail failed for %s: %v", asset.RelativePath, err)
			writeJSONError(w, "thumbnail generation failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	// Key includes mtime, so a stale client cache self-invalidates on change.
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := w.Write(data); err != nil {
		logging.Debug("Thumbnail write failed: %v", err)
	}
}
