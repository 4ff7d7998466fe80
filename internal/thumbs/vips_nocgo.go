//go:build !cgo

package thumbs

import (
	"fmt"
	"image"
)

// InitVips reports that libvips is unavailable: govips needs cgo, and this
// binary was built with cgo disabled.
func InitVips() error {
	return fmt.Errorf("libvips not available: built without cgo")
}

// ShutdownVips is a no-op without cgo.
func ShutdownVips() {}

// IsVipsAvailable returns whether libvips is initialized and available.
func IsVipsAvailable() bool {
	return false
}

// safeDecode fails with the same error the cgo path returns when libvips
// is not initialized.
func safeDecode(path string, targetWidth, targetHeight int) (image.Image, error) {
	return nil, fmt.Errorf("libvips not available")
}
