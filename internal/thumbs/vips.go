//go:build cgo

package thumbs

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"asset-atlas/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// InitVips initializes the libvips library.
// This should be called once at startup.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Configure vips logging BEFORE Startup() to respect LOG_LEVEL
	var vipsLogLevel vips.LogLevel
	var logHandler func(string, vips.LogLevel, string)

	if logging.IsDebugEnabled() {
		vipsLogLevel = vips.LogLevelInfo
		logHandler = func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			case vips.LogLevelMessage, vips.LogLevelInfo, vips.LogLevelDebug:
				logging.Debug("[%s] %s", domain, msg)
			}
		}
	} else {
		vipsLogLevel = vips.LogLevelWarning
		logHandler = func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			case vips.LogLevelMessage, vips.LogLevelInfo, vips.LogLevelDebug:
				// Suppressed
			}
		}
	}

	vips.LoggingSettings(logHandler, vipsLogLevel)

	// Start vips with conservative memory settings
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,                // Process one image at a time to control memory
		MaxCacheMem:      50 * 1024 * 1024, // 50MB cache
		MaxCacheSize:     100,              // Max 100 operations cached
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips cleans up libvips resources.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available.
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// loadImageWithVips loads and resizes an image using libvips with
// decode-time shrinking. Handles the formats the pure-Go decoders cannot
// (PSD, EXR and friends).
func loadImageWithVips(path string, targetWidth, targetHeight int) (image.Image, error) {
	if !vipsAvailable {
		return nil, fmt.Errorf("libvips not available")
	}

	logging.Debug("Loading %s with vips (target: %dx%d)", filepath.Base(path), targetWidth, targetHeight)

	importParams := vips.NewImportParams()
	ref, err := vips.LoadImageFromFile(path, importParams)
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	err = ref.Thumbnail(targetWidth, targetHeight, vips.InterestingNone)
	if err != nil {
		return nil, fmt.Errorf("vips resize failed: %w", err)
	}

	imgBytes, _, err := ref.ExportJpeg(&vips.JpegExportParams{
		Quality:        95,
		StripMetadata:  false,
		OptimizeCoding: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode vips output: %w", err)
	}

	return img, nil
}

// safeDecode runs the libvips decode path behind a fault boundary: a panic
// escaping the CGO call is recovered into a DecodeFailure instead of
// taking down the process.
func safeDecode(path string, targetWidth, targetHeight int) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Decoder crashed on %s: %v", path, r)
			img = nil
			err = &DecodeFailure{Path: path, Reason: fmt.Sprintf("decoder panic: %v", r)}
		}
	}()

	return loadImageWithVips(path, targetWidth, targetHeight)
}
