package thumbs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math"
	"os"
	"regexp"

	"asset-atlas/internal/assettypes"
	"asset-atlas/internal/database"
	"asset-atlas/internal/logging"
)

// Material descriptors name their texture slots before the reference they
// bind. The primary slot holds the surface color map.
var (
	primarySlotPattern = regexp.MustCompile(`(?i)(_MainTex|_BaseMap|mainTexture|albedo|diffuse|baseColor)`)
	slotRefPattern     = regexp.MustCompile(`guid:\s*([a-f0-9]{32})`)
)

// How far past a slot name to look for its bound reference. Slot values sit
// on the same or the following line in every descriptor format we index.
const slotRefWindow = 256

// materialImage renders a preview for a material: the primary texture slot's
// image when one resolves, otherwise a procedural sphere tinted from the
// material's contents.
func (g *Generator) materialImage(ctx context.Context, asset *database.Asset) (image.Image, error) {
	content, err := os.ReadFile(asset.AbsolutePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read material: %w", err)
	}

	if id := primaryTextureID(content); id != "" {
		target, lookupErr := g.db.GetAssetByExternalID(ctx, asset.ProjectID, id)
		if lookupErr == nil && target.Type == assettypes.AssetTypeTexture {
			if target.SizeBytes <= g.maxDecodeBytes {
				img, decodeErr := g.decodeTexture(target.AbsolutePath)
				if decodeErr == nil {
					return img, nil
				}
				logging.Debug("Primary texture decode failed for material %s: %v", asset.RelativePath, decodeErr)
			}
		} else if lookupErr != nil && !errors.Is(lookupErr, database.ErrAssetNotFound) {
			return nil, lookupErr
		}
	}

	return renderPlaceholder(g.size, placeholderTint(content)), nil
}

// primaryTextureID extracts the external id bound to the material's primary
// color slot, or "" when none is present.
func primaryTextureID(content []byte) string {
	loc := primarySlotPattern.FindIndex(content)
	if loc == nil {
		return ""
	}

	end := loc[1] + slotRefWindow
	if end > len(content) {
		end = len(content)
	}

	m := slotRefPattern.FindSubmatch(content[loc[1]:end])
	if m == nil {
		return ""
	}
	return string(m[1])
}

// placeholderTint derives a stable color from the material contents so
// distinct materials get distinct placeholders.
func placeholderTint(content []byte) color.NRGBA {
	h := fnv.New32a()
	_, _ = h.Write(content)
	v := h.Sum32()

	// Keep channels in a mid band so shading stays visible.
	return color.NRGBA{
		R: uint8(96 + (v>>16)&0x5f),
		G: uint8(96 + (v>>8)&0x5f),
		B: uint8(96 + v&0x5f),
		A: 255,
	}
}

// renderPlaceholder draws a lit sphere of the given tint on a dark ground.
func renderPlaceholder(size int, tint color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))

	center := float64(size) / 2
	radius := float64(size) * 0.42

	// Light from the upper left.
	lx, ly, lz := -0.5, -0.6, 0.62

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) - center
			dy := float64(y) - center
			d2 := dx*dx + dy*dy

			if d2 > radius*radius {
				img.SetNRGBA(x, y, color.NRGBA{R: 32, G: 32, B: 36, A: 255})
				continue
			}

			nz := math.Sqrt(radius*radius - d2)
			nx, ny := dx/radius, dy/radius
			lambert := nx*lx + ny*ly + (nz/radius)*lz
			if lambert < 0.08 {
				lambert = 0.08
			}

			img.SetNRGBA(x, y, color.NRGBA{
				R: shade(tint.R, lambert),
				G: shade(tint.G, lambert),
				B: shade(tint.B, lambert),
				A: 255,
			})
		}
	}
	return img
}

func shade(c uint8, lambert float64) uint8 {
	v := float64(c) * lambert
	if v > 255 {
		v = 255
	}
	return uint8(v)
}
