// Package face locates faces in an image, identifies them against a gallery of
// known embeddings and draws the result.
//
// Detection and embedding are delegated to pretrained models behind the
// Detector and Embedder interfaces; this package only glues their outputs
// together and makes the identification decision.
package face

import (
	"context"
	"image"
	"image/color"

	"github.com/andresmejia3/facelabel/internal/types"
)

const (
	// DefaultMatchThreshold is the largest embedding distance accepted as a known identity (exclusive).
	DefaultMatchThreshold = 0.9
	// DefaultDetectionThreshold is the smallest detector confidence worth identifying (inclusive).
	DefaultDetectionThreshold = 0.9
	// DefaultDPI is the density of rendered canvases.
	DefaultDPI = 96
)

// DetectorOutput is what a detector returns for one image: three parallel
// slices. A nil *DetectorOutput means no face was found.
type DetectorOutput struct {
	Boxes []types.Box
	Probs []float64
	Crops []types.Tensor
}

// Detector finds faces and returns aligned crops suitable for embedding.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (*DetectorOutput, error)
}

// Embedder maps a batch of face crops to one embedding per crop.
type Embedder interface {
	Embed(ctx context.Context, batch []types.Tensor) ([][]float64, error)
}

// Surface is anything annotations can be drawn on.
type Surface interface {
	DrawRectangle(box types.Box, c color.Color)
	DrawText(x, y float64, text string, c color.Color)
}
