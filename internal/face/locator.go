package face

import (
	"context"
	"image"

	"github.com/andresmejia3/facelabel/internal/types"
)

// Locator turns raw detector output into detection records.
type Locator struct {
	detector Detector
}

func NewLocator(d Detector) *Locator {
	return &Locator{detector: d}
}

// Locate returns every candidate face in img. Finding no face is not an error:
// the result is simply empty. Only detector failures are returned as errors.
func (l *Locator) Locate(ctx context.Context, img image.Image) ([]types.Detection, error) {
	out, err := l.detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	return Zip(out), nil
}

// Zip pairs the parallel detector slices up. It stops at the shortest slice,
// and a nil output or a missing boxes/crops slice yields no detections.
func Zip(out *DetectorOutput) []types.Detection {
	if out == nil || out.Boxes == nil || out.Crops == nil {
		return []types.Detection{}
	}

	n := min(len(out.Boxes), len(out.Probs), len(out.Crops))
	dets := make([]types.Detection, n)
	for i := 0; i < n; i++ {
		dets[i] = types.Detection{
			Box:        out.Boxes[i],
			Confidence: out.Probs[i],
			Crop:       out.Crops[i],
		}
	}
	return dets
}
