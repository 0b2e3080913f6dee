package face

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/facelabel/internal/gallery"
	"github.com/andresmejia3/facelabel/internal/log"
	"github.com/andresmejia3/facelabel/internal/types"
)

// Options tunes an Engine. A zero DetectionThreshold keeps every detection;
// start from DefaultOptions to get the usual filter.
type Options struct {
	MatchThreshold     float64
	DetectionThreshold float64
	DPI                int
}

// DefaultOptions returns the thresholds and density used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MatchThreshold:     DefaultMatchThreshold,
		DetectionThreshold: DefaultDetectionThreshold,
		DPI:                DefaultDPI,
	}
}

// Engine bundles the models and the gallery for one process. It is built
// once at startup and only read afterwards.
type Engine struct {
	locator            *Locator
	resolver           *Resolver
	detectionThreshold float64
	dpi                int
}

// Result is the outcome for one face that passed the confidence filter.
type Result struct {
	types.Detection
	types.Identification
}

// NewEngine wires a detector, an embedder and a gallery together. An empty
// gallery is rejected here so that it surfaces as a startup error.
func NewEngine(d Detector, e Embedder, g *gallery.Gallery, opts Options) (*Engine, error) {
	if opts.MatchThreshold == 0 {
		opts.MatchThreshold = DefaultMatchThreshold
	}
	if opts.DPI == 0 {
		opts.DPI = DefaultDPI
	}
	if opts.DetectionThreshold < 0 || opts.DetectionThreshold > 1 {
		return nil, fmt.Errorf("detection threshold must be within [0, 1], got %v", opts.DetectionThreshold)
	}

	r, err := NewResolver(e, g, opts.MatchThreshold)
	if err != nil {
		return nil, err
	}
	return &Engine{
		locator:            NewLocator(d),
		resolver:           r,
		detectionThreshold: opts.DetectionThreshold,
		dpi:                opts.DPI,
	}, nil
}

// Resolver exposes the engine's identity resolver.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Identify locates faces, drops those below the detection threshold and
// resolves the rest, in detector order.
func (e *Engine) Identify(ctx context.Context, img image.Image) ([]Result, error) {
	dets, err := e.locator.Locate(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	var results []Result
	for _, det := range dets {
		if det.Confidence < e.detectionThreshold {
			log.Debug(log.Fields{"confidence": det.Confidence, "box": det.Box}, "skipping low confidence detection")
			continue
		}
		id, err := e.resolver.Resolve(ctx, det.Crop)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Detection: det, Identification: id})
	}
	return results, nil
}

// Label identifies faces in img and annotates each one on s.
func (e *Engine) Label(ctx context.Context, img image.Image, s Surface) ([]Result, error) {
	results, err := e.Identify(ctx, img)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		Annotate(s, r.Identification, r.Box)
	}
	return results, nil
}

// AddLabelsToImage renders img at its own pixel size with every confident
// face boxed and captioned, and returns the canvas for the caller to save.
func (e *Engine) AddLabelsToImage(ctx context.Context, img image.Image) (*Canvas, []Result, error) {
	b := img.Bounds()
	canvas, err := NewCanvas(b.Dx(), b.Dy(), e.dpi)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create canvas: %w", err)
	}
	canvas.DrawBackground(img)

	results, err := e.Label(ctx, img, canvas)
	if err != nil {
		return nil, nil, err
	}
	return canvas, results, nil
}
