package face

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/facelabel/internal/gallery"
	"github.com/andresmejia3/facelabel/internal/log"
	"github.com/andresmejia3/facelabel/internal/types"
	"gonum.org/v1/gonum/floats"
)

// Resolver identifies a face crop by its nearest gallery embedding.
type Resolver struct {
	embedder  Embedder
	gallery   *gallery.Gallery
	threshold float64
}

// NewResolver fails with gallery.ErrEmpty when there is nothing to match against.
func NewResolver(e Embedder, g *gallery.Gallery, threshold float64) (*Resolver, error) {
	if g == nil || g.Len() == 0 {
		return nil, gallery.ErrEmpty
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("match threshold must be positive, got %v", threshold)
	}
	return &Resolver{embedder: e, gallery: g, threshold: threshold}, nil
}

// Threshold returns the distance below which a match is accepted.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Resolve embeds the crop (as a batch of one) and matches it.
func (r *Resolver) Resolve(ctx context.Context, crop types.Tensor) (types.Identification, error) {
	embs, err := r.embedder.Embed(ctx, []types.Tensor{crop})
	if err != nil {
		return types.Identification{}, fmt.Errorf("embedding failed: %w", err)
	}
	if len(embs) != 1 {
		return types.Identification{}, fmt.Errorf("embedder returned %d vectors for one crop", len(embs))
	}
	return r.Match(embs[0])
}

// Match finds the gallery entry closest to emb by Euclidean distance.
//
// If the smallest distance is strictly below the threshold the entry's label is
// returned, otherwise types.Undetected. Either way the reported distance is the
// true minimum. On an exact tie the lexicographically smaller label wins, then
// the earlier entry.
func (r *Resolver) Match(emb []float64) (types.Identification, error) {
	if len(emb) != r.gallery.Dim() {
		return types.Identification{}, fmt.Errorf("%w: query has %d values, gallery has %d",
			gallery.ErrDimension, len(emb), r.gallery.Dim())
	}

	best := -1
	var bestDist float64
	for i := 0; i < r.gallery.Len(); i++ {
		e := r.gallery.At(i)
		d := floats.Distance(emb, e.Embedding, 2)
		if best == -1 || d < bestDist || (d == bestDist && e.Label < r.gallery.At(best).Label) {
			best, bestDist = i, d
		}
	}
	if best == -1 {
		return types.Identification{}, errors.New("no gallery entries to compare")
	}
	if math.IsNaN(bestDist) {
		return types.Identification{}, errors.New("embedding contains NaN")
	}

	label := r.gallery.At(best).Label
	if bestDist >= r.threshold {
		label = types.Undetected
	}

	log.Debug(log.Fields{
		"nearest":  r.gallery.At(best).Label,
		"distance": bestDist,
		"label":    label,
	}, "face resolved")

	return types.Identification{Label: label, Distance: bestDist}, nil
}
