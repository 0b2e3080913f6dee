package gallery

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/facelabel/internal/types"
)

var (
	// ErrEmpty is returned when a gallery has no entries. Nearest-neighbour
	// matching is undefined without at least one known identity.
	ErrEmpty = errors.New("gallery is empty")
	// ErrDimension is returned when embeddings do not share one length.
	ErrDimension = errors.New("embedding dimension mismatch")
)

// Gallery is the ordered, read-only set of known identities.
// It is safe for concurrent readers since nothing mutates it after New.
type Gallery struct {
	entries []types.GalleryEntry
	dim     int
}

// New validates entries and takes a private copy of them.
func New(entries []types.GalleryEntry) (*Gallery, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	dim := len(entries[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("entry 0 (%q): %w: empty embedding", entries[0].Label, ErrDimension)
	}

	own := make([]types.GalleryEntry, len(entries))
	for i, e := range entries {
		if e.Label == "" {
			return nil, fmt.Errorf("entry %d has no label", i)
		}
		if e.Label == types.Undetected {
			return nil, fmt.Errorf("entry %d uses the reserved label %q", i, types.Undetected)
		}
		if len(e.Embedding) != dim {
			return nil, fmt.Errorf("entry %d (%q): %w: got %d, want %d", i, e.Label, ErrDimension, len(e.Embedding), dim)
		}
		vec := make([]float64, dim)
		copy(vec, e.Embedding)
		own[i] = types.GalleryEntry{Label: e.Label, Embedding: vec}
	}

	return &Gallery{entries: own, dim: dim}, nil
}

// Len returns the number of entries.
func (g *Gallery) Len() int { return len(g.entries) }

// Dim returns the shared embedding length.
func (g *Gallery) Dim() int { return g.dim }

// At returns the i-th entry. The embedding must not be modified by the caller.
func (g *Gallery) At(i int) types.GalleryEntry { return g.entries[i] }

// Entries returns a deep copy of all entries in gallery order.
func (g *Gallery) Entries() []types.GalleryEntry {
	out := make([]types.GalleryEntry, len(g.entries))
	for i, e := range g.entries {
		vec := make([]float64, len(e.Embedding))
		copy(vec, e.Embedding)
		out[i] = types.GalleryEntry{Label: e.Label, Embedding: vec}
	}
	return out
}

// Labels returns the distinct labels in first-seen order.
func (g *Gallery) Labels() []string {
	seen := make(map[string]bool)
	var labels []string
	for _, e := range g.entries {
		if !seen[e.Label] {
			seen[e.Label] = true
			labels = append(labels, e.Label)
		}
	}
	return labels
}
