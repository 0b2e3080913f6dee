package types

// Undetected is the label reported for faces with no gallery entry close enough
const Undetected = "Undetected"

// Box is a face bounding box in pixels: [x1, y1, x2, y2]
type Box [4]float64

// Width returns x2 - x1
func (b Box) Width() float64 { return b[2] - b[0] }

// Height returns y2 - y1
func (b Box) Height() float64 { return b[3] - b[1] }

// Area is used to pick the dominant face when enrolling
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Tensor is a dense float32 array in row-major order, as produced by the engine.
// An aligned face crop is [channels, height, width].
type Tensor struct {
	Shape []int
	Data  []float32
}

// Len returns the element count implied by Shape
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Detection is one located face: box, detector confidence and the aligned crop
type Detection struct {
	Box        Box
	Confidence float64
	Crop       Tensor
}

// GalleryEntry is a known identity. Entries are never mutated after loading.
type GalleryEntry struct {
	Label     string    `json:"label" yaml:"label"`
	Embedding []float64 `json:"embedding" yaml:"embedding"`
}

// Identification is the outcome of matching one face against the gallery
type Identification struct {
	Label    string
	Distance float64
}

// Known reports whether the face matched a gallery entry
func (id Identification) Known() bool { return id.Label != Undetected }

// ImageTask represents a single image sent to a worker for processing
type ImageTask struct {
	Index int
	Path  string
}
