package face

import (
	"fmt"
	"image/color"

	"github.com/andresmejia3/facelabel/internal/types"
)

var (
	// KnownColor marks faces that matched a gallery entry.
	KnownColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	// UnknownColor marks faces labeled types.Undetected.
	UnknownColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// ColorFor returns red for types.Undetected and blue for everything else.
func ColorFor(label string) color.Color {
	if label == types.Undetected {
		return UnknownColor
	}
	return KnownColor
}

// Caption formats the text drawn next to a face, e.g. "Alice 0.42".
func Caption(id types.Identification) string {
	return fmt.Sprintf("%s %.2f", id.Label, id.Distance)
}

// Annotate draws an unfilled rectangle around box and the caption at its top-left corner.
// The rectangle shares the caption color, so unknown faces are boxed in red as well.
func Annotate(s Surface, id types.Identification, box types.Box) {
	c := ColorFor(id.Label)
	s.DrawRectangle(box, c)
	s.DrawText(box[0], box[1], Caption(id), c)
}
