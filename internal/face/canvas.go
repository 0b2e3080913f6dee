package face

import (
	"image"
	"image/color"
	"sync"

	"github.com/andresmejia3/facelabel/internal/types"
	"github.com/carck/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	// captionPoints matches a "large" caption: 1.2 times a 12pt base size
	captionPoints = 14.4
	lineWidth     = 1.5
)

var (
	fontOnce sync.Once
	fontTTF  *truetype.Font
	fontErr  error
)

func captionFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		fontTTF, fontErr = truetype.Parse(goregular.TTF)
	})
	return fontTTF, fontErr
}

// Canvas is a raster Surface backed by gg. It has the pixel size of the image
// it was created for; DPI only scales text.
type Canvas struct {
	dc  *gg.Context
	dpi int
}

var _ Surface = (*Canvas)(nil)

// NewCanvas creates a blank canvas of width x height pixels.
func NewCanvas(width, height, dpi int) (*Canvas, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	f, err := captionFont()
	if err != nil {
		return nil, err
	}

	dc := gg.NewContext(width, height)
	dc.SetFontFace(truetype.NewFace(f, &truetype.Options{Size: captionPoints, DPI: float64(dpi)}))
	dc.SetLineWidth(lineWidth)

	return &Canvas{dc: dc, dpi: dpi}, nil
}

// DrawBackground paints img at the origin, filling the canvas.
func (c *Canvas) DrawBackground(img image.Image) {
	b := img.Bounds()
	c.dc.DrawImage(img, -b.Min.X, -b.Min.Y)
}

// DrawRectangle strokes the outline of box.
func (c *Canvas) DrawRectangle(box types.Box, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawRectangle(box[0], box[1], box.Width(), box.Height())
	c.dc.Stroke()
}

// DrawText writes text with its baseline at y, starting at x.
func (c *Canvas) DrawText(x, y float64, text string, col color.Color) {
	c.dc.SetColor(col)
	c.dc.DrawString(text, x, y)
}

// Width and Height are the canvas size in pixels.
func (c *Canvas) Width() int  { return c.dc.Width() }
func (c *Canvas) Height() int { return c.dc.Height() }

// DPI returns the density used for text.
func (c *Canvas) DPI() int { return c.dpi }

// Image returns the rendered raster.
func (c *Canvas) Image() image.Image { return c.dc.Image() }

// SavePNG writes the canvas to a PNG file.
func (c *Canvas) SavePNG(path string) error { return c.dc.SavePNG(path) }
