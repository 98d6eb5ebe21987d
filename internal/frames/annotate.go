package frames

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png" // cameras may post PNG snapshots

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	boxThickness = 2
	labelPadding = 4
	jpegQuality  = 90
)

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

	ppeColors = map[string]color.RGBA{
		"hardhat":  {R: 255, A: 255},
		"gloves":   {G: 255, A: 255},
		"vest":     {B: 255, A: 255},
		"mask":     {R: 255, G: 255, A: 255},
		"goggles":  {R: 255, B: 255, A: 255},
		"earplugs": {R: 255, G: 165, A: 255},
	}
)

// colorFor returns the box colour of a PPE item; unknown items are white.
func colorFor(ppe string) color.RGBA {
	if c, ok := ppeColors[ppe]; ok {
		return c
	}
	return white
}

// labelFor is the text drawn above a box.
func labelFor(d Detection) string {
	return fmt.Sprintf("No %s: %.2f", d.MissingPPE, d.Confidence)
}

// Annotate draws every detection onto frame and returns it as JPEG.
//
// Each detection gets a rectangle outline in its PPE colour and a filled
// bar of the same colour above the box holding the label in white.
func Annotate(frame []byte, detections []Detection) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	bounds := src.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, src, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	metrics := face.Metrics()
	textHeight := metrics.Ascent.Ceil()
	descent := metrics.Descent.Ceil()

	for _, d := range detections {
		c := colorFor(d.MissingPPE)
		uniform := image.NewUniform(c)

		x1, y1 := bounds.Min.X+d.BBox.X, bounds.Min.Y+d.BBox.Y
		x2, y2 := x1+d.BBox.Width, y1+d.BBox.Height
		drawRect(img, image.Rect(x1, y1, x2, y2), uniform)

		label := labelFor(d)
		textWidth := font.MeasureString(face, label).Ceil()
		bar := image.Rect(x1, y1-textHeight-descent-labelPadding, x1+textWidth, y1)
		draw.Draw(img, bar, uniform, image.Point{}, draw.Src)

		drawer := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(white),
			Face: face,
			Dot:  fixed.P(x1, y1-descent-labelPadding/2),
		}
		drawer.DrawString(label)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return out.Bytes(), nil
}

// drawRect outlines r with a boxThickness-wide border. Parts outside the
// image are clipped by draw.Draw.
func drawRect(img draw.Image, r image.Rectangle, src image.Image) {
	t := boxThickness
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), // top
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), // left
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(img, e, src, image.Point{}, draw.Src)
	}
}
