package calib

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay colors shared by the raster and vector renderers
var (
	ColorBackground = color.RGBA{240, 240, 240, 255}
	ColorGrid       = color.RGBA{205, 205, 205, 255}
	ColorAxis       = color.RGBA{150, 150, 150, 255}
	ColorRadar      = color.RGBA{0, 0, 200, 255}
	ColorImage      = color.RGBA{220, 30, 30, 255}
	ColorResidual   = color.RGBA{90, 90, 90, 255}
	ColorFootprint  = color.NRGBA{100, 149, 237, 70}
	ColorSensor     = color.RGBA{255, 165, 0, 255}
	ColorText       = color.RGBA{0, 0, 0, 255}
)

// maxRenderSize caps either image dimension in pixels
const maxRenderSize = 4000

// footprintStep is the row spacing in pixels used to trace the camera footprint
const footprintStep = 4

// BEVRenderer draws correspondences into a bird's-eye-view raster overlay.
// Radar detections are drawn as circles, clicked pixels back-projected to the
// ground as squares, with a line between the two members of each pair.
type BEVRenderer struct {
	Transformer *CoordinateTransformer
	Pairs       []Correspondence
	Range       BEVRange
	Scale       float64 // pixels per metre
	Padding     int
	GridSpacing float64 // metres between grid lines, 0 disables the grid
	Footprint   bool    // shade the ground area visible to the camera
}

// NewBEVRenderer creates a renderer with default settings
func NewBEVRenderer(t *CoordinateTransformer, pairs []Correspondence, limits BEVRange) *BEVRenderer {
	return &BEVRenderer{
		Transformer: t,
		Pairs:       pairs,
		Range:       limits,
		Scale:       5,
		Padding:     30,
		GridSpacing: 10,
		Footprint:   true,
	}
}

// bevCanvas maps BEV metres to image pixels, forward pointing up
type bevCanvas struct {
	limits  BEVRange
	scale   float64
	padding int
	width   int
	height  int
}

func (r *BEVRenderer) canvas() bevCanvas {
	scale := r.Scale
	if scale <= 0 {
		scale = 1
	}
	w := (r.Range.MaxX - r.Range.MinX) * scale
	h := (r.Range.MaxY - r.Range.MinY) * scale
	if longest := math.Max(w, h); longest > maxRenderSize {
		scale *= maxRenderSize / longest
	}

	c := bevCanvas{limits: r.Range, scale: scale, padding: r.Padding}
	c.width = int((r.Range.MaxX-r.Range.MinX)*scale) + 2*r.Padding
	c.height = int((r.Range.MaxY-r.Range.MinY)*scale) + 2*r.Padding
	if c.width <= 0 {
		c.width = 2*r.Padding + 1
	}
	if c.height <= 0 {
		c.height = 2*r.Padding + 1
	}
	return c
}

func (c bevCanvas) toPixel(p Point) (float64, float64) {
	x := (p.X-c.limits.MinX)*c.scale + float64(c.padding)
	y := (c.limits.MaxY-p.Y)*c.scale + float64(c.padding)
	return x, y
}

func (c bevCanvas) toImage(p Point) (int, int) {
	x, y := c.toPixel(p)
	return int(math.Round(x)), int(math.Round(y))
}

// PairGeometry holds the BEV positions of one correspondence
type PairGeometry struct {
	Radar      Point
	Image      Point
	ImageValid bool
}

// ProjectPairs maps every correspondence into the BEV frame
func ProjectPairs(t *CoordinateTransformer, pairs []Correspondence) []PairGeometry {
	out := make([]PairGeometry, len(pairs))
	for i, c := range pairs {
		out[i].Radar = t.RadarToBEV(c.RadarX, c.RadarY)
		out[i].Image, out[i].ImageValid = t.ImageToBEV(c.PixelU, c.PixelV)
	}
	return out
}

// CameraFootprint traces the ground region seen by a camera whose image spans
// [0, 2cx] x [0, 2cy], clipped to maxRange metres ahead. The polygon runs up
// the left image edge and back down the right one. Fewer than three points
// means the camera sees no ground.
func CameraFootprint(t *CoordinateTransformer, maxRange float64) orb.Ring {
	cam := t.Params().Camera
	width, height := 2*cam.Cx, 2*cam.Cy

	var left, right []orb.Point
	for v := height; v >= 0; v -= footprintStep {
		l, okL := t.ImageToBEV(0, v)
		r, okR := t.ImageToBEV(width, v)
		if !okL || !okR || l.Y > maxRange || r.Y > maxRange {
			break
		}
		left = append(left, orb.Point{l.X, l.Y})
		right = append(right, orb.Point{r.X, r.Y})
	}
	if len(left) < 2 {
		return nil
	}

	ring := make(orb.Ring, 0, 2*len(left)+1)
	ring = append(ring, left...)
	for i := len(right) - 1; i >= 0; i-- {
		ring = append(ring, right[i])
	}
	return append(ring, left[0])
}

// Render draws the overlay
func (r *BEVRenderer) Render() *image.RGBA {
	c := r.canvas()
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	fillRect(img, img.Bounds(), ColorBackground)

	if r.Footprint && r.Transformer != nil {
		r.drawFootprint(img, c)
	}
	r.drawGrid(img, c)

	if r.Transformer != nil {
		// Sensor origins
		sx, sy := c.toImage(r.Transformer.RadarToBEV(0, 0))
		drawSquare(img, sx, sy, 8, ColorSensor)
		cam := r.Transformer.Params().Camera
		cx, cy := c.toImage(Point{X: 0, Y: cam.ForwardOffset})
		drawCircle(img, cx, cy, 4, ColorSensor)

		for _, g := range ProjectPairs(r.Transformer, r.Pairs) {
			rx, ry := c.toImage(g.Radar)
			if g.ImageValid {
				ix, iy := c.toImage(g.Image)
				drawLine(img, rx, ry, ix, iy, ColorResidual)
				drawSquare(img, ix, iy, 6, ColorImage)
			}
			drawCircle(img, rx, ry, 3, ColorRadar)
		}
	}

	r.drawLegend(img)
	return img
}

func (r *BEVRenderer) drawGrid(img *image.RGBA, c bevCanvas) {
	if r.GridSpacing <= 0 {
		return
	}
	lim := r.Range
	for x := math.Ceil(lim.MinX/r.GridSpacing) * r.GridSpacing; x <= lim.MaxX; x += r.GridSpacing {
		x0, y0 := c.toImage(Point{X: x, Y: lim.MinY})
		x1, y1 := c.toImage(Point{X: x, Y: lim.MaxY})
		col := ColorGrid
		if x == 0 {
			col = ColorAxis
		}
		drawLine(img, x0, y0, x1, y1, col)
	}
	for y := math.Ceil(lim.MinY/r.GridSpacing) * r.GridSpacing; y <= lim.MaxY; y += r.GridSpacing {
		x0, y0 := c.toImage(Point{X: lim.MinX, Y: y})
		x1, y1 := c.toImage(Point{X: lim.MaxX, Y: y})
		drawLine(img, x0, y0, x1, y1, ColorGrid)
		drawText(img, x1+3, y1+4, fmt.Sprintf("%.0f", y), ColorAxis)
	}
}

func (r *BEVRenderer) drawFootprint(img *image.RGBA, c bevCanvas) {
	ring := CameraFootprint(r.Transformer, r.Range.MaxY)
	if len(ring) < 4 {
		return
	}

	px := make(orb.Ring, len(ring))
	for i, p := range ring {
		x, y := c.toPixel(Point{X: p[0], Y: p[1]})
		px[i] = orb.Point{x, y}
	}
	poly := orb.Polygon{px}
	b := px.Bound()
	x0, x1 := max(int(b.Min[0]), 0), min(int(b.Max[0]), c.width-1)
	y0, y1 := max(int(b.Min[1]), 0), min(int(b.Max[1]), c.height-1)

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if planar.PolygonContains(poly, orb.Point{float64(x) + 0.5, float64(y) + 0.5}) {
				img.SetRGBA(x, y, blend(img.RGBAAt(x, y), ColorFootprint))
			}
		}
	}
}

func (r *BEVRenderer) drawLegend(img *image.RGBA) {
	entries := []struct {
		label string
		col   color.RGBA
	}{
		{"radar", ColorRadar},
		{"image", ColorImage},
		{"sensor", ColorSensor},
	}
	y := 15
	for _, e := range entries {
		fillRect(img, image.Rect(10, y-9, 22, y+3), e.col)
		drawText(img, 28, y, e.label, ColorText)
		y += 18
	}
	if r.Transformer != nil {
		pitch := r.Transformer.Params().Camera.Pitch
		drawText(img, 10, y, fmt.Sprintf("pitch %.2f deg", pitch*180/math.Pi), ColorText)
	}
}

// SavePNG renders the overlay and writes it to path
func (r *BEVRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := png.Encode(f, r.Render()); err != nil {
		return fmt.Errorf("encoding BEV overlay: %w", err)
	}
	return nil
}

// blend composites a translucent color over an opaque background
func blend(bg color.RGBA, fg color.NRGBA) color.RGBA {
	a := uint32(fg.A)
	mix := func(b, f uint8) uint8 {
		return uint8((uint32(f)*a + uint32(b)*(255-a)) / 255)
	}
	return color.RGBA{mix(bg.R, fg.R), mix(bg.G, fg.G), mix(bg.B, fg.B), 255}
}

func fillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(img.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setClipped(img, cx+dx, cy+dy, c)
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	fillRect(img, image.Rect(cx-half, cy-half, cx+half+1, cy+half+1), c)
}

// drawLine draws a 1px line with Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		setClipped(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func setClipped(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text onto an image with its baseline at y
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
