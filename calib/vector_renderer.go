package calib

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorBEVRenderer draws the same overlay as BEVRenderer as vector graphics.
// Canvas units are millimetres with the origin at the bottom left, so the
// forward axis points up without flipping.
type VectorBEVRenderer struct {
	Transformer *CoordinateTransformer
	Pairs       []Correspondence
	Range       BEVRange
	Scale       float64 // canvas millimetres per metre
	Padding     float64 // metres
	GridSpacing float64 // metres, 0 disables the grid
	Footprint   bool
	Resolution  canvas.Resolution // PNG output resolution
}

// NewVectorBEVRenderer creates a vector renderer with default settings
func NewVectorBEVRenderer(t *CoordinateTransformer, pairs []Correspondence, limits BEVRange) *VectorBEVRenderer {
	return &VectorBEVRenderer{
		Transformer: t,
		Pairs:       pairs,
		Range:       limits,
		Scale:       2,
		Padding:     2,
		GridSpacing: 10,
		Footprint:   true,
		Resolution:  canvas.DPI(150),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (r *VectorBEVRenderer) size() (float64, float64) {
	w := (r.Range.MaxX - r.Range.MinX + 2*r.Padding) * r.Scale
	h := (r.Range.MaxY - r.Range.MinY + 2*r.Padding) * r.Scale
	return math.Max(w, 1), math.Max(h, 1)
}

func (r *VectorBEVRenderer) toCanvas(p Point) (float64, float64) {
	return (p.X - r.Range.MinX + r.Padding) * r.Scale, (p.Y - r.Range.MinY + r.Padding) * r.Scale
}

// RenderToSVG writes the overlay as SVG
func (r *VectorBEVRenderer) RenderToSVG(w io.Writer) error {
	width, height := r.size()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, width, height)
	return svgRenderer.Close()
}

// RenderToPNG rasterizes the overlay and writes it as PNG
func (r *VectorBEVRenderer) RenderToPNG(w io.Writer) error {
	width, height := r.size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, width, height)
	return png.Encode(w, rast)
}

func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

func (r *VectorBEVRenderer) renderToCanvas(renderer canvasRenderer, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: ColorBackground}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	if r.Footprint && r.Transformer != nil {
		if ring := CameraFootprint(r.Transformer, r.Range.MaxY); len(ring) >= 4 {
			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: nrgbaToRGBA(ColorFootprint)}
			style.Stroke = canvas.Paint{Color: canvas.Transparent}

			path := &canvas.Path{}
			for i, p := range ring {
				x, y := r.toCanvas(Point{X: p[0], Y: p[1]})
				if i == 0 {
					path.MoveTo(x, y)
				} else {
					path.LineTo(x, y)
				}
			}
			path.Close()
			renderer.RenderPath(path, style, canvas.Identity)
		}
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: ColorGrid}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{1.0, 1.0}

		lim := r.Range
		for x := math.Ceil(lim.MinX/r.GridSpacing) * r.GridSpacing; x <= lim.MaxX; x += r.GridSpacing {
			r.renderSegment(renderer, Point{X: x, Y: lim.MinY}, Point{X: x, Y: lim.MaxY}, gridStyle)
		}
		for y := math.Ceil(lim.MinY/r.GridSpacing) * r.GridSpacing; y <= lim.MaxY; y += r.GridSpacing {
			r.renderSegment(renderer, Point{X: lim.MinX, Y: y}, Point{X: lim.MaxX, Y: y}, gridStyle)
		}
	}

	if r.Transformer == nil {
		return
	}

	residualStyle := canvas.DefaultStyle
	residualStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	residualStyle.Stroke = canvas.Paint{Color: ColorResidual}
	residualStyle.StrokeWidth = 0.3

	radarStyle := canvas.DefaultStyle
	radarStyle.Fill = canvas.Paint{Color: ColorRadar}
	radarStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

	imageStyle := canvas.DefaultStyle
	imageStyle.Fill = canvas.Paint{Color: ColorImage}
	imageStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

	marker := 0.6 * r.Scale
	for _, g := range ProjectPairs(r.Transformer, r.Pairs) {
		if g.ImageValid {
			r.renderSegment(renderer, g.Radar, g.Image, residualStyle)
			ix, iy := r.toCanvas(g.Image)
			square := canvas.Rectangle(marker, marker).Translate(ix-marker/2, iy-marker/2)
			renderer.RenderPath(square, imageStyle, canvas.Identity)
		}
		rx, ry := r.toCanvas(g.Radar)
		renderer.RenderPath(canvas.Circle(marker/2).Translate(rx, ry), radarStyle, canvas.Identity)
	}

	sensorStyle := canvas.DefaultStyle
	sensorStyle.Fill = canvas.Paint{Color: ColorSensor}
	sensorStyle.Stroke = canvas.Paint{Color: canvas.Black}
	sensorStyle.StrokeWidth = 0.2

	sx, sy := r.toCanvas(r.Transformer.RadarToBEV(0, 0))
	renderer.RenderPath(canvas.Rectangle(marker, marker).Translate(sx-marker/2, sy-marker/2), sensorStyle, canvas.Identity)
	cx, cy := r.toCanvas(Point{X: 0, Y: r.Transformer.Params().Camera.ForwardOffset})
	renderer.RenderPath(canvas.Circle(marker/2).Translate(cx, cy), sensorStyle, canvas.Identity)
}

func (r *VectorBEVRenderer) renderSegment(renderer canvasRenderer, a, b Point, style canvas.Style) {
	path := &canvas.Path{}
	x1, y1 := r.toCanvas(a)
	x2, y2 := r.toCanvas(b)
	path.MoveTo(x1, y1)
	path.LineTo(x2, y2)
	renderer.RenderPath(path, style, canvas.Identity)
}
