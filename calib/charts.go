package calib

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// SweepChart renders the optimizer's error-versus-vanishing-row curve as an
// HTML page. Penalized candidates are left out so they don't flatten the curve.
func SweepChart(w io.Writer, res OptimizeResult) error {
	data := make([]opts.ScatterData, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		if c.Error >= ProjectionPenalty || math.IsNaN(c.Error) {
			continue
		}
		data = append(data, opts.ScatterData{Value: []interface{}{c.VanishingY, c.Error}})
	}
	best := []opts.ScatterData{{Value: []interface{}{res.VanishingY, res.TotalError}}}

	xAxis := opts.XAxis{Name: "vanishing y (px)", NameLocation: "middle", NameGap: 25}
	if n := len(res.Candidates); n > 0 {
		xAxis.Min = math.Floor(res.Candidates[0].VanishingY)
		xAxis.Max = math.Ceil(res.Candidates[n-1].VanishingY)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pitch Sweep", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Reprojection error vs vanishing row",
			Subtitle: fmt.Sprintf("pitch=%.4f rad vp_y=%.1f error=%.2f (initial %.2f)", res.Pitch, res.VanishingY, res.TotalError, res.InitialError),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(xAxis),
		charts.WithYAxisOpts(opts.YAxis{Name: "error (px)", NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries("candidates", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	scatter.AddSeries("selected", best, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))

	return scatter.Render(w)
}

// BEVScatterChart renders radar detections and back-projected image points in
// the BEV frame as an interactive HTML scatter plot.
func BEVScatterChart(w io.Writer, t *CoordinateTransformer, pairs []Correspondence, limits BEVRange) error {
	radar := make([]opts.ScatterData, 0, len(pairs))
	image := make([]opts.ScatterData, 0, len(pairs))
	for _, g := range ProjectPairs(t, pairs) {
		radar = append(radar, opts.ScatterData{Value: []interface{}{g.Radar.X, g.Radar.Y}})
		if g.ImageValid {
			image = append(image, opts.ScatterData{Value: []interface{}{g.Image.X, g.Image.Y}})
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "BEV Correspondences", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "BEV Correspondences", Subtitle: fmt.Sprintf("pairs=%d projected=%d", len(pairs), len(image))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: limits.MinX, Max: limits.MaxX, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: limits.MinY, Max: limits.MaxY, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("radar", radar, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#0000c8"}))
	scatter.AddSeries("image", image, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#dc1e1e"}))

	return scatter.Render(w)
}
