package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command-line options
type AppOptions struct {
	ConfigFile   string
	ParamsFile   string
	PairsFile    string
	LanesFile    string
	DBPath       string
	ComputePitch bool
	Optimize     bool
	SearchRange  float64
	Report       bool
	ExportFile   string
	RenderFile   string
	RenderFormat string
	HttpMode     bool
	HttpPort     int
	MqttMode     bool
}

// Runner is the set of modes main can dispatch to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunCalibration() error
	RunRender() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("radarcal: %v", err)
	}
}

// run parses args and dispatches to the selected mode. Service mode wins over
// everything else; a render file without any calibration step renders only.
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("radarcal", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to config.yaml (defaults are used when empty)")
	fs.StringVar(&opts.ParamsFile, "params", "", "Load parameters from an export or ground-truth JSON file")
	fs.StringVar(&opts.PairsFile, "pairs", "", "Point pairs text file (pixel_u, pixel_v, radar_id, radar_x, radar_y, ...)")
	fs.StringVar(&opts.LanesFile, "lanes", "", "Lane lines text file (lane_id, start_u, start_v, end_u, end_v)")
	fs.StringVar(&opts.DBPath, "db", "", "SQLite session database (overrides config database)")
	fs.BoolVar(&opts.ComputePitch, "compute-pitch", false, "Compute pitch from the lane vanishing point")
	fs.BoolVar(&opts.Optimize, "optimize", false, "Refine pitch against the point pairs")
	fs.Float64Var(&opts.SearchRange, "search-range", 0, "Optimizer search range in pixels (0 uses config, then 50)")
	fs.BoolVar(&opts.Report, "report", true, "Print the calibration quality report")
	fs.StringVar(&opts.ExportFile, "export", "", "Write the calibration export JSON to this path")
	fs.StringVar(&opts.RenderFile, "render", "", "Render the BEV overlay to this path")
	fs.StringVar(&opts.RenderFormat, "format", "png", "Render format: png, svg, vector-png, html")
	fs.BoolVar(&opts.HttpMode, "http", false, "Run the HTTP service")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP service port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Connect to MQTT (publish exports, accept parameter updates)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "radarcal version: %s\n", Version)

	switch opts.RenderFormat {
	case "png", "svg", "vector-png", "html":
	default:
		return fmt.Errorf("unknown render format %q (want png, svg, vector-png or html)", opts.RenderFormat)
	}
	if opts.SearchRange < 0 {
		return fmt.Errorf("search-range must be >= 0, got %g", opts.SearchRange)
	}

	app.ApplyOptions(opts)

	switch {
	case opts.HttpMode || opts.MqttMode:
		fmt.Fprintln(out, "radarcal service starting...")
		return app.RunService()
	case opts.RenderFile != "" && !opts.ComputePitch && !opts.Optimize && opts.ExportFile == "":
		return app.RunRender()
	default:
		return app.RunCalibration()
	}
}
