package calib

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	pointPairHeader = "# pixel_u, pixel_v, radar_id, radar_x, radar_y, range, velocity, rcs, batch"
	laneHeader      = "# Lane lines: lane_id, start_u, start_v, end_u, end_v"
)

// ParsePointPairsFile reads a point pair file from disk
func ParsePointPairsFile(path string) ([]Correspondence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening point pair file: %w", err)
	}
	defer f.Close()
	return ParsePointPairs(f)
}

// ParsePointPairs reads correspondences, one per line. Two layouts are accepted:
//
//	pixel_u, pixel_v, radar_id, radar_x, radar_y[, range, velocity, rcs, batch]
//	radar_x radar_y pixel_u pixel_v
//
// Blank lines and lines starting with '#' are skipped.
func ParsePointPairs(r io.Reader) ([]Correspondence, error) {
	var pairs []Correspondence
	err := scanRecords(r, func(lineNo int, fields []string, commaSeparated bool) error {
		vals, err := parseFloats(fields)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}

		if !commaSeparated {
			if len(vals) < 4 {
				return fmt.Errorf("line %d: expected 4 values, got %d", lineNo, len(vals))
			}
			pairs = append(pairs, Correspondence{
				RadarX: vals[0], RadarY: vals[1],
				PixelU: vals[2], PixelV: vals[3],
			})
			return nil
		}

		if len(vals) < 5 {
			return fmt.Errorf("line %d: expected at least 5 values, got %d", lineNo, len(vals))
		}
		c := Correspondence{
			PixelU:  vals[0],
			PixelV:  vals[1],
			RadarID: int(vals[2]),
			RadarX:  vals[3],
			RadarY:  vals[4],
		}
		optional := []*float64{&c.Range, &c.Velocity, &c.RCS}
		for i, dst := range optional {
			if 5+i < len(vals) {
				*dst = vals[5+i]
			}
		}
		if len(vals) > 8 {
			c.Batch = int(vals[8])
		}
		pairs = append(pairs, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// WritePointPairs writes correspondences in the comma-separated layout
func WritePointPairs(w io.Writer, pairs []Correspondence) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, pointPairHeader)
	for _, p := range pairs {
		fmt.Fprintf(bw, "%.2f, %.2f, %d, %.2f, %.2f, %.2f, %.2f, %.2f, %d\n",
			p.PixelU, p.PixelV, p.RadarID, p.RadarX, p.RadarY,
			p.Range, p.Velocity, p.RCS, p.Batch)
	}
	return bw.Flush()
}

// ParseLanesFile reads a lane file from disk
func ParseLanesFile(path string) ([]Line2D, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening lane file: %w", err)
	}
	defer f.Close()
	return ParseLanes(f)
}

// ParseLanes reads lane lines as "lane_id, start_u, start_v, end_u, end_v"
// or "start_u, start_v, end_u, end_v".
func ParseLanes(r io.Reader) ([]Line2D, error) {
	var lanes []Line2D
	err := scanRecords(r, func(lineNo int, fields []string, _ bool) error {
		vals, err := parseFloats(fields)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		switch len(vals) {
		case 4:
		case 5:
			vals = vals[1:]
		default:
			return fmt.Errorf("line %d: expected 4 or 5 values, got %d", lineNo, len(vals))
		}
		lanes = append(lanes, Line2D{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lanes, nil
}

// WriteLanes writes lane lines with 1-based lane IDs
func WriteLanes(w io.Writer, lanes []Line2D) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, laneHeader)
	for i, l := range lanes {
		fmt.Fprintf(bw, "%d, %.2f, %.2f, %.2f, %.2f\n", i+1, l.X1, l.Y1, l.X2, l.Y2)
	}
	return bw.Flush()
}

// scanRecords calls fn with the fields of every non-blank, non-comment line
func scanRecords(r io.Reader, fn func(lineNo int, fields []string, commaSeparated bool) error) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var fields []string
		commaSeparated := strings.Contains(line, ",")
		if commaSeparated {
			fields = strings.Split(line, ",")
		} else {
			fields = strings.Fields(line)
		}
		if err := fn(lineNo, fields, commaSeparated); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading records: %w", err)
	}
	return nil
}

func parseFloats(fields []string) ([]float64, error) {
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("field %d: value %q is not finite", i+1, strings.TrimSpace(f))
		}
		vals[i] = v
	}
	return vals, nil
}
