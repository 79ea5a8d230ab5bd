// Package detcsv reads 2-D detection CSV files produced by the upstream
// feature detector and converts them into per-frame observation batches in
// physical units for the tracker.
package detcsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/banshee-data/retrack/internal/track"
)

// Arena geometry used to scale pixel detections to meters. The detection
// source images a circular arena of known physical diameter.
const (
	ArenaDiameterMeters = 0.197
	ArenaDiameterPixels = 1000.0
)

const (
	// maxFrameErrorSeconds bounds the rounding error tolerated when
	// inferring integer frame numbers from timestamps.
	maxFrameErrorSeconds = 0.020
	// maxIntervalSamples caps how many of the smallest nonzero
	// inter-timestamp deltas feed the dt estimate.
	maxIntervalSamples = 1000
)

// Frame is one batch of observations sharing a frame number.
type Frame struct {
	Number       int64
	Observations []track.Observation
}

// Dataset is a fully parsed detection file: per-frame observation batches
// in meters, the inferred inter-frame interval, and the transform that maps
// filtered positions back to pixel coordinates for output.
type Dataset struct {
	DT             float64
	Frames         []Frame
	MetersToPixels track.Transform
}

type row struct {
	timestamp float64
	x, y      float64 // Pixels
	frame     int64
}

// ReadFile parses the detection CSV at path.
func ReadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detection csv: %w", err)
	}
	defer f.Close()
	ds, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Read parses a detection CSV. The file has a header row naming at least
// timestamp, x and y columns; a frame column is used when present and
// inferred from timestamps otherwise. Lines starting with '#' are comments.
func Read(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	tsCol, ok := cols["timestamp"]
	if !ok {
		return nil, fmt.Errorf("missing timestamp column")
	}
	xCol, ok := cols["x"]
	if !ok {
		return nil, fmt.Errorf("missing x column")
	}
	yCol, ok := cols["y"]
	if !ok {
		return nil, fmt.Errorf("missing y column")
	}
	frameCol, hasFrame := cols["frame"]

	var rows []row
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var rw row
		if rw.timestamp, err = strconv.ParseFloat(record[tsCol], 64); err != nil {
			return nil, fmt.Errorf("line %d: bad timestamp: %w", line, err)
		}
		if rw.x, err = strconv.ParseFloat(record[xCol], 64); err != nil {
			return nil, fmt.Errorf("line %d: bad x: %w", line, err)
		}
		if rw.y, err = strconv.ParseFloat(record[yCol], 64); err != nil {
			return nil, fmt.Errorf("line %d: bad y: %w", line, err)
		}
		if hasFrame {
			if rw.frame, err = strconv.ParseInt(record[frameCol], 10, 64); err != nil {
				return nil, fmt.Errorf("line %d: bad frame: %w", line, err)
			}
		}
		rows = append(rows, rw)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no detection rows")
	}

	if !hasFrame {
		if err := inferFrames(rows); err != nil {
			return nil, err
		}
	}

	first, last := rows[0], rows[len(rows)-1]
	if last.frame == first.frame {
		return nil, fmt.Errorf("cannot compute dt: all detections share frame %d", first.frame)
	}
	dt := (last.timestamp - first.timestamp) / float64(last.frame-first.frame)
	if dt <= 0 {
		return nil, fmt.Errorf("cannot compute dt: non-positive interval %v", dt)
	}

	scale := ArenaDiameterMeters / ArenaDiameterPixels
	frames, err := groupFrames(rows, scale)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		DT:             dt,
		Frames:         frames,
		MetersToPixels: track.ScaleTransform(1 / scale),
	}, nil
}

// inferFrames assigns integer frame numbers by rounding each timestamp's
// offset from the first, in units of the smallest observed inter-timestamp
// interval.
func inferFrames(rows []row) error {
	dt, err := intervalEstimate(rows)
	if err != nil {
		return err
	}
	t0 := rows[0].timestamp
	for i := range rows {
		frame := math.Round((rows[i].timestamp - t0) / dt)
		predicted := frame*dt + t0
		if e := math.Abs(rows[i].timestamp - predicted); e > maxFrameErrorSeconds {
			return fmt.Errorf("frame inference error %v s exceeds %v s at row %d", e, maxFrameErrorSeconds, i)
		}
		rows[i].frame = int64(frame)
	}
	return nil
}

// intervalEstimate returns the median of the smallest nonzero deltas
// between consecutive timestamps.
func intervalEstimate(rows []row) (float64, error) {
	deltas := make([]float64, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		deltas = append(deltas, rows[i].timestamp-rows[i-1].timestamp)
	}
	sort.Float64s(deltas)

	smallest := make([]float64, 0, maxIntervalSamples)
	for _, d := range deltas {
		if d == 0 {
			continue
		}
		smallest = append(smallest, d)
		if len(smallest) >= maxIntervalSamples {
			break
		}
	}
	if len(smallest) == 0 {
		return 0, fmt.Errorf("cannot estimate frame interval: no nonzero timestamp deltas")
	}
	mid := len(smallest) / 2
	if len(smallest)%2 == 1 {
		return smallest[mid], nil
	}
	return (smallest[mid-1] + smallest[mid]) / 2, nil
}

// groupFrames batches rows by frame number, converting pixel positions to
// meters. Rows must be in non-decreasing frame order.
func groupFrames(rows []row, scale float64) ([]Frame, error) {
	var frames []Frame
	for i, rw := range rows {
		obs := track.Observation{X: rw.x * scale, Y: rw.y * scale}
		if n := len(frames); n > 0 {
			prev := frames[n-1].Number
			if rw.frame < prev {
				return nil, fmt.Errorf("row %d: frame %d out of order after %d", i, rw.frame, prev)
			}
			if rw.frame == prev {
				frames[n-1].Observations = append(frames[n-1].Observations, obs)
				continue
			}
		}
		frames = append(frames, Frame{Number: rw.frame, Observations: []track.Observation{obs}})
	}
	return frames, nil
}
