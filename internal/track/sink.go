package track

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// Record is one output row of an accepted trajectory: the committed filter
// state for a single (object, frame) pair, plus the raw observation that
// produced it and the position mapped to pixel coordinates.
type Record struct {
	Frame   int64
	ObjID   int64
	State   [4]float64 // [x, y, vx, vy] (meters)
	CovDiag [4]float64 // [P00, P11, P22, P33]
	Obs     *Observation
	PixelX  float64
	PixelY  float64
}

// Sink receives finalized, accepted trajectories from the tracker. Rejected
// trajectories never reach the sink.
type Sink interface {
	WriteTrajectory(records []Record) error
	Close() error
}

// csvHeader is the column list of the output CSV, one row per
// (object, frame) pair.
const csvHeader = "frame,obj_id,pos_x,pos_y,vel_x,vel_y,P00,P11,P22,P33,obs_x,obs_y,pos_x_pix,pos_y_pix"

// CSVSink writes accepted trajectories as delimited text. The first line
// records the dt the run used, for downstream reproducibility. Output is a
// deterministic function of the trajectories written.
type CSVSink struct {
	w *bufio.Writer
	c io.Closer // Non-nil when the sink owns the underlying writer
}

// NewCSVSink wraps w and writes the dt comment line and column header. If w
// also implements io.Closer, Close closes it after flushing.
func NewCSVSink(w io.Writer, dt float64) (*CSVSink, error) {
	s := &CSVSink{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	if _, err := fmt.Fprintf(s.w, "# dt: %v\n%s\n", dt, csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return s, nil
}

// WriteTrajectory appends one row per record. Missing observations
// serialize as NaN.
func (s *CSVSink) WriteTrajectory(records []Record) error {
	for _, r := range records {
		obsX, obsY := math.NaN(), math.NaN()
		if r.Obs != nil {
			obsX, obsY = r.Obs.X, r.Obs.Y
		}
		_, err := fmt.Fprintf(s.w, "%d,%d,%f,%f,%f,%f,%f,%f,%f,%f,%f,%f,%f,%f\n",
			r.Frame, r.ObjID,
			r.State[0], r.State[1], r.State[2], r.State[3],
			r.CovDiag[0], r.CovDiag[1], r.CovDiag[2], r.CovDiag[3],
			obsX, obsY,
			r.PixelX, r.PixelY)
		if err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	return nil
}

// Close flushes buffered rows and closes the underlying writer if the sink
// owns it.
func (s *CSVSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush csv sink: %w", err)
	}
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

// MultiSink fans trajectories out to several sinks. Close closes every sink
// and returns the first error.
type MultiSink []Sink

func (m MultiSink) WriteTrajectory(records []Record) error {
	for _, s := range m {
		if err := s.WriteTrajectory(records); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
