package track

import (
	"bytes"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// collectSink accumulates accepted trajectories in memory.
type collectSink struct {
	trajectories [][]Record
	closed       bool
}

func (s *collectSink) WriteTrajectory(records []Record) error {
	copied := make([]Record, len(records))
	copy(copied, records)
	s.trajectories = append(s.trajectories, copied)
	return nil
}

func (s *collectSink) Close() error {
	s.closed = true
	return nil
}

func newTestTracker(t *testing.T, cfg Config, sink Sink) *Tracker {
	t.Helper()
	tr, err := NewTracker(cfg, IdentityTransform(), sink)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func TestBirthOnUnclaimedObservation(t *testing.T) {
	sink := &collectSink{}
	tr := newTestTracker(t, DefaultConfig(0.04), sink)

	if err := tr.HandleFrame(5, []Observation{{X: 0.01, Y: 0.02}}); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	live, _, _ := tr.Counts()
	if live != 1 {
		t.Fatalf("expected 1 live object, got %d", live)
	}
	obj := tr.objects[0]
	if obj == nil {
		t.Fatal("expected object with id 0")
	}
	if len(obj.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(obj.History))
	}
	e := obj.History[0]
	if e.Frame != 5 {
		t.Errorf("expected birth frame 5, got %d", e.Frame)
	}
	if e.State != [4]float64{0.01, 0.02, 0, 0} {
		t.Errorf("expected birth state [0.01 0.02 0 0], got %v", e.State)
	}
	if e.Obs == nil || e.Obs.X != 0.01 || e.Obs.Y != 0.02 {
		t.Errorf("expected birth observation recorded, got %+v", e.Obs)
	}
}

func TestBirthOrderIsDeterministic(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig(0.04), &collectSink{})

	obs := []Observation{{X: 0}, {X: 0.1}, {X: 0.2}}
	if err := tr.HandleFrame(0, obs); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	for id, wantX := range map[int64]float64{0: 0, 1: 0.1, 2: 0.2} {
		obj := tr.objects[id]
		if obj == nil {
			t.Fatalf("missing object %d", id)
		}
		if got := obj.History[0].State[0]; got != wantX {
			t.Errorf("object %d: expected birth x %v, got %v", id, wantX, got)
		}
	}
}

// An object observed for 10 frames then starved of observations must coast
// with strictly growing uncertainty and be finalized on the frame the
// metric first exceeds the death threshold. The persisted trajectory is
// trimmed back to the last observed frame.
func TestCoastingDeath(t *testing.T) {
	dt := 0.04
	sink := &collectSink{}
	tr := newTestTracker(t, DefaultConfig(dt), sink)

	for k := int64(0); k < 10; k++ {
		obs := Observation{X: 0.001 + 0.05*dt*float64(k), Y: 0.002}
		if err := tr.HandleFrame(k, []Observation{obs}); err != nil {
			t.Fatalf("frame %d: %v", k, err)
		}
	}

	// Replicate the coasting run on a standalone filter to find the frame
	// at which the death threshold first trips.
	replica := NewFilter(DefaultConfig(dt), 0.001, 0.002)
	for k := 1; k < 10; k++ {
		xPrior, pPrior := replica.Predict()
		replica.Update(xPrior, pPrior, &Observation{X: 0.001 + 0.05*dt*float64(k), Y: 0.002})
	}
	expectCoasts := 0
	for replica.Uncertainty() <= DefaultConfig(dt).DeathThreshold() {
		xPrior, pPrior := replica.Predict()
		replica.Update(xPrior, pPrior, nil)
		expectCoasts++
	}

	for k := 0; k < expectCoasts; k++ {
		frame := int64(10 + k)
		if live, _, _ := tr.Counts(); live != 1 {
			t.Fatalf("frame %d: object finalized early (after %d coasts, expected %d)", frame, k, expectCoasts)
		}
		if err := tr.HandleFrame(frame, nil); err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
	}
	if live, _, _ := tr.Counts(); live != 0 {
		t.Fatalf("expected finalization after %d coasting frames", expectCoasts)
	}

	if len(sink.trajectories) != 1 {
		t.Fatalf("expected 1 accepted trajectory, got %d", len(sink.trajectories))
	}
	records := sink.trajectories[0]
	if len(records) != 10 {
		t.Fatalf("expected trailing coast frames trimmed to 10 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Obs == nil {
			t.Errorf("frame %d: trimmed trajectory contains coast-only record", r.Frame)
		}
	}
	if records[len(records)-1].Frame != 9 {
		t.Errorf("expected last record at frame 9, got %d", records[len(records)-1].Frame)
	}
}

// A trajectory that never re-acquires an observation after birth carries
// only its birth estimate once trimmed; at dt=0.015 the birth uncertainty
// alone exceeds the quality threshold.
func TestQualityGateRejectsCoastOnlyObject(t *testing.T) {
	sink := &collectSink{}
	tr := newTestTracker(t, DefaultConfig(0.015), sink)

	if err := tr.HandleFrame(0, []Observation{{X: 0.01, Y: 0.01}}); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if err := tr.HandleFrame(1, nil); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	live, accepted, rejected := tr.Counts()
	if live != 0 {
		t.Fatalf("expected coast-only object finalized, %d still live", live)
	}
	if accepted != 0 || rejected != 1 {
		t.Errorf("expected 0 accepted / 1 rejected, got %d / %d", accepted, rejected)
	}
	if len(sink.trajectories) != 0 {
		t.Errorf("expected nothing persisted, got %d trajectories", len(sink.trajectories))
	}
}

func TestMotionGateRejectsStationaryObject(t *testing.T) {
	dt := 0.04
	sink := &collectSink{}
	tr := newTestTracker(t, DefaultConfig(dt), sink)

	// Two observations 0.1 mm apart: well under the 2 mm excursion gate.
	if err := tr.HandleFrame(0, []Observation{{X: 0.01, Y: 0.01}}); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if err := tr.HandleFrame(1, []Observation{{X: 0.0101, Y: 0.01}}); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, accepted, rejected := tr.Counts()
	if accepted != 0 || rejected != 1 {
		t.Errorf("expected 0 accepted / 1 rejected, got %d / %d", accepted, rejected)
	}
	if len(sink.trajectories) != 0 {
		t.Errorf("expected nothing persisted, got %d trajectories", len(sink.trajectories))
	}
}

func TestAcceptedTrajectoryOutput(t *testing.T) {
	dt := 0.04
	sink := &collectSink{}
	tr, err := NewTracker(DefaultConfig(dt), ScaleTransform(2), sink)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	for k := int64(0); k < 20; k++ {
		obs := Observation{X: 0.05 * dt * float64(k), Y: 0.001}
		if err := tr.HandleFrame(k, []Observation{obs}); err != nil {
			t.Fatalf("frame %d: %v", k, err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !sink.closed {
		t.Error("expected sink closed on Close")
	}
	if len(sink.trajectories) != 1 {
		t.Fatalf("expected 1 accepted trajectory, got %d", len(sink.trajectories))
	}
	records := sink.trajectories[0]
	if len(records) != 20 {
		t.Fatalf("expected 20 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Frame != int64(i) {
			t.Errorf("record %d: expected frame %d, got %d", i, i, r.Frame)
		}
		if r.ObjID != 0 {
			t.Errorf("record %d: expected object id 0, got %d", i, r.ObjID)
		}
		if r.PixelX != 2*r.State[0] || r.PixelY != 2*r.State[1] {
			t.Errorf("record %d: pixel position (%v, %v) does not match transform of (%v, %v)",
				i, r.PixelX, r.PixelY, r.State[0], r.State[1])
		}
	}
	// Velocity estimate settles on the true motion.
	final := records[len(records)-1]
	if math.Abs(final.State[2]-0.05) > 1e-3 || math.Abs(final.State[3]) > 1e-3 {
		t.Errorf("expected final velocity near (0.05, 0), got (%v, %v)", final.State[2], final.State[3])
	}
}

func TestExclusiveClaim(t *testing.T) {
	dt := 0.04
	sink := &collectSink{}
	tr := newTestTracker(t, DefaultConfig(dt), sink)

	for k := int64(0); k < 15; k++ {
		x := 0.03 * dt * float64(k)
		obs := []Observation{
			{X: x, Y: 0},
			{X: x + 0.05, Y: 0},
		}
		if err := tr.HandleFrame(k, obs); err != nil {
			t.Fatalf("frame %d: %v", k, err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(sink.trajectories) != 2 {
		t.Fatalf("expected 2 accepted trajectories, got %d", len(sink.trajectories))
	}
	type claim struct {
		frame int64
		x, y  float64
	}
	seen := make(map[claim]int64)
	for _, records := range sink.trajectories {
		for _, r := range records {
			if r.Obs == nil {
				continue
			}
			c := claim{frame: r.Frame, x: r.Obs.X, y: r.Obs.Y}
			if prev, ok := seen[c]; ok && prev != r.ObjID {
				t.Errorf("observation (%v, %v) at frame %d claimed by objects %d and %d",
					c.x, c.y, c.frame, prev, r.ObjID)
			}
			seen[c] = r.ObjID
		}
	}
}

// Skipped frame numbers are replayed as coasting steps so histories stay
// contiguous in frame order.
func TestSkippedFrameReplay(t *testing.T) {
	dt := 0.04
	v := 0.03
	sink := &collectSink{}
	tr := newTestTracker(t, DefaultConfig(dt), sink)

	for k := int64(0); k < 15; k++ {
		if k == 2 {
			continue // Upstream drops this frame entirely.
		}
		obs := Observation{X: v * dt * float64(k), Y: 0}
		if err := tr.HandleFrame(k, []Observation{obs}); err != nil {
			t.Fatalf("frame %d: %v", k, err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(sink.trajectories) != 1 {
		t.Fatalf("expected 1 accepted trajectory, got %d", len(sink.trajectories))
	}
	records := sink.trajectories[0]
	if len(records) != 15 {
		t.Fatalf("expected 15 records (frames 0-14), got %d", len(records))
	}
	for i, r := range records {
		if r.Frame != int64(i) {
			t.Fatalf("record %d: expected frame %d, got %d", i, i, r.Frame)
		}
		if i == 2 {
			if r.Obs != nil {
				t.Errorf("frame 2: expected coast-only record, got observation %+v", r.Obs)
			}
		} else if r.Obs == nil {
			t.Errorf("frame %d: expected observation, got coast-only record", i)
		}
	}
}

func TestFrameOrderEnforced(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig(0.04), &collectSink{})

	if err := tr.HandleFrame(5, nil); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if err := tr.HandleFrame(5, nil); err == nil {
		t.Error("expected error on duplicate frame number")
	}
	if err := tr.HandleFrame(4, nil); err == nil {
		t.Error("expected error on decreasing frame number")
	}
}

func TestNaNObservationRejected(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig(0.04), &collectSink{})

	err := tr.HandleFrame(0, []Observation{{X: math.NaN(), Y: 0}})
	if err == nil {
		t.Error("expected error on NaN observation")
	}
}

// Greedy association is order dependent: the last-created object claims its
// nearest observation first and can starve an earlier object of a globally
// better assignment. Optimal mode resolves the same frame one-to-one.
func TestGreedyVersusOptimalAssignment(t *testing.T) {
	births := []Observation{{X: 0}, {X: 0.002}}
	frame1 := []Observation{{X: 0.0019}, {X: 0.0036}}

	t.Run("greedy", func(t *testing.T) {
		tr := newTestTracker(t, DefaultConfig(0.04), &collectSink{})
		if err := tr.HandleFrame(0, births); err != nil {
			t.Fatalf("HandleFrame: %v", err)
		}
		if err := tr.HandleFrame(1, frame1); err != nil {
			t.Fatalf("HandleFrame: %v", err)
		}
		// Object 1 (at 0.002) processes first and grabs the closer point.
		if got := tr.objects[1].History[1].Obs.X; got != 0.0019 {
			t.Errorf("expected object 1 to claim 0.0019, got %v", got)
		}
		if got := tr.objects[0].History[1].Obs.X; got != 0.0036 {
			t.Errorf("expected object 0 starved onto 0.0036, got %v", got)
		}
	})

	t.Run("optimal", func(t *testing.T) {
		cfg := DefaultConfig(0.04)
		cfg.Assignment = AssignOptimal
		tr := newTestTracker(t, cfg, &collectSink{})
		if err := tr.HandleFrame(0, births); err != nil {
			t.Fatalf("HandleFrame: %v", err)
		}
		if err := tr.HandleFrame(1, frame1); err != nil {
			t.Fatalf("HandleFrame: %v", err)
		}
		// Total distance is minimized: 0.0016 + 0.0019 < 0.0001 + 0.0036.
		if got := tr.objects[1].History[1].Obs.X; got != 0.0036 {
			t.Errorf("expected object 1 assigned 0.0036, got %v", got)
		}
		if got := tr.objects[0].History[1].Obs.X; got != 0.0019 {
			t.Errorf("expected object 0 assigned 0.0019, got %v", got)
		}
	})
}

// Re-running the tracker over an identical stream must produce
// byte-identical CSV output.
func TestReplayDeterminism(t *testing.T) {
	run := func() string {
		var buf bytes.Buffer
		sink, err := NewCSVSink(&buf, 0.04)
		if err != nil {
			t.Fatalf("NewCSVSink: %v", err)
		}
		tr, err := NewTracker(DefaultConfig(0.04), ScaleTransform(1000/0.197), sink)
		if err != nil {
			t.Fatalf("NewTracker: %v", err)
		}
		for k := int64(0); k < 25; k++ {
			x := 0.03 * 0.04 * float64(k)
			obs := []Observation{
				{X: x, Y: 0.01},
				{X: 0.06 - x, Y: 0.03},
				{X: x, Y: 0.05},
			}
			if err := tr.HandleFrame(k, obs); err != nil {
				t.Fatalf("frame %d: %v", k, err)
			}
		}
		if err := tr.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		return buf.String()
	}

	first := run()
	second := run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("replay output differs (-first +second):\n%s", diff)
	}
}
