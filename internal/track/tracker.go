package track

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Tracker turns a sequence of per-frame observation sets into vetted
// trajectories. It owns the set of live objects exclusively; all methods
// must be called from a single goroutine, frame-sequentially.
type Tracker struct {
	cfg              Config
	deathThreshold   float64
	qualityThreshold float64

	objects map[int64]*TrackedObject // Arena of live objects by id
	live    []int64                  // Live ids in creation order
	nextID  int64

	metersToPixels Transform // Applied only when emitting accepted trajectories
	sink           Sink

	started   bool
	lastFrame int64

	accepted int
	rejected int
}

// NewTracker creates a tracker writing accepted trajectories to sink,
// transformed through metersToPixels.
func NewTracker(cfg Config, metersToPixels Transform, sink Sink) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	return &Tracker{
		cfg:              cfg,
		deathThreshold:   cfg.DeathThreshold(),
		qualityThreshold: cfg.QualityThreshold(),
		objects:          make(map[int64]*TrackedObject),
		metersToPixels:   metersToPixels,
		sink:             sink,
	}, nil
}

// HandleFrame processes one frame of observations. Frame numbers must be
// strictly increasing across calls but may skip values; skipped frames are
// replayed as coasting steps for every live object.
func (t *Tracker) HandleFrame(frame int64, observations []Observation) error {
	if t.started && frame <= t.lastFrame {
		return fmt.Errorf("frame numbers must be strictly increasing: got %d after %d", frame, t.lastFrame)
	}
	for i, obs := range observations {
		if math.IsNaN(obs.X) || math.IsNaN(obs.Y) {
			return fmt.Errorf("frame %d: observation %d has NaN coordinates", frame, i)
		}
	}
	t.started = true
	t.lastFrame = frame

	// Snapshot the live set in last-created-first processing order. Births
	// and finalizations below never touch this snapshot mid-pass.
	order := make([]int64, len(t.live))
	for i, id := range t.live {
		order[len(t.live)-1-i] = id
	}

	var dead []int64

	// Replay skipped frames as coasting steps, with the death check after
	// each step. Objects that die here skip association.
	alive := make([]int64, 0, len(order))
	for _, id := range order {
		obj := t.objects[id]
		diedCoasting := false
		for missing := obj.lastFrame + 1; missing < frame; missing++ {
			obj.coast(missing)
			if obj.Uncertainty() > t.deathThreshold {
				dead = append(dead, id)
				diedCoasting = true
				break
			}
		}
		if !diedCoasting {
			alive = append(alive, id)
		}
	}

	claimed := make([]bool, len(observations))
	switch t.cfg.Assignment {
	case AssignOptimal:
		dead = t.associateOptimal(frame, alive, observations, claimed, dead)
	default:
		dead = t.associateGreedy(frame, alive, observations, claimed, dead)
	}

	// Apply finalizations after the association pass completes.
	var firstErr error
	for _, id := range dead {
		if err := t.finalize(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Every observation still unclaimed births a new object.
	for i, obs := range observations {
		if !claimed[i] {
			t.birth(frame, obs)
		}
	}

	return firstErr
}

// associateGreedy lets each object, in processing order, claim the nearest
// unclaimed observation within the gate. Ties break toward the lower
// observation index so association is deterministic.
func (t *Tracker) associateGreedy(frame int64, alive []int64, observations []Observation, claimed []bool, dead []int64) []int64 {
	for _, id := range alive {
		obj := t.objects[id]
		xPrior, pPrior := obj.filter.Predict()
		px, py := xPrior.AtVec(0), xPrior.AtVec(1)

		best := -1
		bestDist := math.Inf(1)
		for i, obs := range observations {
			if claimed[i] {
				continue
			}
			d := math.Hypot(obs.X-px, obs.Y-py)
			if d < bestDist {
				bestDist = d
				best = i
			}
		}

		var obs *Observation
		if best >= 0 && bestDist <= t.cfg.GateDistanceMeters {
			claimed[best] = true
			obs = &observations[best]
		}
		obj.commit(frame, xPrior, pPrior, obs)
		if obj.Uncertainty() > t.deathThreshold {
			dead = append(dead, id)
		}
	}
	return dead
}

// associateOptimal solves a one-to-one optimal assignment over all live
// objects at once, then commits the per-object updates in processing order.
// Gate-exceeding pairs are forbidden in the cost matrix, so an object far
// from every observation still coasts.
func (t *Tracker) associateOptimal(frame int64, alive []int64, observations []Observation, claimed []bool, dead []int64) []int64 {
	xPriors := make([]*mat.VecDense, len(alive))
	pPriors := make([]*mat.Dense, len(alive))
	cost := make([][]float64, len(alive))
	for i, id := range alive {
		xPriors[i], pPriors[i] = t.objects[id].filter.Predict()
		px, py := xPriors[i].AtVec(0), xPriors[i].AtVec(1)
		row := make([]float64, len(observations))
		for j, obs := range observations {
			d := math.Hypot(obs.X-px, obs.Y-py)
			if d > t.cfg.GateDistanceMeters {
				d = assignmentForbidden
			}
			row[j] = d
		}
		cost[i] = row
	}

	assignment := hungarianAssign(cost)
	for i, id := range alive {
		obj := t.objects[id]
		var obs *Observation
		if j := assignment[i]; j >= 0 {
			claimed[j] = true
			obs = &observations[j]
		}
		obj.commit(frame, xPriors[i], pPriors[i], obs)
		if obj.Uncertainty() > t.deathThreshold {
			dead = append(dead, id)
		}
	}
	return dead
}

// finalize removes an object from the live set, trims its trailing
// coast-only frames, and persists it if both quality gates pass.
func (t *Tracker) finalize(id int64) error {
	obj, ok := t.objects[id]
	if !ok {
		return nil
	}
	delete(t.objects, id)
	for i, liveID := range t.live {
		if liveID == id {
			t.live = append(t.live[:i], t.live[i+1:]...)
			break
		}
	}

	obj.trim()
	if len(obj.History) == 0 {
		return nil
	}

	if median := medianUncertainty(obj.History); !(median <= t.qualityThreshold) {
		t.rejected++
		if t.cfg.Verbose {
			log.Printf("dropping object %d: median uncertainty %g exceeds %g", obj.ID, median, t.qualityThreshold)
		}
		return nil
	}
	if excursion := excursionDistance(obj.History); !(excursion > t.cfg.MinExcursionMeters) {
		t.rejected++
		if t.cfg.Verbose {
			log.Printf("dropping object %d: excursion %g below %g", obj.ID, excursion, t.cfg.MinExcursionMeters)
		}
		return nil
	}

	t.accepted++
	if t.cfg.Verbose {
		log.Printf("saving object %d: %d frames", obj.ID, len(obj.History))
	}
	if err := t.sink.WriteTrajectory(t.records(obj)); err != nil {
		return fmt.Errorf("persist object %d: %w", obj.ID, err)
	}
	return nil
}

// records maps an accepted trajectory through the output transform.
func (t *Tracker) records(obj *TrackedObject) []Record {
	records := make([]Record, len(obj.History))
	for i, e := range obj.History {
		pixX, pixY := t.metersToPixels.Apply(e.State[0], e.State[1])
		records[i] = Record{
			Frame:   e.Frame,
			ObjID:   obj.ID,
			State:   e.State,
			CovDiag: e.CovDiag,
			Obs:     e.Obs,
			PixelX:  pixX,
			PixelY:  pixY,
		}
	}
	return records
}

func (t *Tracker) birth(frame int64, obs Observation) {
	obj := newTrackedObject(t.cfg, t.nextID, frame, obs)
	t.nextID++
	t.objects[obj.ID] = obj
	t.live = append(t.live, obj.ID)
	if t.cfg.Verbose {
		log.Printf("birth of object %d on frame %d at (%g, %g)", obj.ID, frame, obs.X, obs.Y)
	}
}

// Close finalizes all remaining live objects (end-of-stream) and closes the
// sink. The sink is closed even when a finalization fails.
func (t *Tracker) Close() error {
	var firstErr error
	for i := len(t.live) - 1; i >= 0; i-- {
		if err := t.finalize(t.live[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := t.sink.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Counts returns the number of live objects and the accepted/rejected
// totals so far.
func (t *Tracker) Counts() (live, accepted, rejected int) {
	return len(t.live), t.accepted, t.rejected
}
