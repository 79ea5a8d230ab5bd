package track

import (
	"gonum.org/v1/gonum/mat"
)

// Observation is a single detected 2-D position in meters.
type Observation struct {
	X float64
	Y float64
}

// Estimate is one frame of a tracked object's history: the committed filter
// state alongside the raw observation that produced it (nil when the object
// coasted that frame).
type Estimate struct {
	Frame       int64
	State       [4]float64 // [x, y, vx, vy]
	CovDiag     [4]float64 // [P00, P11, P22, P33]
	Uncertainty float64    // sqrt(P00² + P11²) at this frame
	Obs         *Observation
}

// TrackedObject is one live trajectory: a filter plus its frame-ordered
// history. Objects are created on an unclaimed observation and mutated once
// per frame until the tracker finalizes them.
type TrackedObject struct {
	ID      int64
	History []Estimate

	filter *Filter

	lastFrame         int64 // Last frame with a committed estimate
	lastObservedFrame int64 // Last frame with a real observation
}

// newTrackedObject births an object from a single observation.
func newTrackedObject(cfg Config, id, frame int64, obs Observation) *TrackedObject {
	o := &TrackedObject{
		ID:                id,
		filter:            NewFilter(cfg, obs.X, obs.Y),
		lastFrame:         frame,
		lastObservedFrame: frame,
	}
	o.appendEstimate(frame, &obs)
	return o
}

// commit applies the update for one frame given the prior from Predict and
// records the committed estimate. A nil observation is a coasting step.
func (o *TrackedObject) commit(frame int64, xPrior *mat.VecDense, pPrior *mat.Dense, obs *Observation) {
	o.filter.Update(xPrior, pPrior, obs)
	o.appendEstimate(frame, obs)
	o.lastFrame = frame
	if obs != nil {
		o.lastObservedFrame = frame
	}
}

// coast advances the object one frame with no observation.
func (o *TrackedObject) coast(frame int64) {
	xPrior, pPrior := o.filter.Predict()
	o.commit(frame, xPrior, pPrior, nil)
}

func (o *TrackedObject) appendEstimate(frame int64, obs *Observation) {
	var obsCopy *Observation
	if obs != nil {
		c := *obs
		obsCopy = &c
	}
	o.History = append(o.History, Estimate{
		Frame:       frame,
		State:       o.filter.State(),
		CovDiag:     o.filter.CovDiag(),
		Uncertainty: o.filter.Uncertainty(),
		Obs:         obsCopy,
	})
}

// Uncertainty returns the scalar position-uncertainty metric of the most
// recently committed estimate.
func (o *TrackedObject) Uncertainty() float64 {
	return o.filter.Uncertainty()
}

// trim discards trailing coast-only estimates past the last frame at which
// a real observation was received. Called once at finalization, before the
// quality and motion gates.
func (o *TrackedObject) trim() {
	for i := len(o.History) - 1; i >= 0; i-- {
		if o.History[i].Frame <= o.lastObservedFrame {
			o.History = o.History[:i+1]
			return
		}
	}
	o.History = o.History[:0]
}
