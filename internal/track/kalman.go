package track

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// minDeterminant is the smallest innovation-covariance determinant the
// update step will invert. Below it the update commits the prior unchanged;
// the growing uncertainty then trips the death threshold.
const minDeterminant = 1e-12

// Filter maintains the linear-Gaussian constant-velocity state estimate for
// a single tracked object. State is [x, y, vx, vy] in meters and meters per
// second. Predict and Update are split so that missing-observation frames
// can commit the prior unchanged.
type Filter struct {
	f *mat.Dense // 4x4 state transition
	q *mat.Dense // 4x4 process noise (white-noise acceleration)
	h *mat.Dense // 2x4 observation model (position only)
	r *mat.Dense // 2x2 observation noise

	x *mat.VecDense // Current state estimate
	p *mat.Dense    // Current covariance estimate
}

// NewFilter creates a filter for an object first observed at (x, y).
// The initial state is [x, y, 0, 0] with covariance InitialCovariance * I:
// a no-prior-velocity assumption. The birth observation is then applied as
// an update with no preceding predict step; the innovation is zero, so the
// state is unchanged but the position covariance is conditioned on having
// actually seen the object once.
func NewFilter(cfg Config, x, y float64) *Filter {
	dt := cfg.DT
	t33 := cfg.ProcessNoiseScale * dt * dt * dt / 3.0
	t22 := cfg.ProcessNoiseScale * dt * dt / 2.0
	t11 := cfg.ProcessNoiseScale * dt

	f := &Filter{
		f: mat.NewDense(4, 4, []float64{
			1, 0, dt, 0,
			0, 1, 0, dt,
			0, 0, 1, 0,
			0, 0, 0, 1,
		}),
		q: mat.NewDense(4, 4, []float64{
			t33, 0, t22, 0,
			0, t33, 0, t22,
			t22, 0, t11, 0,
			0, t22, 0, t11,
		}),
		h: mat.NewDense(2, 4, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
		}),
		r: mat.NewDense(2, 2, []float64{
			cfg.ObservationNoise, 0,
			0, cfg.ObservationNoise,
		}),
		x: mat.NewVecDense(4, []float64{x, y, 0, 0}),
		p: mat.NewDense(4, 4, nil),
	}
	for i := 0; i < 4; i++ {
		f.p.Set(i, i, cfg.InitialCovariance)
	}

	f.Update(f.x, f.p, &Observation{X: x, Y: y})
	return f
}

// Predict computes the a priori state and covariance for the next frame:
// x' = F·x, P' = F·P·Fᵀ + Q. It is pure: the filter is not mutated until
// Update commits the result.
func (f *Filter) Predict() (*mat.VecDense, *mat.Dense) {
	xPrior := mat.NewVecDense(4, nil)
	xPrior.MulVec(f.f, f.x)

	var fp mat.Dense
	fp.Mul(f.f, f.p)
	pPrior := mat.NewDense(4, 4, nil)
	pPrior.Mul(&fp, f.f.T())
	pPrior.Add(pPrior, f.q)

	return xPrior, pPrior
}

// Update commits the posterior for one frame given the a priori estimate
// from Predict. A nil observation commits the prior unchanged (coasting).
func (f *Filter) Update(xPrior *mat.VecDense, pPrior *mat.Dense, obs *Observation) {
	if obs == nil {
		f.commit(xPrior, pPrior)
		return
	}

	// Innovation covariance S = H·P'·Hᵀ + R (2x2).
	var pht mat.Dense
	pht.Mul(pPrior, f.h.T())
	var s mat.Dense
	s.Mul(f.h, &pht)
	s.Add(&s, f.r)

	det := s.At(0, 0)*s.At(1, 1) - s.At(0, 1)*s.At(1, 0)
	if det < minDeterminant {
		f.commit(xPrior, pPrior)
		return
	}
	sInv := mat.NewDense(2, 2, []float64{
		s.At(1, 1) / det, -s.At(0, 1) / det,
		-s.At(1, 0) / det, s.At(0, 0) / det,
	})

	// Kalman gain K = P'·Hᵀ·S⁻¹ (4x2).
	var k mat.Dense
	k.Mul(&pht, sInv)

	// Posterior state x = x' + K·(z - H·x').
	innovation := mat.NewVecDense(2, []float64{
		obs.X - xPrior.AtVec(0),
		obs.Y - xPrior.AtVec(1),
	})
	var correction mat.VecDense
	correction.MulVec(&k, innovation)
	xPost := mat.NewVecDense(4, nil)
	xPost.AddVec(xPrior, &correction)

	// Posterior covariance P = (I - K·H)·P'.
	var kh mat.Dense
	kh.Mul(&k, f.h)
	iMinusKH := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		iMinusKH.Set(i, i, 1)
	}
	iMinusKH.Sub(iMinusKH, &kh)
	pPost := mat.NewDense(4, 4, nil)
	pPost.Mul(iMinusKH, pPrior)

	f.commit(xPost, pPost)
}

func (f *Filter) commit(x *mat.VecDense, p *mat.Dense) {
	next := mat.NewVecDense(4, nil)
	next.CopyVec(x)
	f.x = next
	nextP := mat.NewDense(4, 4, nil)
	nextP.Copy(p)
	f.p = nextP
}

// State returns the current [x, y, vx, vy] estimate.
func (f *Filter) State() [4]float64 {
	return [4]float64{f.x.AtVec(0), f.x.AtVec(1), f.x.AtVec(2), f.x.AtVec(3)}
}

// CovDiag returns the diagonal of the current covariance estimate.
func (f *Filter) CovDiag() [4]float64 {
	return [4]float64{f.p.At(0, 0), f.p.At(1, 1), f.p.At(2, 2), f.p.At(3, 3)}
}

// Uncertainty reduces the current covariance to the scalar metric
// sqrt(P00² + P11²) used by the death and quality gates.
func (f *Filter) Uncertainty() float64 {
	return math.Hypot(f.p.At(0, 0), f.p.At(1, 1))
}
