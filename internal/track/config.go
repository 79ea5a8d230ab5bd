package track

import "fmt"

// AssignmentMode selects how observations are assigned to live objects
// within a frame.
type AssignmentMode string

const (
	// AssignGreedyNearest claims, per object in processing order, the
	// nearest unclaimed observation within the gate. Earlier-processed
	// objects can starve later ones of a closer point.
	AssignGreedyNearest AssignmentMode = "greedy"
	// AssignOptimal solves a one-to-one optimal assignment over all live
	// objects and observations, with gate-exceeding pairs forbidden.
	AssignOptimal AssignmentMode = "optimal"
)

// Constants for tracker configuration. Distances are meters; the covariance
// factors are scaled by dt³/3 to keep the thresholds dt-invariant.
const (
	// DefaultGateDistanceMeters is the association gate (5 mm).
	DefaultGateDistanceMeters = 0.005
	// DefaultProcessNoiseScale scales the white-noise acceleration model.
	DefaultProcessNoiseScale = 10.0
	// DefaultObservationNoise is the isotropic observation noise variance.
	DefaultObservationNoise = 0.01
	// DefaultInitialCovariance is the diagonal of the birth covariance.
	DefaultInitialCovariance = 0.1
	// DefaultDeathCovarFactor controls when an ongoing trajectory is killed.
	DefaultDeathCovarFactor = 7500.0
	// DefaultQualityCovarFactor controls which finished trajectories are kept.
	DefaultQualityCovarFactor = 7111.0
	// DefaultMinExcursionMeters rejects effectively stationary trajectories (2 mm).
	DefaultMinExcursionMeters = 0.002
)

// Config holds tracker and filter parameters. All thresholds derive from the
// fixed inter-frame interval DT supplied by the upstream detection source.
type Config struct {
	DT                 float64        // Inter-frame interval (seconds)
	GateDistanceMeters float64        // Euclidean association gate
	ProcessNoiseScale  float64        // Process noise scale for Q
	ObservationNoise   float64        // Observation noise variance (isotropic)
	InitialCovariance  float64        // Birth covariance diagonal
	DeathCovarFactor   float64        // Death threshold = factor * dt³/3
	QualityCovarFactor float64        // Quality threshold = factor * dt³/3
	MinExcursionMeters float64        // Motion gate
	Assignment         AssignmentMode // Association strategy
	Verbose            bool           // Log per-object lifecycle events
}

// DefaultConfig returns the reference configuration for the given
// inter-frame interval.
func DefaultConfig(dt float64) Config {
	return Config{
		DT:                 dt,
		GateDistanceMeters: DefaultGateDistanceMeters,
		ProcessNoiseScale:  DefaultProcessNoiseScale,
		ObservationNoise:   DefaultObservationNoise,
		InitialCovariance:  DefaultInitialCovariance,
		DeathCovarFactor:   DefaultDeathCovarFactor,
		QualityCovarFactor: DefaultQualityCovarFactor,
		MinExcursionMeters: DefaultMinExcursionMeters,
		Assignment:         AssignGreedyNearest,
	}
}

// DeathThreshold is the scalar position-uncertainty bound that kills an
// ongoing trajectory.
func (c Config) DeathThreshold() float64 {
	return c.DeathCovarFactor * c.DT * c.DT * c.DT / 3.0
}

// QualityThreshold is the bound on the median position uncertainty a
// finished trajectory must stay within to be persisted.
func (c Config) QualityThreshold() float64 {
	return c.QualityCovarFactor * c.DT * c.DT * c.DT / 3.0
}

// Validate checks the caller contract on the configuration.
func (c Config) Validate() error {
	if c.DT <= 0 {
		return fmt.Errorf("dt must be positive, got %v", c.DT)
	}
	if c.GateDistanceMeters <= 0 {
		return fmt.Errorf("gate distance must be positive, got %v", c.GateDistanceMeters)
	}
	if c.ObservationNoise <= 0 {
		return fmt.Errorf("observation noise must be positive, got %v", c.ObservationNoise)
	}
	if c.InitialCovariance <= 0 {
		return fmt.Errorf("initial covariance must be positive, got %v", c.InitialCovariance)
	}
	switch c.Assignment {
	case AssignGreedyNearest, AssignOptimal:
	default:
		return fmt.Errorf("unknown assignment mode %q", c.Assignment)
	}
	return nil
}
