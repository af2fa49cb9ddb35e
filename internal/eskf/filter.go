// Package eskf implements an error-state Kalman filter for IMU strapdown
// navigation aided by range measurements to fixed reference points.
//
// A Filter holds only the immutable configuration and the derived process
// noise. Every operation takes the nominal state and error covariance as
// explicit inputs and returns new values; nothing is retained between calls,
// so a Filter can be shared freely. Callers running prediction and updates on
// different goroutines serialize access to their own (state, covariance) pair.
package eskf

import (
	"fmt"
	"log"
	"math"

	"eskf-nav/internal/quat"

	"gonum.org/v1/gonum/mat"
)

// DefaultGravity is used when Config.Gravity is left zero.
var DefaultGravity = [3]float64{0, 0, 9.82}

// Discretization selects how the continuous error dynamics are discretized.
type Discretization int

const (
	// VanLoanExact exponentiates the Van Loan block matrix.
	VanLoanExact Discretization = iota
	// VanLoanFirstOrder replaces the exponential with I + V. It is faster and
	// only accurate for small sampling times; it must be selected explicitly.
	VanLoanFirstOrder
)

func (d Discretization) String() string {
	switch d {
	case VanLoanExact:
		return "exact"
	case VanLoanFirstOrder:
		return "first_order"
	default:
		return fmt.Sprintf("Discretization(%d)", int(d))
	}
}

// Config is the fixed filter configuration.
type Config struct {
	// IMU white noise densities.
	SigmaAcc  float64
	SigmaGyro float64
	// Bias random walk driving noise densities.
	SigmaAccBias  float64
	SigmaGyroBias float64

	// Bias time constants; zero gives a pure random walk.
	PAcc  float64
	PGyro float64

	// Sensor correction matrices applied to raw samples. Nil means identity.
	SA *mat.Dense
	SG *mat.Dense

	// Gravity in world frame. Zero means DefaultGravity.
	Gravity [3]float64

	// Debug enables the unit-quaternion check on every operation.
	Debug bool

	Discretization Discretization
}

// Filter is an immutable, configured error-state Kalman filter.
type Filter struct {
	cfg  Config
	sa   *mat.Dense
	sg   *mat.Dense
	qErr *mat.Dense
}

// New validates cfg and derives the 12x12 continuous process noise
// Q = blockdiag(σa²I, σg²I, σab²I, σgb²I).
func New(cfg Config) (*Filter, error) {
	sigmas := []struct {
		name string
		v    float64
	}{
		{"sigma_acc", cfg.SigmaAcc},
		{"sigma_gyro", cfg.SigmaGyro},
		{"sigma_acc_bias", cfg.SigmaAccBias},
		{"sigma_gyro_bias", cfg.SigmaGyroBias},
		{"p_acc", cfg.PAcc},
		{"p_gyro", cfg.PGyro},
	}
	for _, s := range sigmas {
		if s.v < 0 || math.IsNaN(s.v) || math.IsInf(s.v, 0) {
			return nil, fmt.Errorf("eskf: %s=%v must be finite and >= 0: %w", s.name, s.v, ErrConfiguration)
		}
	}
	switch cfg.Discretization {
	case VanLoanExact, VanLoanFirstOrder:
	default:
		return nil, fmt.Errorf("eskf: unknown discretization %v: %w", cfg.Discretization, ErrConfiguration)
	}

	f := &Filter{}
	var err error
	if f.sa, err = correctionMatrix("S_a", cfg.SA); err != nil {
		return nil, err
	}
	if f.sg, err = correctionMatrix("S_g", cfg.SG); err != nil {
		return nil, err
	}
	cfg.SA, cfg.SG = nil, nil
	if cfg.Gravity == ([3]float64{}) {
		cfg.Gravity = DefaultGravity
	}
	f.cfg = cfg

	f.qErr = mat.NewDense(NoiseDim, NoiseDim, nil)
	for i, s := range []float64{cfg.SigmaAcc, cfg.SigmaGyro, cfg.SigmaAccBias, cfg.SigmaGyroBias} {
		for k := 0; k < 3; k++ {
			f.qErr.Set(3*i+k, 3*i+k, s*s)
		}
	}

	if cfg.Debug {
		log.Printf("eskf: debug mode enabled, numeric invariants are checked at the expense of speed")
	}
	return f, nil
}

func correctionMatrix(name string, m *mat.Dense) (*mat.Dense, error) {
	if m == nil {
		return identity(3), nil
	}
	if r, c := m.Dims(); r != 3 || c != 3 {
		return nil, fmt.Errorf("eskf: %s is %dx%d, want 3x3: %w", name, r, c, ErrShapeMismatch)
	}
	return mat.DenseCopyOf(m), nil
}

// Config returns a copy of the effective configuration, with defaults applied.
func (f *Filter) Config() Config {
	cfg := f.cfg
	cfg.SA = mat.DenseCopyOf(f.sa)
	cfg.SG = mat.DenseCopyOf(f.sg)
	return cfg
}

// ProcessNoise returns a copy of the continuous process noise covariance.
func (f *Filter) ProcessNoise() *mat.Dense {
	return mat.DenseCopyOf(f.qErr)
}

func (f *Filter) checkAttitude(op string, q quat.Quaternion) error {
	if f.cfg.Debug && !q.IsUnit() {
		return fmt.Errorf("eskf: %s: attitude norm=%v: %w", op, q.Norm(), ErrNumericInvariant)
	}
	return nil
}

// rotation returns the body-to-world rotation of the nominal attitude.
func (f *Filter) rotation(op string, x mat.Vector) (*mat.Dense, error) {
	q := Attitude(x)
	if err := f.checkAttitude(op, q); err != nil {
		return nil, err
	}
	R, err := quat.ToRotationMatrix(q, false)
	if err != nil {
		return nil, fmt.Errorf("eskf: %s: %w", op, err)
	}
	return R, nil
}
