package eskf

import (
	"fmt"
	"math"

	"eskf-nav/internal/quat"

	"gonum.org/v1/gonum/mat"
)

const (
	// NominalDim is the length of the nominal state vector:
	// position(3), velocity(3), attitude quaternion(4), accel bias(3), gyro bias(3).
	NominalDim = 16
	// ErrorDim is the length of the error state; attitude error is minimal (3).
	ErrorDim = 15
	// NoiseDim is the number of continuous noise inputs:
	// accel, gyro, accel bias drive, gyro bias drive.
	NoiseDim = 12
)

// Nominal state offsets.
const (
	posIdx      = 0
	velIdx      = 3
	attIdx      = 6
	accBiasIdx  = 10
	gyroBiasIdx = 13
)

// Error state offsets. Position and velocity share the nominal offsets.
const (
	errAttIdx      = 6
	errAccBiasIdx  = 9
	errGyroBiasIdx = 12
)

// NewState packs the nominal state vector.
func NewState(position, velocity [3]float64, attitude quat.Quaternion, accBias, gyroBias [3]float64) *mat.VecDense {
	x := mat.NewVecDense(NominalDim, nil)
	for i := 0; i < 3; i++ {
		x.SetVec(posIdx+i, position[i])
		x.SetVec(velIdx+i, velocity[i])
		x.SetVec(accBiasIdx+i, accBias[i])
		x.SetVec(gyroBiasIdx+i, gyroBias[i])
	}
	for i := 0; i < 4; i++ {
		x.SetVec(attIdx+i, attitude[i])
	}
	return x
}

func Position(x mat.Vector) [3]float64 { return vec3At(x, posIdx) }
func Velocity(x mat.Vector) [3]float64 { return vec3At(x, velIdx) }
func AccBias(x mat.Vector) [3]float64  { return vec3At(x, accBiasIdx) }
func GyroBias(x mat.Vector) [3]float64 { return vec3At(x, gyroBiasIdx) }

func Attitude(x mat.Vector) quat.Quaternion {
	return quat.Quaternion{x.AtVec(attIdx), x.AtVec(attIdx + 1), x.AtVec(attIdx + 2), x.AtVec(attIdx + 3)}
}

// DiagCovariance returns a diagonal covariance with the given standard deviations.
func DiagCovariance(std ...float64) *mat.Dense {
	n := len(std)
	c := mat.NewDense(n, n, nil)
	for i, s := range std {
		c.Set(i, i, s*s)
	}
	return c
}

func vec3At(x mat.Vector, off int) [3]float64 {
	return [3]float64{x.AtVec(off), x.AtVec(off + 1), x.AtVec(off + 2)}
}

func vec3(v mat.Vector) [3]float64 { return vec3At(v, 0) }

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func sub3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func checkVec(op, name string, v mat.Vector, n int) error {
	if v == nil {
		return fmt.Errorf("eskf: %s: %s is nil: %w", op, name, ErrShapeMismatch)
	}
	if v.Len() != n {
		return fmt.Errorf("eskf: %s: %s has length %d, want %d: %w", op, name, v.Len(), n, ErrShapeMismatch)
	}
	return nil
}

func checkMat(op, name string, m mat.Matrix, r, c int) error {
	if m == nil {
		return fmt.Errorf("eskf: %s: %s is nil: %w", op, name, ErrShapeMismatch)
	}
	if mr, mc := m.Dims(); mr != r || mc != c {
		return fmt.Errorf("eskf: %s: %s is %dx%d, want %dx%d: %w", op, name, mr, mc, r, c, ErrShapeMismatch)
	}
	return nil
}

func checkStep(op string, ts float64) error {
	if !(ts > 0) || math.IsInf(ts, 0) {
		return fmt.Errorf("eskf: %s: sampling time %v must be > 0: %w", op, ts, ErrInvalidArgument)
	}
	return nil
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func scaled(f float64, m mat.Matrix) *mat.Dense {
	var d mat.Dense
	d.Scale(f, m)
	return &d
}

// setBlock copies src into dst with its top-left corner at (i, j).
func setBlock(dst *mat.Dense, i, j int, src mat.Matrix) {
	r, c := src.Dims()
	dst.Slice(i, i+r, j, j+c).(*mat.Dense).Copy(src)
}
