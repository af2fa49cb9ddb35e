// Package quat holds the rotation helpers shared by the estimator: Hamilton
// quaternion products, quaternion to rotation matrix and Euler conversions,
// and the skew-symmetric cross-product matrix.
//
// Quaternions are scalar-first, [w x y z], and represent the rotation from
// body frame to world frame.
package quat

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	gquat "gonum.org/v1/gonum/num/quat"
)

// ErrNotUnit is returned by checked conversions when a quaternion is not
// normalized.
var ErrNotUnit = errors.New("quaternion not normalized")

// UnitTolerance is the allowed deviation of ‖q‖ from 1 in checked conversions.
const UnitTolerance = 1e-12

type Quaternion [4]float64

// Identity is the zero rotation.
func Identity() Quaternion {
	return Quaternion{1, 0, 0, 0}
}

func (q Quaternion) number() gquat.Number {
	return gquat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]}
}

func fromNumber(n gquat.Number) Quaternion {
	return Quaternion{n.Real, n.Imag, n.Jmag, n.Kmag}
}

// Product returns the Hamilton product a ⊗ b.
func Product(a, b Quaternion) Quaternion {
	return fromNumber(gquat.Mul(a.number(), b.number()))
}

func (q Quaternion) Norm() float64 {
	return gquat.Abs(q.number())
}

// Normalize returns q scaled to unit norm. A zero quaternion is returned unchanged.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return q
	}
	return fromNumber(gquat.Scale(1/n, q.number()))
}

// Conj returns the conjugate of q, the inverse rotation for unit q.
func (q Quaternion) Conj() Quaternion {
	return fromNumber(gquat.Conj(q.number()))
}

// RotationVector returns the axis-angle vector θ·u of a unit q, taking the
// short way round (θ <= π).
func (q Quaternion) RotationVector() [3]float64 {
	if q[0] < 0 {
		q = Quaternion{-q[0], -q[1], -q[2], -q[3]}
	}
	s := math.Sqrt(q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if s == 0 {
		return [3]float64{}
	}
	theta := 2 * math.Atan2(s, q[0])
	return [3]float64{theta * q[1] / s, theta * q[2] / s, theta * q[3] / s}
}

// IsUnit reports whether ‖q‖ is within UnitTolerance of 1.
func (q Quaternion) IsUnit() bool {
	return math.Abs(q.Norm()-1) <= UnitTolerance
}

// ToRotationMatrix returns the 3x3 body-to-world rotation matrix of q.
// When check is set a non-unit q is rejected with ErrNotUnit.
func ToRotationMatrix(q Quaternion, check bool) (*mat.Dense, error) {
	if check && !q.IsUnit() {
		return nil, fmt.Errorf("quat: norm=%v: %w", q.Norm(), ErrNotUnit)
	}
	w, x, y, z := q[0], q[1], q[2], q[3]
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}), nil
}

// FromEuler builds a quaternion from ZYX Euler angles (radians): yaw about z,
// then pitch about y, then roll about x.
func FromEuler(roll, pitch, yaw float64) Quaternion {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return Quaternion{
		cr*cp*cy + sr*sp*sy,
		sr*cp*cy - cr*sp*sy,
		cr*sp*cy + sr*cp*sy,
		cr*cp*sy - sr*sp*cy,
	}
}

// ToEuler returns the ZYX Euler angles (radians) of q. Pitch is clamped to
// ±π/2 when rounding pushes the sine argument out of range.
func ToEuler(q Quaternion) (roll, pitch, yaw float64) {
	w, x, y, z := q[0], q[1], q[2], q[3]
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sp := 2 * (w*y - z*x)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return roll, pitch, yaw
}

// Skew returns [v]ₓ, the matrix with [v]ₓ·u = v × u.
func Skew(v [3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v[2], v[1],
		v[2], 0, -v[0],
		-v[1], v[0], 0,
	})
}
