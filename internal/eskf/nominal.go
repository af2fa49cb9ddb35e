package eskf

import (
	"math"

	"eskf-nav/internal/quat"

	"gonum.org/v1/gonum/mat"
)

// smallAngle is the rotation-vector norm below which the delta quaternion
// axis is not divided by the angle.
const smallAngle = 1e-15

// PredictNominal integrates the nominal state over ts seconds given the
// bias-corrected specific force acc and angular rate omega, both in body frame.
//
// World acceleration is acc + gravity. Position and velocity use first and
// second order Euler steps, attitude is composed with the delta rotation of
// ts·omega and renormalized, and biases decay as (1 - ts·p)·b.
func (f *Filter) PredictNominal(x, acc, omega mat.Vector, ts float64) (*mat.VecDense, error) {
	const op = "predict nominal"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, err
	}
	if err := checkVec(op, "acceleration", acc, 3); err != nil {
		return nil, err
	}
	if err := checkVec(op, "omega", omega, 3); err != nil {
		return nil, err
	}
	if err := checkStep(op, ts); err != nil {
		return nil, err
	}
	q := Attitude(x)
	if err := f.checkAttitude(op, q); err != nil {
		return nil, err
	}

	g := f.cfg.Gravity
	out := mat.NewVecDense(NominalDim, nil)
	for i := 0; i < 3; i++ {
		aw := acc.AtVec(i) + g[i]
		p, v := x.AtVec(posIdx+i), x.AtVec(velIdx+i)
		out.SetVec(posIdx+i, p+ts*v+ts*ts/2*aw)
		out.SetVec(velIdx+i, v+ts*aw)
	}

	step := [3]float64{ts * omega.AtVec(0), ts * omega.AtVec(1), ts * omega.AtVec(2)}
	qn := quat.Product(q, deltaQuaternion(step)).Normalize()
	for i := 0; i < 4; i++ {
		out.SetVec(attIdx+i, qn[i])
	}

	ka := 1 - ts*f.cfg.PAcc
	kg := 1 - ts*f.cfg.PGyro
	for i := 0; i < 3; i++ {
		out.SetVec(accBiasIdx+i, ka*x.AtVec(accBiasIdx+i))
		out.SetVec(gyroBiasIdx+i, kg*x.AtVec(gyroBiasIdx+i))
	}
	return out, nil
}

// deltaQuaternion converts a rotation vector to [cos(θ/2), sin(θ/2)·axis].
// Below smallAngle the vector itself stands in for the axis.
func deltaQuaternion(rv [3]float64) quat.Quaternion {
	theta := norm3(rv)
	div := theta
	if theta <= smallAngle {
		div = 1
	}
	s := math.Sin(theta/2) / div
	return quat.Quaternion{math.Cos(theta / 2), s * rv[0], s * rv[1], s * rv[2]}
}
