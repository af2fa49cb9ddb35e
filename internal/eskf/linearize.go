package eskf

import (
	"eskf-nav/internal/quat"

	"gonum.org/v1/gonum/mat"
)

// Aerr returns the 15x15 continuous-time Jacobian of the error dynamics about
// the nominal state x and the corrected IMU estimate (acc, omega).
func (f *Filter) Aerr(x, acc, omega mat.Vector) (*mat.Dense, error) {
	const op = "Aerr"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, err
	}
	if err := checkVec(op, "acceleration", acc, 3); err != nil {
		return nil, err
	}
	if err := checkVec(op, "omega", omega, 3); err != nil {
		return nil, err
	}
	R, err := f.rotation(op, x)
	if err != nil {
		return nil, err
	}
	return f.aerr(R, vec3(acc), vec3(omega)), nil
}

func (f *Filter) aerr(R *mat.Dense, acc, omega [3]float64) *mat.Dense {
	A := mat.NewDense(ErrorDim, ErrorDim, nil)
	setBlock(A, posIdx, velIdx, identity(3))

	var ra mat.Dense
	ra.Mul(R, quat.Skew(acc))
	setBlock(A, velIdx, errAttIdx, scaled(-1, &ra))

	var wa mat.Dense
	wa.Mul(quat.Skew(omega), f.sa)
	setBlock(A, velIdx, errAccBiasIdx, scaled(-1, &wa))

	setBlock(A, errAttIdx, errGyroBiasIdx, scaled(-1, f.sg))

	for i := 0; i < 3; i++ {
		A.Set(errAccBiasIdx+i, errAccBiasIdx+i, -f.cfg.PAcc)
		A.Set(errGyroBiasIdx+i, errGyroBiasIdx+i, -f.cfg.PGyro)
	}
	return A
}

// Gerr returns the 15x12 noise input matrix: zero position rows and
// blockdiag(-R, I, I, I) below.
func (f *Filter) Gerr(x mat.Vector) (*mat.Dense, error) {
	const op = "Gerr"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, err
	}
	R, err := f.rotation(op, x)
	if err != nil {
		return nil, err
	}
	return gerr(R), nil
}

func gerr(R *mat.Dense) *mat.Dense {
	G := mat.NewDense(ErrorDim, NoiseDim, nil)
	setBlock(G, velIdx, 0, scaled(-1, R))
	setBlock(G, errAttIdx, 3, identity(3))
	setBlock(G, errAccBiasIdx, 6, identity(3))
	setBlock(G, errGyroBiasIdx, 9, identity(3))
	return G
}
