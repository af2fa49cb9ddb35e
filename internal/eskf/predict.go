package eskf

import (
	"gonum.org/v1/gonum/mat"
)

// PredictCovariance advances the error covariance: Ad·P·Adᵀ + GQGd.
func (f *Filter) PredictCovariance(x mat.Vector, P mat.Matrix, acc, omega mat.Vector, ts float64) (*mat.Dense, error) {
	const op = "predict covariance"
	if err := checkMat(op, "P", P, ErrorDim, ErrorDim); err != nil {
		return nil, err
	}
	ad, gqgd, err := f.DiscreteErrorMatrices(x, acc, omega, ts)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(ErrorDim, ErrorDim, nil)
	out.Product(ad, P, ad.T())
	out.Add(out, gqgd)
	return out, nil
}

// Predict runs one prediction step from raw IMU samples. The samples are
// corrected with S_a and S_g, the current bias estimates are removed, and
// both the nominal state and the covariance are advanced from the
// pre-step nominal state.
func (f *Filter) Predict(x mat.Vector, P mat.Matrix, zAcc, zGyro mat.Vector, ts float64) (*mat.VecDense, *mat.Dense, error) {
	const op = "predict"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, nil, err
	}
	if err := checkMat(op, "P", P, ErrorDim, ErrorDim); err != nil {
		return nil, nil, err
	}
	if err := checkVec(op, "z_acc", zAcc, 3); err != nil {
		return nil, nil, err
	}
	if err := checkVec(op, "z_gyro", zGyro, 3); err != nil {
		return nil, nil, err
	}
	if err := checkStep(op, ts); err != nil {
		return nil, nil, err
	}

	acc := mat.NewVecDense(3, nil)
	acc.MulVec(f.sa, zAcc)
	omega := mat.NewVecDense(3, nil)
	omega.MulVec(f.sg, zGyro)
	ba, bg := AccBias(x), GyroBias(x)
	for i := 0; i < 3; i++ {
		acc.SetVec(i, acc.AtVec(i)-ba[i])
		omega.SetVec(i, omega.AtVec(i)-bg[i])
	}

	xp, err := f.PredictNominal(x, acc, omega, ts)
	if err != nil {
		return nil, nil, err
	}
	Pp, err := f.PredictCovariance(x, P, acc, omega, ts)
	if err != nil {
		return nil, nil, err
	}
	return xp, Pp, nil
}
