package eskf

import (
	"fmt"

	"eskf-nav/internal/quat"

	"gonum.org/v1/gonum/mat"
)

// Inject folds the error-state correction dx into the nominal state and
// applies the matching covariance reset.
//
// dx may be any matrix with 15 elements (column, row, or a mat.Vector); it is
// read in row-major order. Position, velocity and biases are corrected
// additively. Attitude is composed with the first-order delta quaternion
// [1, δθ/2] and renormalized, and the covariance is mapped through
// G = blockdiag(I₆, I₃ - [δθ/2]ₓ, I₆) as G·P·Gᵀ.
func (f *Filter) Inject(x mat.Vector, dx mat.Matrix, P mat.Matrix) (*mat.VecDense, *mat.Dense, error) {
	const op = "inject"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, nil, err
	}
	if err := checkMat(op, "P", P, ErrorDim, ErrorDim); err != nil {
		return nil, nil, err
	}
	d, err := flatten(op, "delta_x", dx, ErrorDim)
	if err != nil {
		return nil, nil, err
	}
	q := Attitude(x)
	if err := f.checkAttitude(op, q); err != nil {
		return nil, nil, err
	}

	out := mat.VecDenseCopyOf(x)
	for i := 0; i < 3; i++ {
		out.SetVec(posIdx+i, x.AtVec(posIdx+i)+d[posIdx+i])
		out.SetVec(velIdx+i, x.AtVec(velIdx+i)+d[velIdx+i])
		out.SetVec(accBiasIdx+i, x.AtVec(accBiasIdx+i)+d[errAccBiasIdx+i])
		out.SetVec(gyroBiasIdx+i, x.AtVec(gyroBiasIdx+i)+d[errGyroBiasIdx+i])
	}

	half := [3]float64{d[errAttIdx] / 2, d[errAttIdx+1] / 2, d[errAttIdx+2] / 2}
	qi := quat.Product(q, quat.Quaternion{1, half[0], half[1], half[2]}).Normalize()
	for i := 0; i < 4; i++ {
		out.SetVec(attIdx+i, qi[i])
	}

	G := identity(ErrorDim)
	var att mat.Dense
	att.Sub(identity(3), quat.Skew(half))
	setBlock(G, errAttIdx, errAttIdx, &att)

	Pi := mat.NewDense(ErrorDim, ErrorDim, nil)
	Pi.Product(G, P, G.T())
	return out, Pi, nil
}

func flatten(op, name string, m mat.Matrix, n int) ([]float64, error) {
	if m == nil {
		return nil, fmt.Errorf("eskf: %s: %s is nil: %w", op, name, ErrShapeMismatch)
	}
	r, c := m.Dims()
	if r*c != n {
		return nil, fmt.Errorf("eskf: %s: %s is %dx%d, want %d elements: %w", op, name, r, c, n, ErrShapeMismatch)
	}
	out := make([]float64, 0, n)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out, nil
}
