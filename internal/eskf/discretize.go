package eskf

import (
	"gonum.org/v1/gonum/mat"
)

// DiscreteErrorMatrices discretizes the linearized error dynamics over ts with
// the Van Loan method. It returns the transition Ad and the discrete process
// noise covariance GQGd.
//
//	V    = ts·[[-A, G·Q·Gᵀ], [0, Aᵀ]]
//	E    = expm(V)
//	Ad   = E[15:30, 15:30]ᵀ
//	GQGd = Ad·E[0:15, 15:30]
func (f *Filter) DiscreteErrorMatrices(x, acc, omega mat.Vector, ts float64) (ad, gqgd *mat.Dense, err error) {
	const op = "discrete error matrices"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, nil, err
	}
	if err := checkVec(op, "acceleration", acc, 3); err != nil {
		return nil, nil, err
	}
	if err := checkVec(op, "omega", omega, 3); err != nil {
		return nil, nil, err
	}
	if err := checkStep(op, ts); err != nil {
		return nil, nil, err
	}
	R, err := f.rotation(op, x)
	if err != nil {
		return nil, nil, err
	}
	ad, gqgd = f.vanLoan(f.aerr(R, vec3(acc), vec3(omega)), gerr(R), ts)
	return ad, gqgd, nil
}

func (f *Filter) vanLoan(A, G *mat.Dense, ts float64) (ad, gqgd *mat.Dense) {
	const n = ErrorDim

	var gqg mat.Dense
	gqg.Product(G, f.qErr, G.T())

	V := mat.NewDense(2*n, 2*n, nil)
	setBlock(V, 0, 0, scaled(-ts, A))
	setBlock(V, 0, n, scaled(ts, &gqg))
	setBlock(V, n, n, scaled(ts, A.T()))

	var E mat.Dense
	switch f.cfg.Discretization {
	case VanLoanFirstOrder:
		E.Add(identity(2*n), V)
	default:
		E.Exp(V)
	}

	ad = mat.DenseCopyOf(E.Slice(n, 2*n, n, 2*n).T())
	gqgd = mat.NewDense(n, n, nil)
	gqgd.Mul(ad, E.Slice(0, n, n, 2*n))
	return ad, gqgd
}
