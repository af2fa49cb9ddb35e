package eskf

import (
	"fmt"
	"strings"

	"eskf-nav/internal/quat"

	"gonum.org/v1/gonum/mat"
)

// UpdateMode selects the range fusion strategy. Exactly one mode must be set.
type UpdateMode uint8

const (
	// UpdateBatch fuses all ranges jointly with a Joseph-form update.
	UpdateBatch UpdateMode = 1 << iota
	// UpdateIterative fuses ranges one at a time with scalar updates.
	UpdateIterative
)

func (m UpdateMode) String() string {
	var parts []string
	if m&UpdateBatch != 0 {
		parts = append(parts, "batch")
	}
	if m&UpdateIterative != 0 {
		parts = append(parts, "iterative")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// UpdatePosition corrects the state with ranges to the reference points in
// beacons (n x 3, world frame), derived from the measured position zPos.
//
// RPos and leverArm are validated but the range geometry does not use them:
// ranges are formed at the IMU reference point. leverArm may be nil.
func (f *Filter) UpdatePosition(x mat.Vector, P mat.Matrix, zPos mat.Vector, RPos, RBeacons, beacons mat.Matrix, mode UpdateMode, leverArm mat.Vector) (*mat.VecDense, *mat.Dense, error) {
	const op = "update position"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, nil, err
	}
	if err := checkMat(op, "P", P, ErrorDim, ErrorDim); err != nil {
		return nil, nil, err
	}
	if err := checkVec(op, "z_position", zPos, 3); err != nil {
		return nil, nil, err
	}
	if err := checkMat(op, "R_position", RPos, 3, 3); err != nil {
		return nil, nil, err
	}
	if leverArm != nil {
		if err := checkVec(op, "lever_arm", leverArm, 3); err != nil {
			return nil, nil, err
		}
	}
	if _, err := checkBeacons(op, beacons, RBeacons); err != nil {
		return nil, nil, err
	}

	var (
		dx  *mat.VecDense
		Pu  *mat.Dense
		err error
	)
	switch mode {
	case UpdateBatch:
		dx, Pu, err = f.BatchPseudorange(x, zPos, P, beacons, RBeacons)
	case UpdateIterative:
		dx, Pu, err = f.IterativePseudorange(x, zPos, P, beacons, RBeacons)
	default:
		return nil, nil, fmt.Errorf("eskf: %s: mode %s, want exactly one of batch or iterative: %w", op, mode, ErrConfiguration)
	}
	if err != nil {
		return nil, nil, err
	}
	return f.Inject(x, dx, Pu)
}

// BatchPseudorange computes the correction from all ranges in one linear update.
//
// For beacon i the residual is ‖bᵢ - zPos‖ - ‖bᵢ - p̂‖ and the geometry row is
// -(bᵢ - p̂)/‖bᵢ - p̂‖ in the position columns. The covariance update uses the
// Joseph form (I - WH)P(I - WH)ᵀ + WRWᵀ.
func (f *Filter) BatchPseudorange(x, zPos mat.Vector, P, beacons, RBeacons mat.Matrix) (*mat.VecDense, *mat.Dense, error) {
	const op = "batch pseudorange"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, nil, err
	}
	if err := checkVec(op, "z_position", zPos, 3); err != nil {
		return nil, nil, err
	}
	if err := checkMat(op, "P", P, ErrorDim, ErrorDim); err != nil {
		return nil, nil, err
	}
	n, err := checkBeacons(op, beacons, RBeacons)
	if err != nil {
		return nil, nil, err
	}

	pos, meas := Position(x), vec3(zPos)
	v := mat.NewVecDense(n, nil)
	H := mat.NewDense(n, ErrorDim, nil)
	for i := 0; i < n; i++ {
		b := beaconAt(beacons, i)
		los := sub3(b, pos)
		est := norm3(los)
		if est == 0 {
			return nil, nil, fmt.Errorf("eskf: %s: beacon %d coincides with the estimate: %w", op, i, ErrDegenerateGeometry)
		}
		v.SetVec(i, norm3(sub3(b, meas))-est)
		for j := 0; j < 3; j++ {
			H.Set(i, j, -los[j]/est)
		}
	}
	R := leading(RBeacons, n)

	S := mat.NewDense(n, n, nil)
	S.Product(H, P, H.T())
	S.Add(S, R)
	var Sinv mat.Dense
	if err := Sinv.Inverse(S); err != nil {
		return nil, nil, fmt.Errorf("eskf: %s: %v: %w", op, err, ErrSingularInnovation)
	}

	W := mat.NewDense(ErrorDim, n, nil)
	W.Product(P, H.T(), &Sinv)
	dx := mat.NewVecDense(ErrorDim, nil)
	dx.MulVec(W, v)
	return dx, joseph(P, W, H, R), nil
}

// IterativePseudorange fuses the ranges one beacon at a time. Each step
// predicts the range with the running correction, ‖p̂ - bᵢ‖ + Hᵢ·δx, and
// applies a scalar update with noise Rᵢᵢ. The final covariance is
// symmetrized.
func (f *Filter) IterativePseudorange(x, zPos mat.Vector, P, beacons, RBeacons mat.Matrix) (*mat.VecDense, *mat.Dense, error) {
	const op = "iterative pseudorange"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, nil, err
	}
	if err := checkVec(op, "z_position", zPos, 3); err != nil {
		return nil, nil, err
	}
	if err := checkMat(op, "P", P, ErrorDim, ErrorDim); err != nil {
		return nil, nil, err
	}
	n, err := checkBeacons(op, beacons, RBeacons)
	if err != nil {
		return nil, nil, err
	}

	pos, meas := Position(x), vec3(zPos)
	dx := mat.NewVecDense(ErrorDim, nil)
	Pk := mat.DenseCopyOf(P)
	for i := 0; i < n; i++ {
		b := beaconAt(beacons, i)
		los := sub3(pos, b)
		est := norm3(los)
		if est == 0 {
			return nil, nil, fmt.Errorf("eskf: %s: beacon %d coincides with the estimate: %w", op, i, ErrDegenerateGeometry)
		}
		H := mat.NewDense(1, ErrorDim, nil)
		for j := 0; j < 3; j++ {
			H.Set(0, j, los[j]/est)
		}
		h := H.RowView(0)
		zhat := est + mat.Dot(h, dx)
		z := norm3(sub3(meas, b))
		r := RBeacons.At(i, i)

		var ph mat.VecDense
		ph.MulVec(Pk, h)
		s := mat.Dot(h, &ph) + r
		if !(s > 0) {
			return nil, nil, fmt.Errorf("eskf: %s: beacon %d innovation variance %v: %w", op, i, s, ErrSingularInnovation)
		}
		W := mat.NewDense(ErrorDim, 1, nil)
		for j := 0; j < ErrorDim; j++ {
			W.Set(j, 0, ph.AtVec(j)/s)
		}
		dx.AddScaledVec(dx, z-zhat, W.ColView(0))
		Pk = joseph(Pk, W, H, mat.NewDense(1, 1, []float64{r}))
	}

	sym := mat.NewDense(ErrorDim, ErrorDim, nil)
	sym.Add(Pk, Pk.T())
	sym.Scale(0.5, sym)
	return dx, sym, nil
}

// UpdatePositionFix fuses a direct 3D position measurement of the receiver,
// mounted at leverArm (body frame) from the IMU. The measurement model is
// p + R·l with Jacobian [I, 0, -R[l]ₓ, 0, 0]. leverArm may be nil.
func (f *Filter) UpdatePositionFix(x mat.Vector, P mat.Matrix, zPos mat.Vector, RPos mat.Matrix, leverArm mat.Vector) (*mat.VecDense, *mat.Dense, error) {
	const op = "update position fix"
	if err := checkVec(op, "x", x, NominalDim); err != nil {
		return nil, nil, err
	}
	if err := checkMat(op, "P", P, ErrorDim, ErrorDim); err != nil {
		return nil, nil, err
	}
	if err := checkVec(op, "z_position", zPos, 3); err != nil {
		return nil, nil, err
	}
	if err := checkMat(op, "R_position", RPos, 3, 3); err != nil {
		return nil, nil, err
	}
	var l [3]float64
	if leverArm != nil {
		if err := checkVec(op, "lever_arm", leverArm, 3); err != nil {
			return nil, nil, err
		}
		l = vec3(leverArm)
	}
	R, err := f.rotation(op, x)
	if err != nil {
		return nil, nil, err
	}

	var rl mat.VecDense
	rl.MulVec(R, mat.NewVecDense(3, l[:]))
	pos := Position(x)
	nu := mat.NewVecDense(3, nil)
	for i := 0; i < 3; i++ {
		nu.SetVec(i, zPos.AtVec(i)-(pos[i]+rl.AtVec(i)))
	}

	H := mat.NewDense(3, ErrorDim, nil)
	setBlock(H, 0, posIdx, identity(3))
	var rs mat.Dense
	rs.Mul(R, quat.Skew(l))
	setBlock(H, 0, errAttIdx, scaled(-1, &rs))

	S := mat.NewDense(3, 3, nil)
	S.Product(H, P, H.T())
	S.Add(S, RPos)
	var Sinv mat.Dense
	if err := Sinv.Inverse(S); err != nil {
		return nil, nil, fmt.Errorf("eskf: %s: %v: %w", op, err, ErrSingularInnovation)
	}
	W := mat.NewDense(ErrorDim, 3, nil)
	W.Product(P, H.T(), &Sinv)
	dx := mat.NewVecDense(ErrorDim, nil)
	dx.MulVec(W, nu)
	return f.Inject(x, dx, joseph(P, W, H, RPos))
}

// joseph returns (I - WH)·P·(I - WH)ᵀ + W·R·Wᵀ.
func joseph(P mat.Matrix, W, H *mat.Dense, R mat.Matrix) *mat.Dense {
	var wh mat.Dense
	wh.Mul(W, H)
	jo := identity(ErrorDim)
	jo.Sub(jo, &wh)

	out := mat.NewDense(ErrorDim, ErrorDim, nil)
	out.Product(jo, P, jo.T())
	var wrw mat.Dense
	wrw.Product(W, R, W.T())
	out.Add(out, &wrw)
	return out
}

func checkBeacons(op string, beacons, RBeacons mat.Matrix) (int, error) {
	if beacons == nil {
		return 0, fmt.Errorf("eskf: %s: beacon locations are nil: %w", op, ErrShapeMismatch)
	}
	n, c := beacons.Dims()
	if n == 0 || c != 3 {
		return 0, fmt.Errorf("eskf: %s: beacon locations are %dx%d, want nx3 with n >= 1: %w", op, n, c, ErrShapeMismatch)
	}
	if RBeacons == nil {
		return 0, fmt.Errorf("eskf: %s: R_beacons is nil: %w", op, ErrShapeMismatch)
	}
	if r, rc := RBeacons.Dims(); r < n || rc < n {
		return 0, fmt.Errorf("eskf: %s: R_beacons is %dx%d, want at least %dx%d: %w", op, r, rc, n, n, ErrShapeMismatch)
	}
	return n, nil
}

func beaconAt(beacons mat.Matrix, i int) [3]float64 {
	return [3]float64{beacons.At(i, 0), beacons.At(i, 1), beacons.At(i, 2)}
}

// leading returns the top-left n x n block of m.
func leading(m mat.Matrix, n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out
}
