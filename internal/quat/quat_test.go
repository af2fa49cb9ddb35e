package quat

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestProduct_IdentityIsNeutral(t *testing.T) {
	q := FromEuler(0.1, -0.2, 0.3)
	right, left := Product(q, Identity()), Product(Identity(), q)
	require.InDeltaSlice(t, q[:], right[:], 1e-15)
	require.InDeltaSlice(t, q[:], left[:], 1e-15)
}

func TestProduct_ComposesRotationsAboutZ(t *testing.T) {
	a := FromEuler(0, 0, 0.4)
	b := FromEuler(0, 0, 0.5)
	got := Product(a, b)
	want := FromEuler(0, 0, 0.9)
	require.InDeltaSlice(t, want[:], got[:], 1e-12)
}

func TestProduct_HamiltonBasis(t *testing.T) {
	i := Quaternion{0, 1, 0, 0}
	j := Quaternion{0, 0, 1, 0}
	k := Quaternion{0, 0, 0, 1}
	if got := Product(i, j); got != k {
		t.Fatalf("i*j=%v want %v", got, k)
	}
	if got := Product(j, i); got != (Quaternion{0, 0, 0, -1}) {
		t.Fatalf("j*i=%v want -k", got)
	}
}

func TestEulerRoundTrip(t *testing.T) {
	cases := []struct {
		name             string
		roll, pitch, yaw float64
	}{
		{"Zero", 0, 0, 0},
		{"RollOnly", 0.7, 0, 0},
		{"PitchOnly", 0, -0.4, 0},
		{"YawOnly", 0, 0, 2.5},
		{"Mixed", -1.1, 0.3, -2.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := FromEuler(tc.roll, tc.pitch, tc.yaw)
			require.InDelta(t, 1, q.Norm(), 1e-15)
			r, p, y := ToEuler(q)
			require.InDelta(t, tc.roll, r, 1e-12)
			require.InDelta(t, tc.pitch, p, 1e-12)
			require.InDelta(t, tc.yaw, y, 1e-12)
		})
	}
}

func TestToRotationMatrix_MatchesYaw(t *testing.T) {
	q := FromEuler(0, 0, math.Pi/2)
	R, err := ToRotationMatrix(q, true)
	require.NoError(t, err)

	// Body x maps to world y under a +90° yaw.
	var out mat.VecDense
	out.MulVec(R, mat.NewVecDense(3, []float64{1, 0, 0}))
	require.InDeltaSlice(t, []float64{0, 1, 0}, out.RawVector().Data, 1e-12)
}

func TestToRotationMatrix_IsOrthonormal(t *testing.T) {
	R, err := ToRotationMatrix(FromEuler(0.3, -0.8, 1.9), true)
	require.NoError(t, err)

	var rtr mat.Dense
	rtr.Mul(R.T(), R)
	eye := mat.NewDiagDense(3, []float64{1, 1, 1})
	if !mat.EqualApprox(&rtr, eye, 1e-12) {
		t.Fatalf("RᵀR=%v want I", mat.Formatted(&rtr))
	}
	require.InDelta(t, 1, mat.Det(R), 1e-12)
}

func TestToRotationMatrix_RejectsNonUnitWhenChecked(t *testing.T) {
	q := Quaternion{2, 0, 0, 0}
	_, err := ToRotationMatrix(q, true)
	if !errors.Is(err, ErrNotUnit) {
		t.Fatalf("err=%v want ErrNotUnit", err)
	}
	if _, err := ToRotationMatrix(q, false); err != nil {
		t.Fatalf("unchecked conversion error: %v", err)
	}
}

func TestNormalize(t *testing.T) {
	q := Quaternion{1, 1, 1, 1}.Normalize()
	require.InDelta(t, 1, q.Norm(), 1e-15)
	require.True(t, q.IsUnit())

	var zero Quaternion
	if got := zero.Normalize(); got != zero {
		t.Fatalf("zero.Normalize()=%v want zero", got)
	}
}

func TestSkew_MatchesCrossProduct(t *testing.T) {
	v := [3]float64{1, -2, 3}
	u := []float64{-4, 5, 0.5}
	var got mat.VecDense
	got.MulVec(Skew(v), mat.NewVecDense(3, u))
	want := []float64{
		v[1]*u[2] - v[2]*u[1],
		v[2]*u[0] - v[0]*u[2],
		v[0]*u[1] - v[1]*u[0],
	}
	require.InDeltaSlice(t, want, got.RawVector().Data, 1e-15)

	var sum mat.Dense
	sum.Add(Skew(v), Skew(v).T())
	if !mat.EqualApprox(&sum, mat.NewDense(3, 3, nil), 0) {
		t.Fatalf("skew matrix is not antisymmetric")
	}
}

func TestConj_UndoesRotation(t *testing.T) {
	q := FromEuler(0.3, -0.2, 1.1)
	got, id := Product(q, q.Conj()), Identity()
	require.InDeltaSlice(t, id[:], got[:], 1e-15)
}

func TestRotationVector(t *testing.T) {
	cases := []struct {
		name string
		q    Quaternion
		want [3]float64
	}{
		{"Identity", Identity(), [3]float64{}},
		{"YawQuarterTurn", FromEuler(0, 0, math.Pi/2), [3]float64{0, 0, math.Pi / 2}},
		{"RollSmall", FromEuler(1e-4, 0, 0), [3]float64{1e-4, 0, 0}},
		// -q is the same rotation.
		{"NegatedYaw", Quaternion{-math.Cos(0.25), 0, 0, -math.Sin(0.25)}, [3]float64{0, 0, 0.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.q.RotationVector()
			require.InDeltaSlice(t, tc.want[:], got[:], 1e-12)
		})
	}
}
