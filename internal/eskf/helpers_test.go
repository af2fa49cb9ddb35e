package eskf

import (
	"math"
	"testing"

	"eskf-nav/internal/quat"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTestFilter(t *testing.T, cfg Config) *Filter {
	t.Helper()
	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

func defaultTestConfig() Config {
	return Config{
		SigmaAcc:      0.05,
		SigmaGyro:     0.002,
		SigmaAccBias:  1e-4,
		SigmaGyroBias: 1e-5,
		Debug:         true,
	}
}

func vec(v ...float64) *mat.VecDense {
	return mat.NewVecDense(len(v), v)
}

func zero3() *mat.VecDense { return mat.NewVecDense(3, nil) }

func stationaryState() *mat.VecDense {
	return NewState([3]float64{}, [3]float64{}, quat.Identity(), [3]float64{}, [3]float64{})
}

// testCovariance returns a deterministic symmetric positive definite matrix.
func testCovariance(n int, scale float64) *mat.Dense {
	L := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			L.Set(i, j, 0.1*math.Sin(float64(7*i+3*j+1)))
		}
		L.Set(i, i, 0.5+0.05*float64(i))
	}
	P := mat.NewDense(n, n, nil)
	P.Mul(L, L.T())
	P.Scale(scale, P)
	return P
}

func requireSymmetric(t *testing.T, m mat.Matrix, tol float64) {
	t.Helper()
	r, c := m.Dims()
	require.Equal(t, r, c)
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			if d := math.Abs(m.At(i, j) - m.At(j, i)); d > tol {
				t.Fatalf("asymmetry at (%d,%d): %v vs %v", i, j, m.At(i, j), m.At(j, i))
			}
		}
	}
}

func requirePSD(t *testing.T, m mat.Matrix, eps float64) {
	t.Helper()
	r, _ := m.Dims()
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	var eig mat.EigenSym
	require.True(t, eig.Factorize(sym, false), "eigen decomposition failed")
	for i, v := range eig.Values(nil) {
		if v < -eps {
			t.Fatalf("eigenvalue[%d]=%v want >= %v", i, v, -eps)
		}
	}
}

func requireBlock(t *testing.T, m mat.Matrix, i, j int, want mat.Matrix, tol float64) {
	t.Helper()
	r, c := want.Dims()
	for a := 0; a < r; a++ {
		for b := 0; b < c; b++ {
			if d := math.Abs(m.At(i+a, j+b) - want.At(a, b)); d > tol {
				t.Fatalf("block(%d,%d)[%d,%d]=%v want %v", i, j, a, b, m.At(i+a, j+b), want.At(a, b))
			}
		}
	}
}
