package sim

import (
	"math"
	"testing"
	"time"

	"eskf-nav/internal/eskf"
	"eskf-nav/internal/quat"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const manoeuvre = `
duration: 6s
start_ned: [0, 0, -10]
keyframes:
  - t: 0s
    vel_ned: [0, 0, 0]
  - t: 2s
    vel_ned: [4, 0, 0]
    yaw_deg: 30
  - t: 4s
    vel_ned: [4, 2, -1]
    yaw_deg: 60
    roll_deg: 10
`

func drain(g *Generator) []Sample {
	var out []Sample
	for {
		s, ok := g.Next()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

func TestGenerator_NoiselessSamplesReproduceTruth(t *testing.T) {
	scn := mustScenario(t, manoeuvre)
	g, err := NewGenerator(scn, SensorConfig{})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	samples := drain(g)
	if len(samples) != g.Len() || len(samples) != 601 {
		t.Fatalf("samples=%d len=%d want 601", len(samples), g.Len())
	}

	f, err := eskf.New(eskf.Config{})
	require.NoError(t, err)
	first := samples[0].Truth
	x := eskf.NewState(first.Position, first.Velocity, first.Attitude, [3]float64{}, [3]float64{})
	P := mat.NewDense(eskf.ErrorDim, eskf.ErrorDim, nil)
	for i := 1; i < len(samples); i++ {
		s := samples[i]
		ts := (s.IMU.At - samples[i-1].IMU.At).Seconds()
		x, P, err = f.Predict(x, P, mat.NewVecDense(3, s.IMU.Acc[:]), mat.NewVecDense(3, s.IMU.Gyro[:]), ts)
		require.NoError(t, err)
	}

	last := samples[len(samples)-1].Truth
	p, v, q := eskf.Position(x), eskf.Velocity(x), eskf.Attitude(x)
	require.InDeltaSlice(t, last.Position[:], p[:], 1e-9)
	require.InDeltaSlice(t, last.Velocity[:], v[:], 1e-9)
	require.InDeltaSlice(t, last.Attitude[:], q[:], 1e-9)
}

func TestGenerator_FixCadenceAndLeverArm(t *testing.T) {
	scn := mustScenario(t, manoeuvre)
	g, err := NewGenerator(scn, SensorConfig{FixInterval: 2 * time.Second, LeverArm: [3]float64{1, 0, 0}})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	var fixes []time.Duration
	for _, s := range drain(g) {
		if s.Fix == nil {
			continue
		}
		fixes = append(fixes, s.Fix.At)
		if s.Fix.At != s.IMU.At {
			t.Fatalf("fix at %s on imu tick %s", s.Fix.At, s.IMU.At)
		}
		R, _ := quat.ToRotationMatrix(s.Truth.Attitude, false)
		for k := 0; k < 3; k++ {
			want := s.Truth.Position[k] + R.At(k, 0)
			if math.Abs(s.Fix.Position[k]-want) > 1e-12 {
				t.Fatalf("fix[%d]=%v want %v", k, s.Fix.Position[k], want)
			}
		}
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	require.Equal(t, want, fixes)
}

func TestGenerator_NoiseAndBias(t *testing.T) {
	scn := mustScenario(t, "duration: 40s\nkeyframes:\n  - t: 0s\n")
	cfg := SensorConfig{
		AccNoise:  0.1,
		GyroNoise: 0.01,
		AccBias:   [3]float64{0.2, 0, 0},
		GyroBias:  [3]float64{0, 0, -0.05},
		Seed:      7,
	}
	g, err := NewGenerator(scn, cfg)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	var ax, az, gz []float64
	for _, s := range drain(g) {
		ax = append(ax, s.IMU.Acc[0])
		az = append(az, s.IMU.Acc[2])
		gz = append(gz, s.IMU.Gyro[2])
	}
	require.InDelta(t, 0.2, stat.Mean(ax, nil), 0.01)
	require.InDelta(t, -9.82, stat.Mean(az, nil), 0.01)
	require.InDelta(t, 0.1, stat.StdDev(ax, nil), 0.01)
	require.InDelta(t, -0.05, stat.Mean(gz, nil), 0.001)
	require.InDelta(t, 0.01, stat.StdDev(gz, nil), 0.001)
}

func TestGenerator_Deterministic(t *testing.T) {
	scn := mustScenario(t, manoeuvre)
	cfg := SensorConfig{AccNoise: 0.05, GyroNoise: 0.001, FixNoise: 1, Seed: 42}
	g1, _ := NewGenerator(scn, cfg)
	g2, _ := NewGenerator(scn, cfg)
	a, b := drain(g1), drain(g2)
	require.Equal(t, a, b)

	cfg.Seed = 43
	g3, _ := NewGenerator(scn, cfg)
	c := drain(g3)
	if c[10].IMU.Acc == a[10].IMU.Acc {
		t.Fatalf("different seeds produced identical samples")
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	scn := mustScenario(t, manoeuvre)
	if _, err := NewGenerator(nil, SensorConfig{}); err == nil {
		t.Fatalf("expected error for nil scenario")
	}
	if _, err := NewGenerator(scn, SensorConfig{IMUInterval: 3 * time.Millisecond, FixInterval: 10 * time.Millisecond}); err == nil {
		t.Fatalf("expected error for misaligned fix interval")
	}
	if _, err := NewGenerator(scn, SensorConfig{FixNoise: -1}); err == nil {
		t.Fatalf("expected error for negative noise")
	}
}
