package sim

import (
	"fmt"
	"math/rand/v2"
	"time"

	"eskf-nav/internal/nav"
	"eskf-nav/internal/quat"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SensorConfig describes the simulated IMU and position receiver.
type SensorConfig struct {
	IMUInterval time.Duration
	FixInterval time.Duration

	// Gravity the estimator adds back; samples are generated to cancel it.
	Gravity [3]float64

	AccNoise  float64
	GyroNoise float64
	FixNoise  float64

	AccBias  [3]float64
	GyroBias [3]float64

	// Receiver antenna offset from the IMU in body axes.
	LeverArm [3]float64

	Seed uint64
}

// Sample is one IMU tick, optionally accompanied by a fix at the same time.
type Sample struct {
	Truth Truth
	IMU   nav.IMUSample
	Fix   *nav.Fix
}

// Generator walks a Scenario on the IMU grid and synthesizes noisy samples.
//
// Accelerometer samples are world-frame specific force with gravity removed,
// acc = a - g + b_a + n, which is what the filter integrates as a = acc + g
// after subtracting its bias estimate. Each sample carries the motion over
// the interval that ends at its timestamp.
type Generator struct {
	scn   *Scenario
	cfg   SensorConfig
	steps int
	k     int

	accN  distuv.Normal
	gyroN distuv.Normal
	fixN  distuv.Normal
}

func NewGenerator(scn *Scenario, cfg SensorConfig) (*Generator, error) {
	if scn == nil {
		return nil, fmt.Errorf("scenario is nil")
	}
	if cfg.IMUInterval <= 0 {
		cfg.IMUInterval = 10 * time.Millisecond
	}
	if cfg.FixInterval <= 0 {
		cfg.FixInterval = time.Second
	}
	if cfg.FixInterval%cfg.IMUInterval != 0 {
		return nil, fmt.Errorf("fix interval %s must be a multiple of imu interval %s", cfg.FixInterval, cfg.IMUInterval)
	}
	if cfg.Gravity == ([3]float64{}) {
		cfg.Gravity = [3]float64{0, 0, 9.82}
	}
	if cfg.AccNoise < 0 || cfg.GyroNoise < 0 || cfg.FixNoise < 0 {
		return nil, fmt.Errorf("noise levels must be >= 0")
	}
	return &Generator{
		scn:   scn,
		cfg:   cfg,
		steps: int(scn.Duration() / cfg.IMUInterval),
		accN:  distuv.Normal{Mu: 0, Sigma: cfg.AccNoise, Src: rand.NewPCG(cfg.Seed, 1)},
		gyroN: distuv.Normal{Mu: 0, Sigma: cfg.GyroNoise, Src: rand.NewPCG(cfg.Seed, 2)},
		fixN:  distuv.Normal{Mu: 0, Sigma: cfg.FixNoise, Src: rand.NewPCG(cfg.Seed, 3)},
	}, nil
}

// Len is the total number of samples Next will produce.
func (g *Generator) Len() int { return g.steps + 1 }

// Next returns the next sample, or false once the scenario is exhausted.
func (g *Generator) Next() (Sample, bool) {
	if g.k > g.steps {
		return Sample{}, false
	}
	ts := g.cfg.IMUInterval
	at := time.Duration(g.k) * ts
	from := at - ts
	if g.k == 0 {
		from = 0
		at = 0
	}
	g.k++

	truth := g.scn.TruthAt(at)
	out := Sample{Truth: truth, IMU: nav.IMUSample{At: at}}

	var a [3]float64
	var omega [3]float64
	if at > from {
		a = g.scn.TruthAt(from + ts/2).Accel
		q0 := g.scn.TruthAt(from).Attitude
		rv := quat.Product(q0.Conj(), truth.Attitude).RotationVector()
		for k := 0; k < 3; k++ {
			omega[k] = rv[k] / ts.Seconds()
		}
	}
	for k := 0; k < 3; k++ {
		out.IMU.Acc[k] = a[k] - g.cfg.Gravity[k] + g.cfg.AccBias[k] + g.accN.Rand()
		out.IMU.Gyro[k] = omega[k] + g.cfg.GyroBias[k] + g.gyroN.Rand()
	}

	if at > 0 && at%g.cfg.FixInterval == 0 {
		R, _ := quat.ToRotationMatrix(truth.Attitude, false)
		var rl mat.VecDense
		rl.MulVec(R, mat.NewVecDense(3, []float64{g.cfg.LeverArm[0], g.cfg.LeverArm[1], g.cfg.LeverArm[2]}))
		fix := &nav.Fix{At: at}
		for k := 0; k < 3; k++ {
			fix.Position[k] = truth.Position[k] + rl.AtVec(k) + g.fixN.Rand()
		}
		out.Fix = fix
	}
	return out, true
}
