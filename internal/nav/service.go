// Package nav owns one running estimate and feeds it IMU samples and
// position fixes through the error-state filter.
package nav

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"eskf-nav/internal/eskf"
	"eskf-nav/internal/quat"

	gometrics "github.com/rcrowley/go-metrics"
	"gonum.org/v1/gonum/mat"
)

// FixModel selects how a position fix is fused.
type FixModel string

const (
	// FixRanges turns each fix into ranges to the configured beacons.
	FixRanges FixModel = "ranges"
	// FixDirect fuses the fix as a 3D position with lever arm.
	FixDirect FixModel = "direct"
)

// IMUSample is one accelerometer + gyroscope reading. At is the sample time
// on the caller's monotonic clock.
type IMUSample struct {
	At   time.Duration
	Acc  [3]float64
	Gyro [3]float64
}

// Fix is one measured position in the local frame.
type Fix struct {
	At       time.Duration
	Position [3]float64
}

type Config struct {
	Filter eskf.Config

	InitialState      *mat.VecDense
	InitialCovariance *mat.Dense

	Model    FixModel
	Mode     eskf.UpdateMode
	Beacons  [][3]float64
	RPos     *mat.Dense
	RBeacons *mat.Dense
	LeverArm [3]float64

	// IMU gaps longer than MaxStep restart the integration clock instead of
	// predicting across the gap. Zero means 1s.
	MaxStep time.Duration

	// Registry receives the service timers. Nil uses a private registry.
	Registry gometrics.Registry
}

type Snapshot struct {
	Valid bool
	At    time.Duration

	Position [3]float64
	Velocity [3]float64
	RollDeg  float64
	PitchDeg float64
	YawDeg   float64
	AccBias  [3]float64
	GyroBias [3]float64

	// One-sigma position uncertainty from the covariance diagonal.
	PositionStdM [3]float64

	IMUCount    int64
	FixCount    int64
	FixRejected int64

	LastError string
	UpdatedAt time.Time
}

type Service struct {
	cfg    Config
	filter *eskf.Filter

	beacons *mat.Dense
	lever   *mat.VecDense

	mu      sync.RWMutex
	x       *mat.VecDense
	P       *mat.Dense
	lastIMU time.Duration
	haveIMU bool
	snap    Snapshot

	predictTimer gometrics.Timer
	updateTimer  gometrics.Timer
	imuCounter   gometrics.Counter
	fixCounter   gometrics.Counter
	rejectCount  gometrics.Counter
	gapCounter   gometrics.Counter
}

func New(cfg Config) (*Service, error) {
	f, err := eskf.New(cfg.Filter)
	if err != nil {
		return nil, err
	}
	if cfg.InitialState == nil {
		cfg.InitialState = eskf.NewState([3]float64{}, [3]float64{}, quat.Identity(), [3]float64{}, [3]float64{})
	}
	if n := cfg.InitialState.Len(); n != eskf.NominalDim {
		return nil, fmt.Errorf("nav: initial state has %d elements, want %d", n, eskf.NominalDim)
	}
	if cfg.InitialCovariance == nil {
		return nil, fmt.Errorf("nav: initial covariance is required")
	}
	if r, c := cfg.InitialCovariance.Dims(); r != eskf.ErrorDim || c != eskf.ErrorDim {
		return nil, fmt.Errorf("nav: initial covariance is %dx%d, want %dx%d", r, c, eskf.ErrorDim, eskf.ErrorDim)
	}
	if cfg.Model == "" {
		cfg.Model = FixRanges
	}
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = time.Second
	}
	if cfg.RPos == nil {
		cfg.RPos = eskf.DiagCovariance(1, 1, 1)
	}

	s := &Service{
		cfg:    cfg,
		filter: f,
		lever:  mat.NewVecDense(3, []float64{cfg.LeverArm[0], cfg.LeverArm[1], cfg.LeverArm[2]}),
		x:      mat.VecDenseCopyOf(cfg.InitialState),
		P:      mat.DenseCopyOf(cfg.InitialCovariance),
	}

	switch cfg.Model {
	case FixRanges:
		if len(cfg.Beacons) == 0 {
			return nil, fmt.Errorf("nav: model %q needs at least one beacon", cfg.Model)
		}
		s.beacons = mat.NewDense(len(cfg.Beacons), 3, nil)
		for i, b := range cfg.Beacons {
			s.beacons.SetRow(i, b[:])
		}
		if cfg.Mode != eskf.UpdateBatch && cfg.Mode != eskf.UpdateIterative {
			return nil, fmt.Errorf("nav: update mode %s: %w", cfg.Mode, eskf.ErrConfiguration)
		}
		if cfg.RBeacons == nil {
			ones := make([]float64, len(cfg.Beacons))
			for i := range ones {
				ones[i] = 1
			}
			s.cfg.RBeacons = eskf.DiagCovariance(ones...)
		} else if r, c := cfg.RBeacons.Dims(); r < len(cfg.Beacons) || c < len(cfg.Beacons) {
			return nil, fmt.Errorf("nav: range noise is %dx%d for %d beacons", r, c, len(cfg.Beacons))
		}
	case FixDirect:
	default:
		return nil, fmt.Errorf("nav: unknown fix model %q", cfg.Model)
	}

	reg := cfg.Registry
	if reg == nil {
		reg = gometrics.NewRegistry()
	}
	s.predictTimer = gometrics.NewRegisteredTimer("nav.predict", reg)
	s.updateTimer = gometrics.NewRegisteredTimer("nav.update", reg)
	s.imuCounter = gometrics.NewRegisteredCounter("nav.imu", reg)
	s.fixCounter = gometrics.NewRegisteredCounter("nav.fix", reg)
	s.rejectCount = gometrics.NewRegisteredCounter("nav.fix.rejected", reg)
	s.gapCounter = gometrics.NewRegisteredCounter("nav.imu.gaps", reg)

	s.refreshLocked(0)
	return s, nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// State returns copies of the current nominal state and covariance.
func (s *Service) State() (*mat.VecDense, *mat.Dense) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mat.VecDenseCopyOf(s.x), mat.DenseCopyOf(s.P)
}

// HandleIMU propagates the estimate to the sample time. The first sample
// (and the first after a gap) only starts the clock.
func (s *Service) HandleIMU(sample IMUSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.imuCounter.Inc(1)
	if !s.haveIMU {
		s.lastIMU = sample.At
		s.haveIMU = true
		s.refreshLocked(sample.At)
		return nil
	}
	dt := sample.At - s.lastIMU
	if dt <= 0 {
		s.snap.LastError = fmt.Sprintf("imu: non-increasing sample time %s", sample.At)
		return nil
	}
	s.lastIMU = sample.At
	if dt > s.cfg.MaxStep {
		s.gapCounter.Inc(1)
		s.snap.LastError = fmt.Sprintf("imu: gap of %s, integration restarted", dt)
		log.Printf("nav: imu gap=%s at=%s", dt, sample.At)
		s.refreshLocked(sample.At)
		return nil
	}

	start := time.Now()
	x, P, err := s.filter.Predict(s.x, s.P, vec3(sample.Acc), vec3(sample.Gyro), dt.Seconds())
	s.predictTimer.UpdateSince(start)
	if err != nil {
		s.snap.LastError = fmt.Sprintf("predict: %v", err)
		return err
	}
	s.x, s.P = x, P
	s.refreshLocked(sample.At)
	return nil
}

// HandleFix corrects the estimate with a position fix. A failed update
// leaves the estimate untouched and is reported in Snapshot.LastError;
// prediction carries on with the next IMU sample.
func (s *Service) HandleFix(fix Fix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fixCounter.Inc(1)
	z := vec3(fix.Position)
	start := time.Now()
	var (
		x   *mat.VecDense
		P   *mat.Dense
		err error
	)
	switch s.cfg.Model {
	case FixDirect:
		x, P, err = s.filter.UpdatePositionFix(s.x, s.P, z, s.cfg.RPos, s.lever)
	default:
		x, P, err = s.filter.UpdatePosition(s.x, s.P, z, s.cfg.RPos, s.cfg.RBeacons, s.beacons, s.cfg.Mode, s.lever)
	}
	s.updateTimer.UpdateSince(start)
	if err != nil {
		s.rejectCount.Inc(1)
		s.snap.FixRejected = s.rejectCount.Count()
		s.snap.LastError = fmt.Sprintf("update: %v", err)
		if errors.Is(err, eskf.ErrConfiguration) || errors.Is(err, eskf.ErrShapeMismatch) {
			return err
		}
		log.Printf("nav: fix rejected at=%s err=%v", fix.At, err)
		return nil
	}
	s.x, s.P = x, P
	s.snap.LastError = ""
	s.refreshLocked(fix.At)
	return nil
}

// Metrics is a point-in-time summary of the service timers.
type Metrics struct {
	Predictions int64
	Updates     int64
	PredictMean time.Duration
	PredictP99  time.Duration
	UpdateMean  time.Duration
	UpdateP99   time.Duration
	IMUSamples  int64
	Fixes       int64
	Rejected    int64
	Gaps        int64
}

func (s *Service) Metrics() Metrics {
	return Metrics{
		Predictions: s.predictTimer.Count(),
		Updates:     s.updateTimer.Count(),
		PredictMean: time.Duration(s.predictTimer.Mean()),
		PredictP99:  time.Duration(s.predictTimer.Percentile(0.99)),
		UpdateMean:  time.Duration(s.updateTimer.Mean()),
		UpdateP99:   time.Duration(s.updateTimer.Percentile(0.99)),
		IMUSamples:  s.imuCounter.Count(),
		Fixes:       s.fixCounter.Count(),
		Rejected:    s.rejectCount.Count(),
		Gaps:        s.gapCounter.Count(),
	}
}

func (s *Service) refreshLocked(at time.Duration) {
	q := eskf.Attitude(s.x)
	roll, pitch, yaw := quat.ToEuler(q)
	snap := s.snap
	snap.Valid = true
	snap.At = at
	snap.Position = eskf.Position(s.x)
	snap.Velocity = eskf.Velocity(s.x)
	snap.AccBias = eskf.AccBias(s.x)
	snap.GyroBias = eskf.GyroBias(s.x)
	snap.RollDeg = roll * 180 / math.Pi
	snap.PitchDeg = pitch * 180 / math.Pi
	snap.YawDeg = yaw * 180 / math.Pi
	for i := 0; i < 3; i++ {
		snap.PositionStdM[i] = math.Sqrt(math.Max(s.P.At(i, i), 0))
	}
	snap.IMUCount = s.imuCounter.Count()
	snap.FixCount = s.fixCounter.Count()
	snap.FixRejected = s.rejectCount.Count()
	snap.UpdatedAt = time.Now().UTC()
	s.snap = snap
}

func vec3(v [3]float64) *mat.VecDense {
	return mat.NewVecDense(3, []float64{v[0], v[1], v[2]})
}
