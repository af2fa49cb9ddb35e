package sim

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"eskf-nav/internal/quat"

	"gopkg.in/yaml.v3"
)

// ScenarioScript is a deterministic, script-driven motion description in the
// local north-east-down frame.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 60s
//	start_ned: [0, 0, -10]
//	keyframes:
//	  - t: 0s
//	    vel_ned: [0, 0, 0]
//	    yaw_deg: 0
//	  - t: 10s
//	    vel_ned: [5, 0, 0]
//	    yaw_deg: 90
//	    roll_deg: 10
//
// Velocity is interpolated linearly between keyframes (so acceleration is
// piecewise constant) and position is its exact integral. Euler angles are
// interpolated linearly, yaw along the shortest path.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	StartNED  [3]float64    `yaml:"start_ned"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

// Keyframe is a time-stamped velocity and attitude.
type Keyframe struct {
	T        time.Duration `yaml:"t"`
	VelNED   [3]float64    `yaml:"vel_ned"`
	RollDeg  float64       `yaml:"roll_deg"`
	PitchDeg float64       `yaml:"pitch_deg"`
	YawDeg   float64       `yaml:"yaw_deg"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
	// Position at each keyframe time.
	knots [][3]float64
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	kfs := script.Keyframes
	if len(kfs) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i := range kfs {
		if kfs[i].T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kfs[i].T < kfs[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if math.Abs(kfs[i].PitchDeg) >= 90 {
			return nil, fmt.Errorf("keyframes[%d].pitch_deg must be within (-90, 90)", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = kfs[len(kfs)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}

	knots := make([][3]float64, len(kfs))
	for k := 0; k < 3; k++ {
		knots[0][k] = script.StartNED[k] + kfs[0].VelNED[k]*kfs[0].T.Seconds()
	}
	for i := 1; i < len(kfs); i++ {
		dt := (kfs[i].T - kfs[i-1].T).Seconds()
		for k := 0; k < 3; k++ {
			knots[i][k] = knots[i-1][k] + 0.5*(kfs[i-1].VelNED[k]+kfs[i].VelNED[k])*dt
		}
	}
	return &Scenario{script: script, duration: dur, knots: knots}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// Truth is the exact kinematic state at a time.
type Truth struct {
	At       time.Duration
	Position [3]float64
	Velocity [3]float64
	// World-frame acceleration.
	Accel    [3]float64
	Attitude quat.Quaternion
}

// TruthAt computes the state at elapsed, clamped to [0, Duration()]. Outside
// the keyframe span the body coasts at the nearest keyframe's velocity.
func (s *Scenario) TruthAt(elapsed time.Duration) Truth {
	if s == nil {
		return Truth{Attitude: quat.Identity()}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > s.duration {
		elapsed = s.duration
	}
	kfs := s.script.Keyframes
	out := Truth{At: elapsed}

	i, ok := segment(kfs, elapsed)
	switch {
	case !ok && elapsed <= kfs[0].T:
		v := kfs[0].VelNED
		tau := elapsed.Seconds()
		for k := 0; k < 3; k++ {
			out.Position[k] = s.script.StartNED[k] + v[k]*tau
		}
		out.Velocity = v
	case !ok:
		last := len(kfs) - 1
		v := kfs[last].VelNED
		tau := (elapsed - kfs[last].T).Seconds()
		for k := 0; k < 3; k++ {
			out.Position[k] = s.knots[last][k] + v[k]*tau
		}
		out.Velocity = v
	default:
		k0, k1 := kfs[i], kfs[i+1]
		span := (k1.T - k0.T).Seconds()
		tau := (elapsed - k0.T).Seconds()
		for k := 0; k < 3; k++ {
			a := (k1.VelNED[k] - k0.VelNED[k]) / span
			out.Accel[k] = a
			out.Velocity[k] = k0.VelNED[k] + a*tau
			out.Position[k] = s.knots[i][k] + k0.VelNED[k]*tau + 0.5*a*tau*tau
		}
	}
	out.Attitude = s.attitudeAt(elapsed)
	return out
}

func (s *Scenario) attitudeAt(t time.Duration) quat.Quaternion {
	kfs := s.script.Keyframes
	k0, k1, alpha := selectSegment(kfs, t)
	roll := lerp(k0.RollDeg, k1.RollDeg, alpha)
	pitch := lerp(k0.PitchDeg, k1.PitchDeg, alpha)
	yaw := lerpAngleDeg(k0.YawDeg, k1.YawDeg, alpha)
	return quat.FromEuler(roll*math.Pi/180, pitch*math.Pi/180, yaw*math.Pi/180)
}

// segment returns i such that kfs[i].T <= t < kfs[i+1].T with a non-empty
// span. ok is false outside the keyframe span.
func segment(kfs []Keyframe, t time.Duration) (int, bool) {
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 || idx >= len(kfs) {
		return 0, false
	}
	if kfs[idx].T-kfs[idx-1].T <= 0 {
		return 0, false
	}
	return idx - 1, true
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// lerpAngleDeg interpolates along the shortest arc and returns (-180, 180].
func lerpAngleDeg(a0, a1, t float64) float64 {
	d := math.Mod(a1-a0, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	out := math.Mod(a0+d*t, 360)
	if out > 180 {
		out -= 360
	} else if out <= -180 {
		out += 360
	}
	return out
}
