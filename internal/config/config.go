package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Filter  FilterConfig  `yaml:"filter"`
	Initial InitialConfig `yaml:"initial"`
	Update  UpdateConfig  `yaml:"update"`
	Beacons BeaconsConfig `yaml:"beacons"`
	Source  SourceConfig  `yaml:"source"`
	Record  RecordConfig  `yaml:"record"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogConfig     `yaml:"log"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

type FilterConfig struct {
	SigmaAcc      float64 `yaml:"sigma_acc"`
	SigmaGyro     float64 `yaml:"sigma_gyro"`
	SigmaAccBias  float64 `yaml:"sigma_acc_bias"`
	SigmaGyroBias float64 `yaml:"sigma_gyro_bias"`
	PAcc          float64 `yaml:"p_acc"`
	PGyro         float64 `yaml:"p_gyro"`

	// Optional 3x3 sensor correction matrices, row-major.
	SA [][]float64 `yaml:"s_a"`
	SG [][]float64 `yaml:"s_g"`

	Gravity        []float64 `yaml:"gravity"`
	Debug          bool      `yaml:"debug"`
	Discretization string    `yaml:"discretization"`
}

type InitialConfig struct {
	Position    []float64 `yaml:"position"`
	Velocity    []float64 `yaml:"velocity"`
	AttitudeDeg []float64 `yaml:"attitude_deg"`
	AccBias     []float64 `yaml:"acc_bias"`
	GyroBias    []float64 `yaml:"gyro_bias"`

	PositionStd    float64 `yaml:"position_std"`
	VelocityStd    float64 `yaml:"velocity_std"`
	AttitudeStdDeg float64 `yaml:"attitude_std_deg"`
	AccBiasStd     float64 `yaml:"acc_bias_std"`
	GyroBiasStd    float64 `yaml:"gyro_bias_std"`
}

type UpdateConfig struct {
	Model       string    `yaml:"model"`
	Mode        string    `yaml:"mode"`
	PositionStd float64   `yaml:"position_std"`
	RangeStd    float64   `yaml:"range_std"`
	LeverArm    []float64 `yaml:"lever_arm"`
}

type BeaconsConfig struct {
	Origin *OriginConfig  `yaml:"origin"`
	Points []BeaconConfig `yaml:"points"`
}

type OriginConfig struct {
	LatDeg float64 `yaml:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg"`
	AltM   float64 `yaml:"alt_m"`
}

// BeaconConfig is a reference point given either in the local frame (ned) or
// geodetically (lat_deg/lon_deg/alt_m, relative to beacons.origin).
type BeaconConfig struct {
	Name   string    `yaml:"name"`
	NED    []float64 `yaml:"ned"`
	LatDeg *float64  `yaml:"lat_deg"`
	LonDeg *float64  `yaml:"lon_deg"`
	AltM   float64   `yaml:"alt_m"`
}

// Geodetic reports whether the point is given as latitude/longitude.
func (b BeaconConfig) Geodetic() bool { return b.LatDeg != nil }

type SourceConfig struct {
	Sim    SimSourceConfig    `yaml:"sim"`
	Replay ReplaySourceConfig `yaml:"replay"`
	Serial SerialSourceConfig `yaml:"serial"`
}

type SimSourceConfig struct {
	Enable      bool          `yaml:"enable"`
	Scenario    string        `yaml:"scenario"`
	IMUInterval time.Duration `yaml:"imu_interval"`
	FixInterval time.Duration `yaml:"fix_interval"`
	AccNoise    float64       `yaml:"acc_noise"`
	GyroNoise   float64       `yaml:"gyro_noise"`
	FixNoise    float64       `yaml:"fix_noise"`
	AccBias     []float64     `yaml:"acc_bias"`
	GyroBias    []float64     `yaml:"gyro_bias"`
	Seed        uint64        `yaml:"seed"`
	// Realtime paces samples on the wall clock instead of running flat out.
	Realtime bool `yaml:"realtime"`
}

type ReplaySourceConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

// SerialSourceConfig reads sensor log lines live from a USB serial board.
// Device may be empty to auto-detect.
type SerialSourceConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type OutputConfig struct {
	UDP UDPOutputConfig `yaml:"udp"`
}

type UDPOutputConfig struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	// Path of the rotating log file. Empty logs to stderr only.
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type RuntimeConfig struct {
	LockMemory bool          `yaml:"lock_memory"`
	MaxIMUGap  time.Duration `yaml:"max_imu_gap"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	f := &cfg.Filter
	if f.Discretization == "" {
		f.Discretization = "exact"
	}
	if len(f.Gravity) == 0 {
		f.Gravity = []float64{0, 0, 9.82}
	}

	in := &cfg.Initial
	for _, v := range []*[]float64{&in.Position, &in.Velocity, &in.AttitudeDeg, &in.AccBias, &in.GyroBias} {
		if len(*v) == 0 {
			*v = []float64{0, 0, 0}
		}
	}
	if in.PositionStd == 0 {
		in.PositionStd = 10
	}
	if in.VelocityStd == 0 {
		in.VelocityStd = 1
	}
	if in.AttitudeStdDeg == 0 {
		in.AttitudeStdDeg = 5
	}
	if in.AccBiasStd == 0 {
		in.AccBiasStd = 0.1
	}
	if in.GyroBiasStd == 0 {
		in.GyroBiasStd = 0.01
	}

	u := &cfg.Update
	if u.Model == "" {
		u.Model = "ranges"
	}
	if u.Mode == "" {
		u.Mode = "batch"
	}
	if u.PositionStd == 0 {
		u.PositionStd = 1
	}
	if u.RangeStd == 0 {
		u.RangeStd = 0.5
	}
	if len(u.LeverArm) == 0 {
		u.LeverArm = []float64{0, 0, 0}
	}

	sim := &cfg.Source.Sim
	if sim.IMUInterval <= 0 {
		sim.IMUInterval = 10 * time.Millisecond
	}
	if sim.FixInterval <= 0 {
		sim.FixInterval = 1 * time.Second
	}
	if len(sim.AccBias) == 0 {
		sim.AccBias = []float64{0, 0, 0}
	}
	if len(sim.GyroBias) == 0 {
		sim.GyroBias = []float64{0, 0, 0}
	}

	if cfg.Source.Replay.Enable && cfg.Source.Replay.Speed == 0 {
		cfg.Source.Replay.Speed = 1
	}
	if cfg.Source.Serial.Enable && cfg.Source.Serial.Baud == 0 {
		cfg.Source.Serial.Baud = 115200
	}
	if cfg.Output.UDP.Interval <= 0 {
		cfg.Output.UDP.Interval = 200 * time.Millisecond
	}

	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.Runtime.MaxIMUGap <= 0 {
		cfg.Runtime.MaxIMUGap = 1 * time.Second
	}
}

func (cfg *Config) validate() error {
	f := cfg.Filter
	for _, s := range []struct {
		key string
		v   float64
	}{
		{"filter.sigma_acc", f.SigmaAcc},
		{"filter.sigma_gyro", f.SigmaGyro},
		{"filter.sigma_acc_bias", f.SigmaAccBias},
		{"filter.sigma_gyro_bias", f.SigmaGyroBias},
		{"filter.p_acc", f.PAcc},
		{"filter.p_gyro", f.PGyro},
	} {
		if s.v < 0 || math.IsNaN(s.v) || math.IsInf(s.v, 0) {
			return fmt.Errorf("%s must be >= 0", s.key)
		}
	}
	if f.Discretization != "exact" && f.Discretization != "first_order" {
		return fmt.Errorf("filter.discretization must be 'exact' or 'first_order'")
	}
	if err := check3x3("filter.s_a", f.SA); err != nil {
		return err
	}
	if err := check3x3("filter.s_g", f.SG); err != nil {
		return err
	}

	vecs := []struct {
		key string
		v   []float64
	}{
		{"filter.gravity", f.Gravity},
		{"initial.position", cfg.Initial.Position},
		{"initial.velocity", cfg.Initial.Velocity},
		{"initial.attitude_deg", cfg.Initial.AttitudeDeg},
		{"initial.acc_bias", cfg.Initial.AccBias},
		{"initial.gyro_bias", cfg.Initial.GyroBias},
		{"update.lever_arm", cfg.Update.LeverArm},
		{"source.sim.acc_bias", cfg.Source.Sim.AccBias},
		{"source.sim.gyro_bias", cfg.Source.Sim.GyroBias},
	}
	for _, v := range vecs {
		if len(v.v) != 3 {
			return fmt.Errorf("%s must have 3 elements", v.key)
		}
	}

	in := cfg.Initial
	if in.PositionStd < 0 || in.VelocityStd < 0 || in.AttitudeStdDeg < 0 || in.AccBiasStd < 0 || in.GyroBiasStd < 0 {
		return fmt.Errorf("initial.*_std must be >= 0")
	}

	u := cfg.Update
	switch u.Model {
	case "ranges", "direct":
	default:
		return fmt.Errorf("update.model must be 'ranges' or 'direct'")
	}
	if u.Mode != "batch" && u.Mode != "iterative" {
		return fmt.Errorf("update.mode must be 'batch' or 'iterative'")
	}
	if u.PositionStd < 0 {
		return fmt.Errorf("update.position_std must be > 0")
	}
	if u.RangeStd < 0 {
		return fmt.Errorf("update.range_std must be > 0")
	}

	if u.Model == "ranges" && len(cfg.Beacons.Points) == 0 {
		return fmt.Errorf("beacons.points is required when update.model is 'ranges'")
	}
	for i, p := range cfg.Beacons.Points {
		switch {
		case p.Geodetic() && len(p.NED) > 0:
			return fmt.Errorf("beacons.points[%d] must set either ned or lat_deg/lon_deg, not both", i)
		case p.Geodetic():
			if p.LonDeg == nil {
				return fmt.Errorf("beacons.points[%d].lon_deg is required with lat_deg", i)
			}
			if cfg.Beacons.Origin == nil {
				return fmt.Errorf("beacons.origin is required when beacons.points[%d] uses lat_deg/lon_deg", i)
			}
		case len(p.NED) != 3:
			return fmt.Errorf("beacons.points[%d].ned must have 3 elements", i)
		}
	}

	src := cfg.Source
	enabled := 0
	for _, on := range []bool{src.Sim.Enable, src.Replay.Enable, src.Serial.Enable} {
		if on {
			enabled++
		}
	}
	if enabled > 1 {
		return fmt.Errorf("only one of source.sim, source.replay or source.serial can be enabled")
	}
	if enabled == 0 {
		return fmt.Errorf("one of source.sim, source.replay or source.serial must be enabled")
	}
	if src.Sim.Enable {
		if src.Sim.Scenario == "" {
			return fmt.Errorf("source.sim.scenario is required when source.sim.enable is true")
		}
		if src.Sim.FixInterval%src.Sim.IMUInterval != 0 {
			return fmt.Errorf("source.sim.fix_interval must be a multiple of source.sim.imu_interval")
		}
		if src.Sim.AccNoise < 0 || src.Sim.GyroNoise < 0 || src.Sim.FixNoise < 0 {
			return fmt.Errorf("source.sim noise levels must be >= 0")
		}
	}
	if src.Replay.Enable {
		if src.Replay.Path == "" {
			return fmt.Errorf("source.replay.path is required when source.replay.enable is true")
		}
		if src.Replay.Speed < 0 {
			return fmt.Errorf("source.replay.speed must be > 0")
		}
	}

	if src.Serial.Enable && src.Serial.Baud < 0 {
		return fmt.Errorf("source.serial.baud must be > 0")
	}

	if cfg.Record.Enable {
		if src.Replay.Enable {
			return fmt.Errorf("record cannot be used with source.replay")
		}
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
	}
	if cfg.Output.UDP.Enable && cfg.Output.UDP.Dest == "" {
		return fmt.Errorf("output.udp.dest is required when output.udp.enable is true")
	}
	return nil
}

func check3x3(key string, m [][]float64) error {
	if len(m) == 0 {
		return nil
	}
	if len(m) != 3 {
		return fmt.Errorf("%s must be 3x3", key)
	}
	for _, row := range m {
		if len(row) != 3 {
			return fmt.Errorf("%s must be 3x3", key)
		}
	}
	return nil
}
