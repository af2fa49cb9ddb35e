package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

const minimal = `
source:
  sim:
    enable: true
    scenario: ./scenario.yaml
beacons:
  points:
    - name: a
      ned: [100, 0, 0]
`

func TestLoad_RequiresSource(t *testing.T) {
	path := writeTempConfig(t, "beacons:\n  points:\n    - ned: [1, 2, 3]\n")
	_, err := Load(path)
	requireErrEq(t, err, "one of source.sim, source.replay or source.serial must be enabled")
}

func TestLoad_EmptyFile(t *testing.T) {
	_, err := Load(writeTempConfig(t, ""))
	requireErrEq(t, err, "beacons.points is required when update.model is 'ranges'")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Filter.Discretization != "exact" {
		t.Fatalf("discretization=%q want exact", cfg.Filter.Discretization)
	}
	if len(cfg.Filter.Gravity) != 3 || cfg.Filter.Gravity[2] != 9.82 {
		t.Fatalf("gravity=%v want [0 0 9.82]", cfg.Filter.Gravity)
	}
	if cfg.Update.Model != "ranges" || cfg.Update.Mode != "batch" {
		t.Fatalf("update=%+v want ranges/batch", cfg.Update)
	}
	if cfg.Source.Sim.IMUInterval != 10*time.Millisecond || cfg.Source.Sim.FixInterval != time.Second {
		t.Fatalf("sim intervals imu=%s fix=%s", cfg.Source.Sim.IMUInterval, cfg.Source.Sim.FixInterval)
	}
	if cfg.Initial.PositionStd != 10 || cfg.Initial.AttitudeStdDeg != 5 {
		t.Fatalf("initial std defaults not applied: %+v", cfg.Initial)
	}
	if cfg.Output.UDP.Interval != 200*time.Millisecond {
		t.Fatalf("udp interval=%s want 200ms", cfg.Output.UDP.Interval)
	}
	if cfg.Log.MaxSizeMB != 10 || cfg.Log.MaxBackups != 3 || cfg.Log.MaxAgeDays != 28 {
		t.Fatalf("log defaults not applied: %+v", cfg.Log)
	}
	if cfg.Runtime.MaxIMUGap != time.Second {
		t.Fatalf("max_imu_gap=%s want 1s", cfg.Runtime.MaxIMUGap)
	}
	if len(cfg.Initial.Position) != 3 || len(cfg.Update.LeverArm) != 3 {
		t.Fatalf("vector defaults not applied")
	}
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `
filter:
  sigma_acc: 0.05
  sigma_gyro: 0.002
  p_acc: 0.01
  s_a: [[1, 0, 0], [0, 1.01, 0], [0, 0, 1]]
  discretization: first_order
  debug: true
initial:
  position: [1, 2, 3]
  attitude_deg: [0, 0, 90]
update:
  model: direct
  mode: iterative
  position_std: 2.5
  lever_arm: [0.5, 0, -0.1]
beacons:
  origin: {lat_deg: 45, lon_deg: -122, alt_m: 10}
  points:
    - name: hill
      lat_deg: 45.01
      lon_deg: -122
      alt_m: 200
source:
  replay:
    enable: true
    path: ./flight.log
    loop: true
output:
  udp:
    enable: true
    dest: 127.0.0.1:4000
    interval: 1s
log:
  path: /tmp/eskf.log
runtime:
  lock_memory: true
  max_imu_gap: 250ms
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Filter.SA[1][1] != 1.01 || cfg.Filter.Discretization != "first_order" || !cfg.Filter.Debug {
		t.Fatalf("filter=%+v", cfg.Filter)
	}
	if cfg.Update.Model != "direct" || cfg.Update.Mode != "iterative" || cfg.Update.PositionStd != 2.5 {
		t.Fatalf("update=%+v", cfg.Update)
	}
	p := cfg.Beacons.Points[0]
	if !p.Geodetic() || *p.LatDeg != 45.01 || p.AltM != 200 {
		t.Fatalf("beacon=%+v", p)
	}
	if cfg.Source.Replay.Speed != 1 || !cfg.Source.Replay.Loop {
		t.Fatalf("replay=%+v", cfg.Source.Replay)
	}
	if cfg.Output.UDP.Interval != time.Second || cfg.Runtime.MaxIMUGap != 250*time.Millisecond || !cfg.Runtime.LockMemory {
		t.Fatalf("output=%+v runtime=%+v", cfg.Output, cfg.Runtime)
	}
}

func TestLoad_SerialSource(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "beacons:\n  points:\n    - ned: [1, 2, 3]\nsource:\n  serial:\n    enable: true\nrecord:\n  enable: true\n  path: live.log\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Source.Serial.Baud != 115200 || cfg.Source.Serial.Device != "" {
		t.Fatalf("serial=%+v want auto-detect at 115200", cfg.Source.Serial)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "eskf-nav.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Source.Sim.Enable || len(cfg.Beacons.Points) != 4 || cfg.Beacons.Origin == nil {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	_, err := Load(writeTempConfig(t, minimal+"filter:\n  sigma_accel: 1\n"))
	if err == nil || !strings.Contains(err.Error(), "sigma_accel") {
		t.Fatalf("err=%v want unknown field error", err)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name  string
		extra string
		want  string
	}{
		{
			name:  "NegativeSigma",
			extra: "filter:\n  sigma_gyro: -1\n",
			want:  "filter.sigma_gyro must be >= 0",
		},
		{
			name:  "Discretization",
			extra: "filter:\n  discretization: pade\n",
			want:  "filter.discretization must be 'exact' or 'first_order'",
		},
		{
			name:  "CorrectionShape",
			extra: "filter:\n  s_g: [[1, 0], [0, 1]]\n",
			want:  "filter.s_g must be 3x3",
		},
		{
			name:  "GravityShape",
			extra: "filter:\n  gravity: [0, 9.81]\n",
			want:  "filter.gravity must have 3 elements",
		},
		{
			name:  "LeverArmShape",
			extra: "update:\n  lever_arm: [1]\n",
			want:  "update.lever_arm must have 3 elements",
		},
		{
			name:  "Model",
			extra: "update:\n  model: doppler\n",
			want:  "update.model must be 'ranges' or 'direct'",
		},
		{
			name:  "Mode",
			extra: "update:\n  mode: both\n",
			want:  "update.mode must be 'batch' or 'iterative'",
		},
		{
			name:  "InitialStd",
			extra: "initial:\n  velocity_std: -1\n",
			want:  "initial.*_std must be >= 0",
		},
		{
			name:  "RecordNeedsPath",
			extra: "record:\n  enable: true\n",
			want:  "record.path is required when record.enable is true",
		},
		{
			name:  "UDPNeedsDest",
			extra: "output:\n  udp:\n    enable: true\n",
			want:  "output.udp.dest is required when output.udp.enable is true",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, minimal+tc.extra))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_BeaconValidation(t *testing.T) {
	src := "source:\n  sim:\n    enable: true\n    scenario: s.yaml\n"
	cases := []struct {
		name    string
		beacons string
		want    string
	}{
		{
			name:    "ShortNED",
			beacons: "beacons:\n  points:\n    - ned: [1, 2]\n",
			want:    "beacons.points[0].ned must have 3 elements",
		},
		{
			name:    "GeodeticNeedsOrigin",
			beacons: "beacons:\n  points:\n    - lat_deg: 1\n      lon_deg: 2\n",
			want:    "beacons.origin is required when beacons.points[0] uses lat_deg/lon_deg",
		},
		{
			name:    "GeodeticNeedsLon",
			beacons: "beacons:\n  origin: {lat_deg: 1, lon_deg: 2}\n  points:\n    - lat_deg: 1\n",
			want:    "beacons.points[0].lon_deg is required with lat_deg",
		},
		{
			name:    "Both",
			beacons: "beacons:\n  origin: {lat_deg: 1, lon_deg: 2}\n  points:\n    - lat_deg: 1\n      lon_deg: 2\n      ned: [0, 0, 0]\n",
			want:    "beacons.points[0] must set either ned or lat_deg/lon_deg, not both",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, src+tc.beacons))
			requireErrEq(t, err, tc.want)
		})
	}

	// Direct fixes do not need beacons.
	if _, err := Load(writeTempConfig(t, src+"update:\n  model: direct\n")); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}

func TestLoad_SourceValidation(t *testing.T) {
	beacons := "beacons:\n  points:\n    - ned: [1, 2, 3]\n"
	cases := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "Both",
			source: "source:\n  sim:\n    enable: true\n    scenario: s.yaml\n  replay:\n    enable: true\n    path: r.log\n",
			want:   "only one of source.sim, source.replay or source.serial can be enabled",
		},
		{
			name:   "SimAndSerial",
			source: "source:\n  sim:\n    enable: true\n    scenario: s.yaml\n  serial:\n    enable: true\n",
			want:   "only one of source.sim, source.replay or source.serial can be enabled",
		},
		{
			name:   "SerialBaud",
			source: "source:\n  serial:\n    enable: true\n    baud: -9600\n",
			want:   "source.serial.baud must be > 0",
		},
		{
			name:   "SimNeedsScenario",
			source: "source:\n  sim:\n    enable: true\n",
			want:   "source.sim.scenario is required when source.sim.enable is true",
		},
		{
			name:   "SimIntervals",
			source: "source:\n  sim:\n    enable: true\n    scenario: s.yaml\n    imu_interval: 3ms\n",
			want:   "source.sim.fix_interval must be a multiple of source.sim.imu_interval",
		},
		{
			name:   "SimNoise",
			source: "source:\n  sim:\n    enable: true\n    scenario: s.yaml\n    fix_noise: -2\n",
			want:   "source.sim noise levels must be >= 0",
		},
		{
			name:   "ReplayNeedsPath",
			source: "source:\n  replay:\n    enable: true\n",
			want:   "source.replay.path is required when source.replay.enable is true",
		},
		{
			name:   "ReplaySpeed",
			source: "source:\n  replay:\n    enable: true\n    path: r.log\n    speed: -1\n",
			want:   "source.replay.speed must be > 0",
		},
		{
			name:   "RecordWithReplay",
			source: "source:\n  replay:\n    enable: true\n    path: r.log\nrecord:\n  enable: true\n  path: out.log\n",
			want:   "record cannot be used with source.replay",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, beacons+tc.source))
			requireErrEq(t, err, tc.want)
		})
	}
}
