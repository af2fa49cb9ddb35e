package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"eskf-nav/internal/config"
	"eskf-nav/internal/geo"
	"eskf-nav/internal/nav"
	"eskf-nav/internal/quat"
	"eskf-nav/internal/replay"
	"eskf-nav/internal/serial"
	"eskf-nav/internal/sim"
	"eskf-nav/internal/udp"
)

// run feeds the configured source through svc until the source is exhausted
// or ctx is cancelled.
func run(ctx context.Context, cfg config.Config, svc *nav.Service, frame *geo.Frame) error {
	var rec *replay.Writer
	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Printf("record close failed: %v", err)
			}
		}()
		rec = w
		log.Printf("recording sensors path=%s", cfg.Record.Path)
	}

	if cfg.Output.UDP.Enable {
		b, err := udp.NewBroadcaster(cfg.Output.UDP.Dest)
		if err != nil {
			return fmt.Errorf("udp output: %w", err)
		}
		defer b.Close()
		log.Printf("udp dest=%s interval=%s", b.Dest(), cfg.Output.UDP.Interval)

		pubCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			publish(pubCtx, b, svc, frame, cfg.Output.UDP.Interval)
		}()
		defer func() {
			stop()
			<-done
		}()
	}

	switch {
	case cfg.Source.Replay.Enable:
		return runReplay(ctx, cfg.Source.Replay, svc, nil)
	case cfg.Source.Serial.Enable:
		return runSerial(ctx, cfg.Source.Serial, svc, rec)
	default:
		truth, err := runSim(ctx, cfg, svc, rec)
		if err != nil {
			return err
		}
		logTruthError(truth, svc.Snapshot())
		return nil
	}
}

// feed records a sample (when recording) and hands it to the service.
func feed(svc *nav.Service, rec *replay.Writer, imu *nav.IMUSample, fix *nav.Fix) error {
	if imu != nil {
		if rec != nil {
			if err := rec.WriteIMU(*imu); err != nil {
				return fmt.Errorf("record: %w", err)
			}
		}
		if err := svc.HandleIMU(*imu); err != nil {
			return err
		}
	}
	if fix != nil {
		if rec != nil {
			if err := rec.WriteFix(*fix); err != nil {
				return fmt.Errorf("record: %w", err)
			}
		}
		if err := svc.HandleFix(*fix); err != nil {
			return err
		}
	}
	return nil
}

func simSensorConfig(cfg config.Config) sim.SensorConfig {
	sc := cfg.Source.Sim
	return sim.SensorConfig{
		IMUInterval: sc.IMUInterval,
		FixInterval: sc.FixInterval,
		Gravity:     arr3(cfg.Filter.Gravity),
		AccNoise:    sc.AccNoise,
		GyroNoise:   sc.GyroNoise,
		FixNoise:    sc.FixNoise,
		AccBias:     arr3(sc.AccBias),
		GyroBias:    arr3(sc.GyroBias),
		LeverArm:    arr3(cfg.Update.LeverArm),
		Seed:        sc.Seed,
	}
}

// runSim drives svc from the scripted scenario and returns the truth at the
// last sample fed.
func runSim(ctx context.Context, cfg config.Config, svc *nav.Service, rec *replay.Writer) (sim.Truth, error) {
	script, err := sim.LoadScenarioScript(cfg.Source.Sim.Scenario)
	if err != nil {
		return sim.Truth{}, fmt.Errorf("scenario: %w", err)
	}
	scn, err := sim.NewScenario(script)
	if err != nil {
		return sim.Truth{}, fmt.Errorf("scenario: %w", err)
	}
	gen, err := sim.NewGenerator(scn, simSensorConfig(cfg))
	if err != nil {
		return sim.Truth{}, fmt.Errorf("sim sensors: %w", err)
	}
	log.Printf("sim scenario=%s duration=%s samples=%d realtime=%t", cfg.Source.Sim.Scenario, scn.Duration(), gen.Len(), cfg.Source.Sim.Realtime)

	start := time.Now()
	var last sim.Truth
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		s, ok := gen.Next()
		if !ok {
			return last, nil
		}
		if cfg.Source.Sim.Realtime {
			if err := sleepCtx(ctx, time.Until(start.Add(s.IMU.At))); err != nil {
				return last, err
			}
		}
		if err := feed(svc, rec, &s.IMU, s.Fix); err != nil {
			return last, err
		}
		last = s.Truth
	}
}

func logTruthError(truth sim.Truth, snap nav.Snapshot) {
	var sq float64
	for i := 0; i < 3; i++ {
		d := snap.Position[i] - truth.Position[i]
		sq += d * d
	}
	_, _, yaw := quat.ToEuler(truth.Attitude)
	yawErr := math.Mod(snap.YawDeg-yaw*180/math.Pi+540, 360) - 180
	log.Printf("sim done at=%s pos_err_m=%.3f yaw_err_deg=%.2f fixes=%d rejected=%d", truth.At, math.Sqrt(sq), yawErr, snap.FixCount, snap.FixRejected)
}

func runReplay(ctx context.Context, rc config.ReplaySourceConfig, svc *nav.Service, sleeper replay.Sleeper) error {
	f, err := os.Open(rc.Path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer f.Close()

	recs, err := replay.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("replay %s: %w", rc.Path, err)
	}
	log.Printf("replay path=%s records=%d speed=%g loop=%t", rc.Path, len(recs), rc.Speed, rc.Loop)

	return replay.Play(recs, rc.Speed, rc.Loop, sleeper, func(r replay.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return feed(svc, nil, r.IMU, r.Fix)
	})
}

func runSerial(ctx context.Context, sc config.SerialSourceConfig, svc *nav.Service, rec *replay.Writer) error {
	device := strings.TrimSpace(sc.Device)
	if device == "" {
		device = serial.AutoDetect()
		if device == "" {
			return fmt.Errorf("serial auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}
	f, err := serial.Open(device, sc.Baud)
	if err != nil {
		return fmt.Errorf("serial open failed device=%s baud=%d: %w", device, sc.Baud, err)
	}
	defer f.Close()
	// Closing the device unblocks the pending read on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer stop()

	log.Printf("serial source device=%s baud=%d", device, sc.Baud)
	if err := feedStream(ctx, replay.NewReader(f), svc, rec); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("serial device %s closed", device)
}

// feedStream consumes a live sensor stream until EOF. Malformed lines are
// logged and skipped; START lines mark a restart of the sender's clock.
func feedStream(ctx context.Context, rd *replay.Reader, svc *nav.Service, rec *replay.Writer) error {
	var clk replay.Clock
	bad := 0
	for {
		r, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var lerr *replay.LineError
			if !errors.As(err, &lerr) {
				return err
			}
			bad++
			if bad <= 10 || bad%1000 == 0 {
				log.Printf("serial: skipped %d bad lines, last: %v", bad, err)
			}
			continue
		}
		if r.IsStart() {
			clk.Start(r.At)
			continue
		}
		r = clk.Place(r)
		if err := feed(svc, rec, r.IMU, r.Fix); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
