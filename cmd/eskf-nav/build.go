package main

import (
	"fmt"
	"math"

	"eskf-nav/internal/config"
	"eskf-nav/internal/eskf"
	"eskf-nav/internal/geo"
	"eskf-nav/internal/nav"
	"eskf-nav/internal/quat"

	gometrics "github.com/rcrowley/go-metrics"
	"gonum.org/v1/gonum/mat"
)

// buildNavConfig turns the validated YAML tree into a nav.Config. The frame is
// nil unless beacons.origin is set.
func buildNavConfig(cfg config.Config) (nav.Config, *geo.Frame, error) {
	var out nav.Config

	fc := cfg.Filter
	out.Filter = eskf.Config{
		SigmaAcc:      fc.SigmaAcc,
		SigmaGyro:     fc.SigmaGyro,
		SigmaAccBias:  fc.SigmaAccBias,
		SigmaGyroBias: fc.SigmaGyroBias,
		PAcc:          fc.PAcc,
		PGyro:         fc.PGyro,
		SA:            rows3x3(fc.SA),
		SG:            rows3x3(fc.SG),
		Gravity:       arr3(fc.Gravity),
		Debug:         fc.Debug,
	}
	switch fc.Discretization {
	case "first_order":
		out.Filter.Discretization = eskf.VanLoanFirstOrder
	default:
		out.Filter.Discretization = eskf.VanLoanExact
	}

	in := cfg.Initial
	att := deg2rad(arr3(in.AttitudeDeg))
	q := quat.FromEuler(att[0], att[1], att[2])
	out.InitialState = eskf.NewState(arr3(in.Position), arr3(in.Velocity), q, arr3(in.AccBias), arr3(in.GyroBias))

	ps, vs, as := in.PositionStd, in.VelocityStd, in.AttitudeStdDeg*math.Pi/180
	out.InitialCovariance = eskf.DiagCovariance(
		ps, ps, ps,
		vs, vs, vs,
		as, as, as,
		in.AccBiasStd, in.AccBiasStd, in.AccBiasStd,
		in.GyroBiasStd, in.GyroBiasStd, in.GyroBiasStd,
	)

	switch cfg.Update.Model {
	case "direct":
		out.Model = nav.FixDirect
	default:
		out.Model = nav.FixRanges
	}
	switch cfg.Update.Mode {
	case "iterative":
		out.Mode = eskf.UpdateIterative
	default:
		out.Mode = eskf.UpdateBatch
	}
	out.LeverArm = arr3(cfg.Update.LeverArm)
	sp := cfg.Update.PositionStd
	out.RPos = eskf.DiagCovariance(sp, sp, sp)

	var frame *geo.Frame
	if o := cfg.Beacons.Origin; o != nil {
		f, err := geo.NewFrame(geo.Origin{LatDeg: o.LatDeg, LonDeg: o.LonDeg, AltM: o.AltM})
		if err != nil {
			return nav.Config{}, nil, fmt.Errorf("beacons.origin: %w", err)
		}
		frame = f
	}
	for _, p := range cfg.Beacons.Points {
		if p.Geodetic() {
			out.Beacons = append(out.Beacons, frame.Locations([]geo.Point{{Name: p.Name, LatDeg: *p.LatDeg, LonDeg: *p.LonDeg, AltM: p.AltM}})...)
			continue
		}
		out.Beacons = append(out.Beacons, arr3(p.NED))
	}
	if n := len(out.Beacons); n > 0 {
		stds := make([]float64, n)
		for i := range stds {
			stds[i] = cfg.Update.RangeStd
		}
		out.RBeacons = eskf.DiagCovariance(stds...)
	}

	out.MaxStep = cfg.Runtime.MaxIMUGap
	out.Registry = gometrics.DefaultRegistry
	return out, frame, nil
}

func arr3(v []float64) [3]float64 {
	var out [3]float64
	copy(out[:], v)
	return out
}

func deg2rad(v [3]float64) [3]float64 {
	for i := range v {
		v[i] *= math.Pi / 180
	}
	return v
}

func rows3x3(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	m := mat.NewDense(3, 3, nil)
	for i, row := range rows {
		for j, v := range row {
			m.Set(i, j, v)
		}
	}
	return m
}
