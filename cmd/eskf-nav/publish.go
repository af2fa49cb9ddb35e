package main

import (
	"context"
	"log"
	"time"

	"eskf-nav/internal/geo"
	"eskf-nav/internal/nav"
	"eskf-nav/internal/udp"
)

// estimateMessage is the JSON datagram published on output.udp.
type estimateMessage struct {
	Type  string  `json:"type"`
	Valid bool    `json:"valid"`
	TSec  float64 `json:"t_sec"`

	PositionNED [3]float64 `json:"position_ned"`
	VelocityNED [3]float64 `json:"velocity_ned"`
	PositionStd [3]float64 `json:"position_std_m"`

	LatDeg *float64 `json:"lat_deg,omitempty"`
	LonDeg *float64 `json:"lon_deg,omitempty"`
	AltM   *float64 `json:"alt_m,omitempty"`

	RollDeg  float64 `json:"roll_deg"`
	PitchDeg float64 `json:"pitch_deg"`
	YawDeg   float64 `json:"yaw_deg"`

	AccBias  [3]float64 `json:"acc_bias"`
	GyroBias [3]float64 `json:"gyro_bias"`

	IMUCount    int64  `json:"imu_count"`
	FixCount    int64  `json:"fix_count"`
	FixRejected int64  `json:"fix_rejected"`
	LastError   string `json:"last_error,omitempty"`
}

func newEstimateMessage(s nav.Snapshot, frame *geo.Frame) estimateMessage {
	m := estimateMessage{
		Type:        "estimate",
		Valid:       s.Valid,
		TSec:        s.At.Seconds(),
		PositionNED: s.Position,
		VelocityNED: s.Velocity,
		PositionStd: s.PositionStdM,
		RollDeg:     s.RollDeg,
		PitchDeg:    s.PitchDeg,
		YawDeg:      s.YawDeg,
		AccBias:     s.AccBias,
		GyroBias:    s.GyroBias,
		IMUCount:    s.IMUCount,
		FixCount:    s.FixCount,
		FixRejected: s.FixRejected,
		LastError:   s.LastError,
	}
	if frame != nil {
		lat, lon, alt := frame.FromNED(s.Position)
		m.LatDeg, m.LonDeg, m.AltM = &lat, &lon, &alt
	}
	return m
}

// publish sends a snapshot every interval and a final one when ctx ends.
func publish(ctx context.Context, b *udp.Broadcaster, svc *nav.Service, frame *geo.Frame, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	failures := 0
	send := func() {
		if err := b.SendJSON(newEstimateMessage(svc.Snapshot(), frame)); err != nil {
			failures++
			if failures == 1 || failures%100 == 0 {
				log.Printf("udp send failed count=%d err=%v", failures, err)
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			send()
			return
		case <-t.C:
			send()
		}
	}
}
