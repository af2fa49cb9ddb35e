package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"eskf-nav/internal/replay"
)

type logSummary struct {
	Segments    int
	IMU         int
	Fixes       int
	MaxDuration time.Duration
	// Largest spacing between consecutive IMU samples within a segment.
	MaxIMUGap time.Duration
	// IMU rate over the longest segment.
	IMURateHz float64
}

func summarizeSensorLog(records []replay.Record) logSummary {
	var s logSummary
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasData := false
	segments := 0

	var lastIMU time.Duration
	haveIMU := false
	segIMU := 0
	var segEnd time.Duration
	closeSegment := func() {
		if segIMU > 1 && segEnd >= s.MaxDuration && segEnd > 0 {
			s.IMURateHz = float64(segIMU-1) / segEnd.Seconds()
		}
	}

	for _, r := range records {
		if r.IsStart() {
			closeSegment()
			segments++
			origin = r.At
			haveIMU = false
			segIMU = 0
			segEnd = 0
			continue
		}
		hasData = true

		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > segEnd {
			segEnd = at
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		if r.Fix != nil {
			s.Fixes++
			continue
		}
		s.IMU++
		segIMU++
		if haveIMU {
			if gap := at - lastIMU; gap > s.MaxIMUGap {
				s.MaxIMUGap = gap
			}
		}
		lastIMU = at
		haveIMU = true
	}
	closeSegment()
	if segments == 0 && hasData {
		segments = 1
	}
	s.Segments = segments
	return s
}

func printLogSummary(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	recs, err := replay.NewReader(f).ReadAll()
	if err != nil {
		return err
	}

	s := summarizeSensorLog(recs)

	fmt.Printf("path: %s\n", path)
	fmt.Printf("segments: %d\n", s.Segments)
	fmt.Printf("imu_samples: %d\n", s.IMU)
	fmt.Printf("fixes: %d\n", s.Fixes)
	fmt.Printf("max_duration: %s\n", s.MaxDuration)
	fmt.Printf("max_imu_gap: %s\n", s.MaxIMUGap)
	fmt.Printf("imu_rate_hz: %.1f\n", s.IMURateHz)
	return nil
}
