package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"eskf-nav/internal/nav"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are one of
//     <t_ns>,imu,<ax>,<ay>,<az>,<gx>,<gy>,<gz>
//     <t_ns>,fix,<px>,<py>,<pz>
//   where t_ns is nanoseconds since START (monotonic), accelerations are m/s^2,
//   rates rad/s and positions metres in the local frame.

// Record is one log line. A record with neither IMU nor Fix set is a START
// marker.
type Record struct {
	At  time.Duration
	IMU *nav.IMUSample
	Fix *nav.Fix
}

// IsStart reports whether r is a START marker.
func (r Record) IsStart() bool { return r.IMU == nil && r.Fix == nil }

// LineError reports a malformed log line. Reading can continue past it.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *LineError) Unwrap() error { return e.Err }

// Reader parses a sensor log. It can be drained at once with ReadAll or
// consumed line by line with Next, which is what live serial sources use.
type Reader struct {
	s      *bufio.Scanner
	lineNo int
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{s: s}
}

// Next returns the next record. It returns io.EOF at the end of input.
func (rr *Reader) Next() (Record, error) {
	for rr.s.Scan() {
		rr.lineNo++
		line := strings.TrimSpace(rr.s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			return Record{}, nil
		}
		rec, err := parseLine(line)
		if err != nil {
			return Record{}, &LineError{Line: rr.lineNo, Err: err}
		}
		return rec, nil
	}
	if err := rr.s.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

func (rr *Reader) ReadAll() ([]Record, error) {
	recs := make([]Record, 0, 1024)
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
}

func parseLine(line string) (Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return Record{}, fmt.Errorf("invalid replay line (missing comma): %q", line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	tsNs, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid replay timestamp %q: %w", fields[0], err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid replay timestamp (negative): %d", tsNs)
	}
	at := time.Duration(tsNs)

	vals, err := parseFloats(fields[2:])
	if err != nil {
		return Record{}, err
	}
	switch fields[1] {
	case "imu":
		if len(vals) != 6 {
			return Record{}, fmt.Errorf("imu record has %d values, want 6", len(vals))
		}
		s := &nav.IMUSample{At: at}
		copy(s.Acc[:], vals[:3])
		copy(s.Gyro[:], vals[3:])
		return Record{At: at, IMU: s}, nil
	case "fix":
		if len(vals) != 3 {
			return Record{}, fmt.Errorf("fix record has %d values, want 3", len(vals))
		}
		f := &nav.Fix{At: at}
		copy(f.Position[:], vals)
		return Record{At: at, Fix: f}, nil
	default:
		return Record{}, fmt.Errorf("unknown record kind %q", fields[1])
	}
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

// Writer records sensor samples. Timestamps are taken from the samples and
// are written relative to the first one.
type Writer struct {
	c      io.Closer
	w      *bufio.Writer
	origin time.Duration
	have   bool
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter writes the START marker to w. Close closes w if it is an io.Closer.
func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriterSize(w, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		return nil, err
	}
	c, _ := w.(io.Closer)
	return &Writer{c: c, w: bw}, nil
}

func (ww *Writer) rel(at time.Duration) time.Duration {
	if !ww.have {
		ww.origin = at
		ww.have = true
	}
	d := at - ww.origin
	if d < 0 {
		d = 0
	}
	return d
}

func (ww *Writer) WriteIMU(s nav.IMUSample) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	_, err := fmt.Fprintf(ww.w, "%d,imu,%s,%s,%s,%s,%s,%s\n", ww.rel(s.At).Nanoseconds(),
		ftoa(s.Acc[0]), ftoa(s.Acc[1]), ftoa(s.Acc[2]),
		ftoa(s.Gyro[0]), ftoa(s.Gyro[1]), ftoa(s.Gyro[2]))
	return err
}

func (ww *Writer) WriteFix(f nav.Fix) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	_, err := fmt.Fprintf(ww.w, "%d,fix,%s,%s,%s\n", ww.rel(f.At).Nanoseconds(),
		ftoa(f.Position[0]), ftoa(f.Position[1]), ftoa(f.Position[2]))
	return err
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	err := ww.w.Flush()
	if ww.c != nil {
		if cerr := ww.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Clock places records from successive START segments on one monotonic
// timeline: each segment continues where the previous one ended.
type Clock struct {
	origin   time.Duration
	segStart time.Duration
	last     time.Duration
	have     bool
}

// Start begins a new segment whose records are relative to origin.
func (c *Clock) Start(origin time.Duration) {
	c.origin = origin
	if c.have {
		c.segStart = c.last
	}
}

// Place returns r with its times moved onto the timeline. Records that would
// go backwards are pinned to the latest time seen.
func (c *Clock) Place(r Record) Record {
	at := r.At - c.origin
	if at < 0 {
		at = 0
	}
	at += c.segStart
	if c.have && at < c.last {
		at = c.last
	}
	c.last = at
	c.have = true
	return rebase(r, at)
}

// Play replays records with their relative timing.
//
// The callback receives every IMU and fix record with its time rebased by a
// Clock, so each START segment (and each loop pass) continues where the
// previous one ended and consumers never see time run backwards.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half
// speed. A callback error stops playback and is returned.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}
	data := false
	for _, r := range records {
		if !r.IsStart() {
			data = true
			break
		}
	}
	if !data {
		return errors.New("no imu or fix records")
	}

	var clk Clock
	for {
		clk.Start(0)
		for _, r := range records {
			if r.IsStart() {
				clk.Start(r.At)
				continue
			}

			prev, hadPrev := clk.last, clk.have
			out := clk.Place(r)
			if hadPrev {
				wait := time.Duration(float64(out.At-prev) / speedMultiplier)
				if wait > 0 {
					sleeper.Sleep(wait)
				}
			}
			if err := cb(out); err != nil {
				return err
			}
		}

		if !loop {
			return nil
		}
	}
}

func rebase(r Record, at time.Duration) Record {
	out := Record{At: at}
	if r.IMU != nil {
		s := *r.IMU
		s.At = at
		out.IMU = &s
	}
	if r.Fix != nil {
		f := *r.Fix
		f.At = at
		out.Fix = &f
	}
	return out
}
