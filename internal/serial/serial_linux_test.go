//go:build linux

package serial

import (
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestBaudToUnix(t *testing.T) {
	cases := []struct {
		baud int
		want uint32
	}{
		{9600, unix.B9600},
		{115200, unix.B115200},
		{921600, unix.B921600},
	}
	for _, tc := range cases {
		got, err := baudToUnix(tc.baud)
		if err != nil {
			t.Fatalf("baudToUnix(%d) error: %v", tc.baud, err)
		}
		if got != tc.want {
			t.Fatalf("baudToUnix(%d)=%#o want %#o", tc.baud, got, tc.want)
		}
	}
	if _, err := baudToUnix(12345); err == nil {
		t.Fatalf("expected error for unsupported baud")
	}
}

func TestMakeRaw(t *testing.T) {
	t0 := unix.Termios{
		Iflag: unix.ICRNL | unix.IXON,
		Oflag: unix.OPOST,
		Lflag: unix.ECHO | unix.ICANON,
		Cflag: unix.PARENB | unix.CS7 | unix.B9600,
	}
	makeRaw(&t0, unix.B115200)
	if t0.Lflag&unix.ICANON != 0 || t0.Lflag&unix.ECHO != 0 {
		t.Fatalf("lflag=%#x still canonical", t0.Lflag)
	}
	if t0.Iflag&unix.ICRNL != 0 || t0.Oflag&unix.OPOST != 0 {
		t.Fatalf("iflag=%#x oflag=%#x not raw", t0.Iflag, t0.Oflag)
	}
	if t0.Cflag&unix.CSIZE != unix.CS8 || t0.Cflag&unix.PARENB != 0 {
		t.Fatalf("cflag=%#x want 8N1", t0.Cflag)
	}
	if t0.Cflag&unix.CBAUD != unix.B115200 || t0.Ispeed != unix.B115200 || t0.Ospeed != unix.B115200 {
		t.Fatalf("speed not applied: cflag=%#x ispeed=%#o", t0.Cflag, t0.Ispeed)
	}
	if t0.Cc[unix.VMIN] != 1 || t0.Cc[unix.VTIME] != 10 {
		t.Fatalf("vmin=%d vtime=%d", t0.Cc[unix.VMIN], t0.Cc[unix.VTIME])
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing"), 115200); err == nil {
		t.Fatalf("expected error for missing device")
	}
	// /dev/null is not a tty.
	if _, err := Open("/dev/null", 115200); err == nil {
		t.Fatalf("expected error for non-tty")
	}
	if _, err := Open("/dev/null", 1); err == nil {
		t.Fatalf("expected error for unsupported baud")
	}
}
