// Package serial opens a USB serial link to a sensor board that streams
// sensor log lines (see internal/replay) in raw 8N1 mode.
package serial

import (
	"fmt"
	"os"
)

// DefaultBaud is used when the configuration leaves the rate unset.
const DefaultBaud = 115200

// AutoDetect returns the first /dev/ttyACM* or /dev/ttyUSB* node that exists,
// or "" when none is present.
func AutoDetect() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
