//go:build !linux

package serial

import (
	"fmt"
	"os"
)

func Open(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("serial sensor source not supported on this platform")
}
