//go:build !linux && !darwin && !windows

package system

import (
	"fmt"
	"runtime"
)

func hostMemory() (Memory, error) {
	return Memory{}, fmt.Errorf("host memory not available on %s", runtime.GOOS)
}
