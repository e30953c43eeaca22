package system

import (
	"fmt"
	"syscall"
	"unsafe"
)

// memoryStatusEx mirrors MEMORYSTATUSEX
type memoryStatusEx struct {
	length               uint32
	memoryLoad           uint32
	totalPhys            uint64
	availPhys            uint64
	totalPageFile        uint64
	availPageFile        uint64
	totalVirtual         uint64
	availVirtual         uint64
	availExtendedVirtual uint64
}

var procGlobalMemoryStatusEx = syscall.NewLazyDLL("kernel32.dll").NewProc("GlobalMemoryStatusEx")

func hostMemory() (Memory, error) {
	var st memoryStatusEx
	st.length = uint32(unsafe.Sizeof(st))

	if ret, _, err := procGlobalMemoryStatusEx.Call(uintptr(unsafe.Pointer(&st))); ret == 0 {
		return Memory{}, fmt.Errorf("GlobalMemoryStatusEx: %w", err)
	}
	return Memory{Total: int64(st.totalPhys), Available: int64(st.availPhys)}, nil
}
