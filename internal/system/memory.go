// Package system reports host memory. The CPU device allocates from it, so
// its usage stands in for device memory on that device.
package system

import "fmt"

// Memory is a snapshot of physical host memory in bytes
type Memory struct {
	Total     int64
	Available int64
}

// Used returns the memory not available to new allocations
func (m Memory) Used() int64 {
	if m.Available > m.Total {
		return 0
	}
	return m.Total - m.Available
}

// HostMemory returns the current host memory snapshot
func HostMemory() (Memory, error) {
	m, err := hostMemory()
	if err != nil {
		return Memory{}, err
	}
	if m.Total <= 0 {
		return Memory{}, fmt.Errorf("could not determine total memory")
	}
	return m, nil
}

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
