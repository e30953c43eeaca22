package system

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

func hostMemory() (Memory, error) {
	out, err := exec.Command("sysctl", "-n", "hw.memsize").Output()
	if err != nil {
		return Memory{}, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	total, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return Memory{}, fmt.Errorf("parsing hw.memsize: %w", err)
	}

	out, err = exec.Command("vm_stat").Output()
	if err != nil {
		return Memory{}, fmt.Errorf("vm_stat: %w", err)
	}
	return Memory{Total: total, Available: parseVMStat(string(out))}, nil
}

// parseVMStat returns free plus inactive pages in bytes
func parseVMStat(out string) int64 {
	pageSize := int64(4096)
	var pages int64
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		switch {
		case strings.HasPrefix(line, "Pages free:"), strings.HasPrefix(line, "Pages inactive:"):
			if len(fields) >= 3 {
				n, _ := strconv.ParseInt(strings.TrimSuffix(fields[2], "."), 10, 64)
				pages += n
			}
		case strings.Contains(line, "page size of"):
			for i, f := range fields {
				if f == "of" && i+1 < len(fields) {
					pageSize, _ = strconv.ParseInt(fields[i+1], 10, 64)
				}
			}
		}
	}
	return pages * pageSize
}
