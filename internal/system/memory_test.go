package system

import (
	"runtime"
	"testing"
)

func TestHostMemory(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
	default:
		t.Skipf("no host memory probe on %s", runtime.GOOS)
	}

	m, err := HostMemory()
	if err != nil {
		t.Fatalf("HostMemory failed: %v", err)
	}
	if m.Total <= 0 {
		t.Errorf("Total = %d", m.Total)
	}
	if m.Used() < 0 || m.Used() > m.Total {
		t.Errorf("Used() = %d outside [0, %d]", m.Used(), m.Total)
	}
}

func TestUsedClamps(t *testing.T) {
	if got := (Memory{Total: 10, Available: 4}).Used(); got != 6 {
		t.Errorf("Used() = %d, want 6", got)
	}
	if got := (Memory{Total: 10, Available: 40}).Used(); got != 0 {
		t.Errorf("Used() with stale available = %d, want 0", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{1536 * 1024 * 1024, "1.5 GiB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.bytes); got != tt.expected {
			t.Errorf("FormatBytes(%d) = %s; want %s", tt.bytes, got, tt.expected)
		}
	}
}
