package gpu

import (
	"testing"
)

func TestGetCPUDevice(t *testing.T) {
	dev, err := GetDevice(DeviceTypeCPU, 0)
	if err != nil {
		t.Fatalf("GetDevice(CPU) failed: %v", err)
	}
	defer dev.Free()

	if dev.Type() != DeviceTypeCPU {
		t.Errorf("Expected CPU device, got %v", dev.Type())
	}
	if dev.Ordinal() != 0 {
		t.Errorf("Expected ordinal 0, got %d", dev.Ordinal())
	}
	if dev.Properties().Name == "" {
		t.Error("Device properties carry no name")
	}

	t.Logf("CPU device: %s", dev.Name())
}

func TestGetDefaultDevice(t *testing.T) {
	dev, err := GetDefaultDevice(0)
	if err != nil {
		t.Fatalf("GetDefaultDevice failed: %v", err)
	}
	defer dev.Free()

	if dev.Name() == "" {
		t.Error("Device name is empty")
	}
	t.Logf("Default device: %s (type: %v)", dev.Name(), dev.Type())
}

func TestDeviceTypeString(t *testing.T) {
	tests := []struct {
		dt   DeviceType
		want string
	}{
		{DeviceTypeCPU, "CPU"},
		{DeviceTypeGPU, "GPU"},
		{DeviceType(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.dt.String(); got != tt.want {
			t.Errorf("DeviceType(%d).String() = %q, want %q", tt.dt, got, tt.want)
		}
	}
}

func TestCPUBufferAllocate(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	sizes := []int64{16, 1024, 1024 * 1024}

	for _, size := range sizes {
		buf, err := dev.Allocate(size)
		if err != nil {
			t.Fatalf("Allocate(%d) failed: %v", size, err)
		}
		defer buf.Free()

		if buf.Size() != size {
			t.Errorf("Buffer size mismatch: expected %d, got %d", size, buf.Size())
		}
		if buf.Ptr() == 0 {
			t.Errorf("Allocate(%d) returned a null pointer", size)
		}
	}

	if _, err := dev.Allocate(0); err == nil {
		t.Error("Allocate(0) should fail")
	}
}

func TestCPUBufferCopy(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	size := int64(1024)
	buf1, err := dev.Allocate(size)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer buf1.Free()

	buf2, err := dev.Allocate(size)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer buf2.Free()

	testData := make([]byte, size)
	for i := range testData {
		testData[i] = byte(i % 256)
	}
	if err := buf1.CopyFromHost(testData); err != nil {
		t.Fatalf("CopyFromHost failed: %v", err)
	}

	if err := dev.Copy(buf2, buf1, size); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	result := make([]byte, size)
	if err := buf2.CopyToHost(result); err != nil {
		t.Fatalf("CopyToHost failed: %v", err)
	}

	for i := range result {
		if result[i] != testData[i] {
			t.Errorf("Data mismatch at index %d: expected %d, got %d", i, testData[i], result[i])
			break
		}
	}

	if err := dev.Copy(buf2, buf1, size*2); err == nil {
		t.Error("Copy past the end of the buffers should fail")
	}
}

func TestWrapHost(t *testing.T) {
	dev := NewCPUDevice()
	backing := make([]byte, 64)
	backing[0] = 7

	view := WrapHost(dev, backing, false)
	if view.Size() != 64 {
		t.Fatalf("view size = %d, want 64", view.Size())
	}

	b, ok := HostBytes(view)
	if !ok {
		t.Fatal("host view is not host accessible")
	}
	b[1] = 9
	if backing[1] != 9 {
		t.Error("view does not alias the backing storage")
	}

	if err := view.Free(); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if view.Ptr() != 0 {
		t.Error("freed view still reports a pointer")
	}
	if _, ok := HostBytes(view); ok {
		t.Error("freed view is still host accessible")
	}
	if backing[0] != 7 || backing[1] != 9 {
		t.Error("freeing the view modified the backing storage")
	}
}

func TestWrapHostReadOnly(t *testing.T) {
	view := WrapHost(NewCPUDevice(), make([]byte, 16), true)
	if err := view.CopyFromHost(make([]byte, 16)); err == nil {
		t.Error("CopyFromHost on a read-only view should fail")
	}
	if err := view.CopyToHost(make([]byte, 16)); err != nil {
		t.Errorf("CopyToHost on a read-only view failed: %v", err)
	}
}

func TestFloat32s(t *testing.T) {
	dev := NewCPUDevice()
	buf, err := dev.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer buf.Free()

	f, err := Float32s(buf)
	if err != nil {
		t.Fatalf("Float32s failed: %v", err)
	}
	if len(f) != 8 {
		t.Fatalf("len = %d, want 8", len(f))
	}
	f[3] = 1.5

	g, _ := Float32s(buf)
	if g[3] != 1.5 {
		t.Error("Float32s does not alias buffer storage")
	}

	odd := WrapHost(dev, make([]byte, 6), false)
	if _, err := Float32s(odd); err == nil {
		t.Error("Float32s should reject sizes that are not a multiple of 4")
	}
}
