package gpu_test

import (
	"fmt"
	"log"

	"github.com/harskish/Fluctus/internal/gpu"
)

// Example of using the device abstraction
func Example_basicUsage() {
	dev := gpu.NewCPUDevice()
	defer dev.Free()

	buf, err := dev.Allocate(64)
	if err != nil {
		log.Fatal(err)
	}
	defer buf.Free()

	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	if err := buf.CopyFromHost(data); err != nil {
		log.Fatal(err)
	}
	if err := dev.Sync(); err != nil {
		log.Fatal(err)
	}

	fmt.Println(dev.Type(), buf.Size())
	// Output: CPU 64
}

// Example of recycling working buffers across resizes
func Example_bufferPool() {
	pool := gpu.NewBufferPool(gpu.NewCPUDevice(), 0)
	defer pool.Clear()

	scratch, _ := pool.Allocate(3000)
	pool.Release(scratch)

	scratch, _ = pool.Allocate(2500)
	defer pool.Release(scratch)

	fmt.Println(scratch.Size(), pool.Stats().Reuses)
	// Output: 2500 1
}
