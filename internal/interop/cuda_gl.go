//go:build cuda

package interop

/*
#cgo CFLAGS: -I/opt/cuda/include -I/usr/local/cuda/include
#cgo LDFLAGS: -L/opt/cuda/lib64 -L/usr/local/cuda/lib64 -lcudart -lGL

#include <GL/gl.h>
#include <cuda_runtime.h>
#include <cuda_gl_interop.h>
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/harskish/Fluctus/internal/gpu"
)

// GLRegistrar registers OpenGL buffer objects with the CUDA runtime. The GL
// context that owns the buffers must be current on the calling thread.
type GLRegistrar struct {
	dev *gpu.CUDADevice
}

// NewGLRegistrar returns a CUDA-GL registrar for dev
func NewGLRegistrar(dev *gpu.CUDADevice) (*GLRegistrar, error) {
	if dev == nil {
		return nil, fmt.Errorf("nil CUDA device")
	}
	return &GLRegistrar{dev: dev}, nil
}

func (r *GLRegistrar) Device() gpu.Device { return r.dev }

func (r *GLRegistrar) Register(buf PixelBuffer, mode AccessMode) (Resource, error) {
	flags := C.uint(C.cudaGraphicsRegisterFlagsNone)
	if mode == ReadOnly {
		flags = C.uint(C.cudaGraphicsRegisterFlagsReadOnly)
	}

	var res C.cudaGraphicsResource_t
	if err := C.cudaGraphicsGLRegisterBuffer(&res, C.GLuint(buf.ID()), flags); err != C.cudaSuccess {
		return nil, fmt.Errorf("cudaGraphicsGLRegisterBuffer: %s", C.GoString(C.cudaGetErrorString(err)))
	}
	return &glResource{dev: r.dev, res: res}, nil
}

type glResource struct {
	dev  *gpu.CUDADevice
	res  C.cudaGraphicsResource_t
	view gpu.Buffer
}

func (g *glResource) stream() C.cudaStream_t {
	return C.cudaStream_t(unsafe.Pointer(g.dev.Stream()))
}

func (g *glResource) Map() (gpu.Buffer, error) {
	if g.res == nil {
		return nil, fmt.Errorf("resource unregistered")
	}
	if err := C.cudaGraphicsMapResources(1, &g.res, g.stream()); err != C.cudaSuccess {
		return nil, fmt.Errorf("cudaGraphicsMapResources: %s", C.GoString(C.cudaGetErrorString(err)))
	}

	var ptr unsafe.Pointer
	var size C.size_t
	if err := C.cudaGraphicsResourceGetMappedPointer(&ptr, &size, g.res); err != C.cudaSuccess {
		C.cudaGraphicsUnmapResources(1, &g.res, g.stream())
		return nil, fmt.Errorf("cudaGraphicsResourceGetMappedPointer: %s", C.GoString(C.cudaGetErrorString(err)))
	}

	g.view = g.dev.WrapDevicePtr(uintptr(ptr), int64(size))
	return g.view, nil
}

func (g *glResource) Unmap() error {
	if g.view != nil {
		g.view.Free()
		g.view = nil
	}
	if err := C.cudaGraphicsUnmapResources(1, &g.res, g.stream()); err != C.cudaSuccess {
		return fmt.Errorf("cudaGraphicsUnmapResources: %s", C.GoString(C.cudaGetErrorString(err)))
	}
	return nil
}

func (g *glResource) Unregister() error {
	if g.res == nil {
		return nil
	}
	err := C.cudaGraphicsUnregisterResource(g.res)
	g.res = nil
	if err != C.cudaSuccess {
		return fmt.Errorf("cudaGraphicsUnregisterResource: %s", C.GoString(C.cudaGetErrorString(err)))
	}
	return nil
}
