//go:build cuda

package denoise

/*
#cgo CFLAGS: -I/opt/cuda/include -I/usr/local/cuda/include -I/opt/optix/include
#cgo LDFLAGS: -L/opt/cuda/lib64 -L/usr/local/cuda/lib64 -lcuda -lcudart -ldl

#include <cuda.h>
#include <optix.h>
#include <optix_stubs.h>
#include <optix_function_table_definition.h>
#include <stdio.h>

static void optixLogCallback(unsigned int level, const char* tag, const char* message, void* cbdata) {
    fprintf(stderr, "[%2d][%12s]: %s\n", (int)level, tag, message);
}

static OptixResult createContext(CUcontext cu, OptixDeviceContext* ctx) {
    OptixDeviceContextOptions options = {};
    options.logCallbackFunction = &optixLogCallback;
    options.logCallbackLevel = 4;
    return optixDeviceContextCreate(cu, &options, ctx);
}

static OptixResult createDenoiser(OptixDeviceContext ctx, OptixDenoiserInputKind kind,
                                  OptixDenoiserModelKind model, OptixDenoiser* denoiser) {
    OptixDenoiserOptions options = {};
    options.inputKind = kind;
    options.pixelFormat = OPTIX_PIXEL_FORMAT_FLOAT4;
    OptixResult res = optixDenoiserCreate(ctx, &options, denoiser);
    if (res != OPTIX_SUCCESS)
        return res;
    return optixDenoiserSetModel(*denoiser, model, NULL, 0);
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/harskish/Fluctus/internal/gpu"
)

func optixError(op string, res C.OptixResult) error {
	return fmt.Errorf("%s: %s", op, C.GoString(C.optixGetErrorString(res)))
}

// OptixEngine runs the OptiX AI denoiser on a CUDA device
type OptixEngine struct {
	dev *gpu.CUDADevice
	ctx C.OptixDeviceContext
}

// NewOptixEngine initializes OptiX on dev. Failure means the driver or
// library is unusable.
func NewOptixEngine(dev *gpu.CUDADevice) (*OptixEngine, error) {
	if dev == nil {
		return nil, fmt.Errorf("nil CUDA device")
	}
	if res := C.optixInit(); res != C.OPTIX_SUCCESS {
		return nil, optixError("optixInit", res)
	}

	var cu C.CUcontext
	if res := C.cuCtxGetCurrent(&cu); res != C.CUDA_SUCCESS {
		return nil, fmt.Errorf("cuCtxGetCurrent: error code %d", int(res))
	}

	e := &OptixEngine{dev: dev}
	if res := C.createContext(cu, &e.ctx); res != C.OPTIX_SUCCESS {
		return nil, optixError("optixDeviceContextCreate", res)
	}
	return e, nil
}

func (e *OptixEngine) Name() string { return "optix" }

func (e *OptixEngine) Close() error {
	if e.ctx == nil {
		return nil
	}
	res := C.optixDeviceContextDestroy(e.ctx)
	e.ctx = nil
	if res != C.OPTIX_SUCCESS {
		return optixError("optixDeviceContextDestroy", res)
	}
	return nil
}

func (e *OptixEngine) Create(opts Options) (Instance, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var kind C.OptixDenoiserInputKind
	switch opts.Inputs {
	case InputKindRGB:
		kind = C.OPTIX_DENOISER_INPUT_RGB
	case InputKindRGBAlbedo:
		kind = C.OPTIX_DENOISER_INPUT_RGB_ALBEDO
	case InputKindRGBAlbedoNormal:
		kind = C.OPTIX_DENOISER_INPUT_RGB_ALBEDO_NORMAL
	}
	model := C.OptixDenoiserModelKind(C.OPTIX_DENOISER_MODEL_KIND_LDR)
	if opts.Model == ModelKindHDR {
		model = C.OPTIX_DENOISER_MODEL_KIND_HDR
	}

	inst := &optixInstance{engine: e, opts: opts}
	if res := C.createDenoiser(e.ctx, kind, model, &inst.denoiser); res != C.OPTIX_SUCCESS {
		return nil, optixError("optixDenoiserCreate", res)
	}
	return inst, nil
}

type optixInstance struct {
	engine   *OptixEngine
	opts     Options
	denoiser C.OptixDenoiser
	width    int
	height   int
}

func (o *optixInstance) stream() C.CUstream {
	return C.CUstream(unsafe.Pointer(o.engine.dev.Stream()))
}

func (o *optixInstance) MemoryResources(width, height int) (MemorySizes, error) {
	var sizes C.OptixDenoiserSizes
	res := C.optixDenoiserComputeMemoryResources(o.denoiser, C.uint(width), C.uint(height), &sizes)
	if res != C.OPTIX_SUCCESS {
		return MemorySizes{}, optixError("optixDenoiserComputeMemoryResources", res)
	}
	return MemorySizes{
		StateSize:   int64(sizes.stateSizeInBytes),
		ScratchSize: int64(sizes.recommendedScratchSizeInBytes),
	}, nil
}

func (o *optixInstance) Setup(width, height int, state, scratch gpu.Buffer) error {
	res := C.optixDenoiserSetup(o.denoiser, o.stream(),
		C.uint(width), C.uint(height),
		C.CUdeviceptr(state.Ptr()), C.size_t(state.Size()),
		C.CUdeviceptr(scratch.Ptr()), C.size_t(scratch.Size()))
	if res != C.OPTIX_SUCCESS {
		return optixError("optixDenoiserSetup", res)
	}
	o.width, o.height = width, height
	return nil
}

func toOptixImage(img Image2D) C.OptixImage2D {
	return C.OptixImage2D{
		data:               C.CUdeviceptr(img.Data.Ptr()),
		width:              C.uint(img.Width),
		height:             C.uint(img.Height),
		rowStrideInBytes:   C.uint(img.RowStride),
		pixelStrideInBytes: C.uint(img.PixelStride),
		format:             C.OPTIX_PIXEL_FORMAT_FLOAT4,
	}
}

func (o *optixInstance) ComputeIntensity(color Image2D, intensity, scratch gpu.Buffer) error {
	in := toOptixImage(color)
	res := C.optixDenoiserComputeIntensity(o.denoiser, o.stream(), &in,
		C.CUdeviceptr(intensity.Ptr()),
		C.CUdeviceptr(scratch.Ptr()), C.size_t(scratch.Size()))
	if res != C.OPTIX_SUCCESS {
		return optixError("optixDenoiserComputeIntensity", res)
	}
	return nil
}

func (o *optixInstance) Invoke(params Params, state gpu.Buffer, inputs []Image2D, output Image2D, scratch gpu.Buffer) error {
	var layers [3]C.OptixImage2D
	for i, img := range inputs {
		layers[i] = toOptixImage(img)
	}
	out := toOptixImage(output)

	var p C.OptixDenoiserParams
	if params.DenoiseAlpha {
		p.denoiseAlpha = 1
	}
	if params.HDRIntensity != nil {
		p.hdrIntensity = C.CUdeviceptr(params.HDRIntensity.Ptr())
	}
	p.blendFactor = C.float(params.BlendFactor)

	res := C.optixDenoiserInvoke(o.denoiser, o.stream(), &p,
		C.CUdeviceptr(state.Ptr()), C.size_t(state.Size()),
		&layers[0], C.uint(len(inputs)),
		0, 0,
		&out,
		C.CUdeviceptr(scratch.Ptr()), C.size_t(scratch.Size()))
	if res != C.OPTIX_SUCCESS {
		return optixError("optixDenoiserInvoke", res)
	}
	return nil
}

func (o *optixInstance) Destroy() error {
	if o.denoiser == nil {
		return nil
	}
	res := C.optixDenoiserDestroy(o.denoiser)
	o.denoiser = nil
	if res != C.OPTIX_SUCCESS {
		return optixError("optixDenoiserDestroy", res)
	}
	return nil
}
