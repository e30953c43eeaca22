package denoise

import "github.com/harskish/Fluctus/internal/gpu"

// Engine is a denoising library bound to a device
type Engine interface {
	// Name identifies the engine in logs
	Name() string

	// Create builds a filter instance for a fixed input configuration
	Create(opts Options) (Instance, error)

	// Close releases the library context
	Close() error
}

// Instance is one configured filter. Every method other than
// MemoryResources and Destroy requires a preceding Setup with buffers at
// least as large as MemoryResources reports.
type Instance interface {
	MemoryResources(width, height int) (MemorySizes, error)

	Setup(width, height int, state, scratch gpu.Buffer) error

	// ComputeIntensity writes the float32 exposure estimate of color into
	// intensity
	ComputeIntensity(color Image2D, intensity, scratch gpu.Buffer) error

	Invoke(params Params, state gpu.Buffer, inputs []Image2D, output Image2D, scratch gpu.Buffer) error

	Destroy() error
}
