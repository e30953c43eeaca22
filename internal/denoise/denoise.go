// Package denoise drives an image denoising engine over RGBA32F layers that
// live on a compute device.
//
// A Pipeline owns one engine instance plus the working memory sized for the
// current resolution. The life cycle is New, Setup (again on every
// resolution change), then per frame ComputeIntensity followed by Invoke,
// and finally Destroy.
package denoise

import (
	"errors"
	"fmt"

	"github.com/harskish/Fluctus/internal/gpu"
)

var (
	// ErrEngineInit is returned when the denoising engine cannot be created.
	// It is not retried; callers abort startup.
	ErrEngineInit = errors.New("denoise: engine initialization failed")

	// ErrInvalidSize is returned for non-positive resolutions
	ErrInvalidSize = errors.New("denoise: invalid image size")

	// ErrLayout is returned for image descriptors that do not match the
	// pipeline configuration
	ErrLayout = errors.New("denoise: invalid image layout")

	// ErrWorkingMemory is returned when scratch or state memory is smaller
	// than the engine requires
	ErrWorkingMemory = errors.New("denoise: insufficient working memory")

	// ErrDestroyed is returned after Destroy
	ErrDestroyed = errors.New("denoise: pipeline destroyed")
)

// PixelFormat describes the layout of one pixel
type PixelFormat int

const (
	PixelFormatFloat4 PixelFormat = iota
)

// BytesPerPixel returns the pixel size of the format
func (f PixelFormat) BytesPerPixel() int64 {
	switch f {
	case PixelFormatFloat4:
		return 16
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatFloat4:
		return "float4"
	default:
		return "unknown"
	}
}

// InputKind selects which guide layers accompany the color layer
type InputKind int

const (
	InputKindRGB InputKind = iota
	InputKindRGBAlbedo
	InputKindRGBAlbedoNormal
)

// Layers returns the number of input layers the kind consumes
func (k InputKind) Layers() int {
	switch k {
	case InputKindRGB:
		return 1
	case InputKindRGBAlbedo:
		return 2
	case InputKindRGBAlbedoNormal:
		return 3
	default:
		return 0
	}
}

func (k InputKind) String() string {
	switch k {
	case InputKindRGB:
		return "rgb"
	case InputKindRGBAlbedo:
		return "rgb+albedo"
	case InputKindRGBAlbedoNormal:
		return "rgb+albedo+normal"
	default:
		return "unknown"
	}
}

// ParseInputKind maps the configuration names none, albedo and
// albedo_normal to an InputKind
func ParseInputKind(guides string) (InputKind, error) {
	switch guides {
	case "none":
		return InputKindRGB, nil
	case "albedo":
		return InputKindRGBAlbedo, nil
	case "albedo_normal":
		return InputKindRGBAlbedoNormal, nil
	default:
		return 0, fmt.Errorf("unknown guide set %q", guides)
	}
}

// ModelKind selects the filter model
type ModelKind int

const (
	ModelKindLDR ModelKind = iota
	ModelKindHDR
)

func (k ModelKind) String() string {
	switch k {
	case ModelKindLDR:
		return "ldr"
	case ModelKindHDR:
		return "hdr"
	default:
		return "unknown"
	}
}

// ParseModelKind maps hdr and ldr to a ModelKind
func ParseModelKind(s string) (ModelKind, error) {
	switch s {
	case "hdr":
		return ModelKindHDR, nil
	case "ldr":
		return ModelKindLDR, nil
	default:
		return 0, fmt.Errorf("unknown model kind %q", s)
	}
}

// Options fixes the input configuration of an engine
type Options struct {
	Inputs InputKind
	Model  ModelKind
	Format PixelFormat
}

// DefaultOptions returns color + albedo input with the HDR model
func DefaultOptions() Options {
	return Options{
		Inputs: InputKindRGBAlbedo,
		Model:  ModelKindHDR,
		Format: PixelFormatFloat4,
	}
}

// Validate checks that the options name a supported configuration
func (o Options) Validate() error {
	if o.Inputs.Layers() == 0 {
		return fmt.Errorf("unsupported input kind %d", o.Inputs)
	}
	if o.Model != ModelKindHDR && o.Model != ModelKindLDR {
		return fmt.Errorf("unsupported model kind %d", o.Model)
	}
	if o.Format.BytesPerPixel() == 0 {
		return fmt.Errorf("unsupported pixel format %d", o.Format)
	}
	return nil
}

// MemorySizes is the working memory an engine needs for one resolution
type MemorySizes struct {
	StateSize   int64
	ScratchSize int64
}

// Params are the per-invoke filter parameters
type Params struct {
	// DenoiseAlpha filters the alpha channel too; otherwise it is copied
	DenoiseAlpha bool
	// HDRIntensity holds the float32 exposure estimate of the frame
	HDRIntensity gpu.Buffer
	// BlendFactor mixes the unfiltered signal back in: 0 is fully filtered,
	// 1 reproduces the input
	BlendFactor float32
}

// Image2D describes one image layer in device memory
type Image2D struct {
	Data        gpu.Buffer
	Width       int
	Height      int
	RowStride   int64
	PixelStride int64
	Format      PixelFormat

	// InPlace marks an output layer that aliases the color input. Invoke
	// overwrites the color layer; its previous content is gone afterwards.
	InPlace bool
}

// NewImage2D returns a tightly packed RGBA32F layer over buf
func NewImage2D(buf gpu.Buffer, width, height int) Image2D {
	bpp := PixelFormatFloat4.BytesPerPixel()
	return Image2D{
		Data:        buf,
		Width:       width,
		Height:      height,
		RowStride:   int64(width) * bpp,
		PixelStride: bpp,
		Format:      PixelFormatFloat4,
	}
}

// Validate checks that the descriptor fits inside its buffer
func (img Image2D) Validate() error {
	if img.Data == nil || img.Data.Ptr() == 0 {
		return fmt.Errorf("%w: no data", ErrLayout)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrLayout, img.Width, img.Height)
	}
	bpp := img.Format.BytesPerPixel()
	if bpp == 0 || img.PixelStride < bpp {
		return fmt.Errorf("%w: pixel stride %d for %s", ErrLayout, img.PixelStride, img.Format)
	}
	if img.RowStride < int64(img.Width)*img.PixelStride {
		return fmt.Errorf("%w: row stride %d below %d", ErrLayout, img.RowStride, int64(img.Width)*img.PixelStride)
	}
	need := int64(img.Height-1)*img.RowStride + int64(img.Width-1)*img.PixelStride + bpp
	if img.Data.Size() < need {
		return fmt.Errorf("%w: buffer holds %d bytes, layout needs %d", ErrLayout, img.Data.Size(), need)
	}
	return nil
}

func sameStorage(a, b Image2D) bool {
	return a.Data != nil && b.Data != nil && a.Data.Ptr() == b.Data.Ptr()
}
