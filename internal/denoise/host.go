package denoise

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"

	"github.com/chewxy/math32"
	"github.com/harskish/Fluctus/internal/gpu"
	"golang.org/x/sync/errgroup"
)

const (
	// Middle grey the exposure estimate maps the log-average luminance to
	middleGrey = 0.18
	minLum     = 1e-8
)

// FilterParams tunes the host engine's joint bilateral filter
type FilterParams struct {
	Radius       int
	SigmaSpatial float32
	SigmaColor   float32
	SigmaAlbedo  float32
	SigmaNormal  float32
}

// DefaultFilterParams returns the parameters used when none are configured
func DefaultFilterParams() FilterParams {
	return FilterParams{
		Radius:       3,
		SigmaSpatial: 2.0,
		SigmaColor:   0.35,
		SigmaAlbedo:  0.1,
		SigmaNormal:  0.2,
	}
}

// HostEngine is a reference denoiser that runs on devices whose memory is
// host addressable. It implements a joint bilateral filter guided by the
// albedo (and optionally normal) layers, with range weights computed on
// exposure-normalized log luminance.
type HostEngine struct {
	dev    gpu.Device
	params FilterParams
}

// NewHostEngine returns a host engine for dev
func NewHostEngine(dev gpu.Device, params FilterParams) (*HostEngine, error) {
	if dev.Type() != gpu.DeviceTypeCPU {
		return nil, fmt.Errorf("host engine needs a CPU device, got %s", dev.Name())
	}
	if params.Radius < 1 {
		return nil, fmt.Errorf("filter radius %d must be at least 1", params.Radius)
	}
	if params.SigmaSpatial <= 0 || params.SigmaColor <= 0 || params.SigmaAlbedo <= 0 || params.SigmaNormal <= 0 {
		return nil, fmt.Errorf("filter sigmas must be positive")
	}
	return &HostEngine{dev: dev, params: params}, nil
}

func (e *HostEngine) Name() string { return "host-bilateral" }

func (e *HostEngine) Close() error { return nil }

func (e *HostEngine) Create(opts Options) (Instance, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Format != PixelFormatFloat4 {
		return nil, fmt.Errorf("host engine supports float4 only")
	}
	return &hostInstance{opts: opts, params: e.params}, nil
}

type hostInstance struct {
	opts   Options
	params FilterParams

	width, height int
	ready         bool
	destroyed     bool
}

func (h *hostInstance) kernelTaps() int {
	d := 2*h.params.Radius + 1
	return d * d
}

// State holds the spatial kernel followed by one tone-mapped luminance per
// pixel. Scratch holds a packed copy of the color layer followed by one
// log luminance per pixel.
func (h *hostInstance) MemoryResources(width, height int) (MemorySizes, error) {
	if width <= 0 || height <= 0 {
		return MemorySizes{}, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	pixels := int64(width) * int64(height)
	return MemorySizes{
		StateSize:   int64(h.kernelTaps())*4 + pixels*4,
		ScratchSize: pixels*16 + pixels*4,
	}, nil
}

func (h *hostInstance) Setup(width, height int, state, scratch gpu.Buffer) error {
	if h.destroyed {
		return fmt.Errorf("instance destroyed")
	}
	sizes, err := h.MemoryResources(width, height)
	if err != nil {
		return err
	}
	if state.Size() < sizes.StateSize || scratch.Size() < sizes.ScratchSize {
		return fmt.Errorf("%w: state %d/%d, scratch %d/%d", ErrWorkingMemory,
			state.Size(), sizes.StateSize, scratch.Size(), sizes.ScratchSize)
	}

	st, err := gpu.Float32s(state)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}

	r := h.params.Radius
	inv := 1 / (2 * h.params.SigmaSpatial * h.params.SigmaSpatial)
	i := 0
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			st[i] = math32.Exp(-float32(dx*dx+dy*dy) * inv)
			i++
		}
	}

	h.width, h.height = width, height
	h.ready = true
	return nil
}

// layer is a float32 view of an Image2D
type layer struct {
	px          []float32
	rowStride   int
	pixelStride int
}

func viewLayer(img Image2D) (layer, error) {
	px, err := gpu.Float32s(img.Data)
	if err != nil {
		return layer{}, err
	}
	return layer{
		px:          px,
		rowStride:   int(img.RowStride / 4),
		pixelStride: int(img.PixelStride / 4),
	}, nil
}

func (l layer) at(x, y int) int { return y*l.rowStride + x*l.pixelStride }

func (h *hostInstance) workingViews(state, scratch gpu.Buffer) (st, sc []float32, err error) {
	if !h.ready {
		return nil, nil, fmt.Errorf("instance not set up")
	}
	sizes, _ := h.MemoryResources(h.width, h.height)
	if state.Size() < sizes.StateSize || scratch.Size() < sizes.ScratchSize {
		return nil, nil, fmt.Errorf("%w: state %d/%d, scratch %d/%d", ErrWorkingMemory,
			state.Size(), sizes.StateSize, scratch.Size(), sizes.ScratchSize)
	}
	if st, err = gpu.Float32s(state); err != nil {
		return nil, nil, fmt.Errorf("state: %w", err)
	}
	if sc, err = gpu.Float32s(scratch); err != nil {
		return nil, nil, fmt.Errorf("scratch: %w", err)
	}
	return st, sc, nil
}

func (h *hostInstance) checkImage(img Image2D) error {
	if img.Width != h.width || img.Height != h.height {
		return fmt.Errorf("%w: image %dx%d, instance %dx%d", ErrLayout, img.Width, img.Height, h.width, h.height)
	}
	return img.Validate()
}

func luminance(r, g, b float32) float32 {
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// forRows runs fn over bands of rows in parallel and waits for all of them
func forRows(height int, fn func(y0, y1 int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > height {
		workers = height
	}
	band := (height + workers - 1) / workers

	var g errgroup.Group
	for y0 := 0; y0 < height; y0 += band {
		y0, y1 := y0, min(y0+band, height)
		g.Go(func() error {
			fn(y0, y1)
			return nil
		})
	}
	g.Wait()
}

func (h *hostInstance) ComputeIntensity(color Image2D, intensity, scratch gpu.Buffer) error {
	if err := h.checkImage(color); err != nil {
		return err
	}
	sizes, _ := h.MemoryResources(h.width, h.height)
	if !h.ready || scratch.Size() < sizes.ScratchSize {
		return fmt.Errorf("%w: scratch %d/%d", ErrWorkingMemory, scratch.Size(), sizes.ScratchSize)
	}
	sc, err := gpu.Float32s(scratch)
	if err != nil {
		return fmt.Errorf("scratch: %w", err)
	}
	in, err := viewLayer(color)
	if err != nil {
		return fmt.Errorf("color: %w", err)
	}

	w, ht := h.width, h.height
	logLum := sc[w*ht*4 : w*ht*5]
	rowSum := make([]float64, ht)
	rowCount := make([]int, ht)

	forRows(ht, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				i := in.at(x, y)
				l := luminance(in.px[i], in.px[i+1], in.px[i+2])
				if l > minLum {
					ll := math32.Log(l)
					logLum[y*w+x] = ll
					rowSum[y] += float64(ll)
					rowCount[y]++
				} else {
					logLum[y*w+x] = 0
				}
			}
		}
	})

	var sum float64
	var count int
	for y := range rowSum {
		sum += rowSum[y]
		count += rowCount[y]
	}

	value := float32(1)
	if count > 0 {
		value = float32(middleGrey / math.Exp(sum/float64(count)))
	}

	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], math.Float32bits(value))
	return intensity.CopyFromHost(raw[:])
}

func readIntensity(buf gpu.Buffer) (float32, error) {
	if buf == nil {
		return 1, nil
	}
	raw := make([]byte, buf.Size())
	if len(raw) < 4 {
		return 0, fmt.Errorf("intensity buffer holds %d bytes", len(raw))
	}
	if err := buf.CopyToHost(raw); err != nil {
		return 0, err
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(raw[:4]))
	if v <= 0 || math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return 1, nil
	}
	return v, nil
}

func (h *hostInstance) Invoke(params Params, state gpu.Buffer, inputs []Image2D, output Image2D, scratch gpu.Buffer) error {
	st, sc, err := h.workingViews(state, scratch)
	if err != nil {
		return err
	}
	if len(inputs) != h.opts.Inputs.Layers() {
		return fmt.Errorf("%w: %d input layers, want %d", ErrLayout, len(inputs), h.opts.Inputs.Layers())
	}
	layers := make([]layer, len(inputs))
	for i, img := range inputs {
		if err := h.checkImage(img); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if layers[i], err = viewLayer(img); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	if err := h.checkImage(output); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	out, err := viewLayer(output)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}

	exposure := float32(1)
	if h.opts.Model == ModelKindHDR {
		if exposure, err = readIntensity(params.HDRIntensity); err != nil {
			return fmt.Errorf("reading intensity: %w", err)
		}
	}

	w, ht := h.width, h.height
	r := h.params.Radius
	kernel := st[:h.kernelTaps()]
	tone := st[h.kernelTaps() : h.kernelTaps()+w*ht]
	orig := sc[:w*ht*4]
	color := layers[0]

	// Pack the color layer into scratch and tone map it. The output may
	// alias the color layer, so everything below reads from the copies.
	forRows(ht, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				i := color.at(x, y)
				o := (y*w + x) * 4
				copy(orig[o:o+4], color.px[i:i+4])
				l := luminance(orig[o], orig[o+1], orig[o+2])
				tone[y*w+x] = h.toneMap(l, exposure)
			}
		}
	})

	invColor := 1 / (2 * h.params.SigmaColor * h.params.SigmaColor)
	invAlbedo := 1 / (2 * h.params.SigmaAlbedo * h.params.SigmaAlbedo)
	invNormal := 1 / (2 * h.params.SigmaNormal * h.params.SigmaNormal)
	blend := params.BlendFactor

	forRows(ht, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				p := y*w + x
				var sum [4]float32
				var wsum float32
				k := 0
				for dy := -r; dy <= r; dy++ {
					qy := y + dy
					for dx := -r; dx <= r; dx++ {
						qx := x + dx
						tap := kernel[k]
						k++
						if qx < 0 || qx >= w || qy < 0 || qy >= ht {
							continue
						}
						q := qy*w + qx

						dt := tone[p] - tone[q]
						e := dt * dt * invColor
						if len(layers) > 1 {
							e += guideDistance(layers[1], x, y, qx, qy) * invAlbedo
						}
						if len(layers) > 2 {
							e += guideDistance(layers[2], x, y, qx, qy) * invNormal
						}
						wt := tap * math32.Exp(-e)

						o := q * 4
						sum[0] += wt * orig[o]
						sum[1] += wt * orig[o+1]
						sum[2] += wt * orig[o+2]
						sum[3] += wt * orig[o+3]
						wsum += wt
					}
				}

				src := orig[p*4 : p*4+4]
				dst := out.px[out.at(x, y):]
				for c := 0; c < 4; c++ {
					f := sum[c] / wsum
					if c == 3 && !params.DenoiseAlpha {
						f = src[3]
					}
					dst[c] = (1-blend)*f + blend*src[c]
				}
			}
		}
	})

	return nil
}

func (h *hostInstance) toneMap(l, exposure float32) float32 {
	if l < 0 {
		l = 0
	}
	if h.opts.Model == ModelKindHDR {
		return math32.Log(1 + l*exposure)
	}
	return l
}

func guideDistance(g layer, x, y, qx, qy int) float32 {
	a := g.at(x, y)
	b := g.at(qx, qy)
	d0 := g.px[a] - g.px[b]
	d1 := g.px[a+1] - g.px[b+1]
	d2 := g.px[a+2] - g.px[b+2]
	return d0*d0 + d1*d1 + d2*d2
}

func (h *hostInstance) Destroy() error {
	h.ready = false
	h.destroyed = true
	return nil
}
