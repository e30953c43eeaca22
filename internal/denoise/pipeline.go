package denoise

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/harskish/Fluctus/internal/gpu"
	"github.com/harskish/Fluctus/internal/logging"
	"github.com/sirupsen/logrus"
)

// State is the life cycle state of a Pipeline
type State int

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Pipeline owns an engine instance and its working memory
type Pipeline struct {
	dev    gpu.Device
	engine Engine
	opts   Options
	pool   *gpu.BufferPool

	inst      Instance
	state     gpu.Buffer
	scratch   gpu.Buffer
	intensity gpu.Buffer
	sizes     MemorySizes
	width     int
	height    int
	st        State
	destroyed bool

	log *logrus.Entry
}

// New creates the engine instance for opts. An error here means the device
// or library is unusable and is not worth retrying.
//
// Working buffers are recycled through a pool holding at most poolBytes
// (0 = unlimited).
func New(dev gpu.Device, engine Engine, opts Options, poolBytes int64) (*Pipeline, error) {
	if dev == nil || engine == nil {
		return nil, fmt.Errorf("%w: nil device or engine", ErrEngineInit)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
	}

	inst, err := engine.Create(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineInit, engine.Name(), err)
	}

	p := &Pipeline{
		dev:    dev,
		engine: engine,
		opts:   opts,
		pool:   gpu.NewBufferPool(dev, poolBytes),
		inst:   inst,
		log: logging.Component("denoise").WithFields(logrus.Fields{
			"engine": engine.Name(),
			"device": dev.Name(),
		}),
	}

	p.log.WithFields(logrus.Fields{
		"inputs": opts.Inputs,
		"model":  opts.Model,
	}).Info("denoiser created")

	return p, nil
}

// Options returns the fixed input configuration
func (p *Pipeline) Options() Options { return p.opts }

// State returns the life cycle state
func (p *Pipeline) State() State { return p.st }

// Size returns the resolution of the last successful Setup
func (p *Pipeline) Size() (int, int) { return p.width, p.height }

// Sizes returns the working memory allocated by the last successful Setup
func (p *Pipeline) Sizes() MemorySizes { return p.sizes }

// IntensityBuffer returns the single float32 exposure buffer
func (p *Pipeline) IntensityBuffer() gpu.Buffer { return p.intensity }

// ComputeMemoryRequirements reports the state and scratch sizes needed for
// a width x height image
func (p *Pipeline) ComputeMemoryRequirements(width, height int) (MemorySizes, error) {
	if p.destroyed {
		return MemorySizes{}, ErrDestroyed
	}
	if width <= 0 || height <= 0 {
		return MemorySizes{}, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if p.inst == nil {
		return MemorySizes{}, fmt.Errorf("%w: no engine instance", ErrEngineInit)
	}
	return p.inst.MemoryResources(width, height)
}

// Setup recreates the engine instance and its working memory for a new
// resolution. It must run on first bind and on every resolution change.
func (p *Pipeline) Setup(width, height int) error {
	if p.destroyed {
		return ErrDestroyed
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}

	p.st = StateUninitialized

	// The previous instance survives a failed Create
	inst, err := p.engine.Create(p.opts)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEngineInit, p.engine.Name(), err)
	}
	if p.inst != nil {
		if err := p.inst.Destroy(); err != nil {
			p.log.WithError(err).Warn("destroying previous denoiser instance")
		}
	}
	p.inst = inst

	sizes, err := inst.MemoryResources(width, height)
	if err != nil {
		return fmt.Errorf("computing memory resources: %w", err)
	}

	p.releaseWorking()

	if p.state, err = p.pool.Allocate(sizes.StateSize); err != nil {
		return fmt.Errorf("allocating denoiser state (%d bytes): %w", sizes.StateSize, err)
	}
	if p.scratch, err = p.pool.Allocate(sizes.ScratchSize); err != nil {
		p.releaseWorking()
		return fmt.Errorf("allocating denoiser scratch (%d bytes): %w", sizes.ScratchSize, err)
	}
	if p.intensity == nil {
		if p.intensity, err = p.dev.Allocate(4); err != nil {
			p.releaseWorking()
			return fmt.Errorf("allocating intensity buffer: %w", err)
		}
	}

	if err := inst.Setup(width, height, p.state, p.scratch); err != nil {
		p.releaseWorking()
		return fmt.Errorf("denoiser setup %dx%d: %w", width, height, err)
	}

	p.sizes = sizes
	p.width, p.height = width, height
	p.st = StateReady

	p.log.WithFields(logrus.Fields{
		"width":   width,
		"height":  height,
		"state":   sizes.StateSize,
		"scratch": sizes.ScratchSize,
	}).Debug("denoiser setup")

	return nil
}

// ComputeIntensity estimates the exposure of the color layer. The value is
// kept in IntensityBuffer for Invoke and also returned.
func (p *Pipeline) ComputeIntensity(color Image2D) (float32, error) {
	p.mustBeReady("ComputeIntensity")

	if err := p.checkLayer("color", color); err != nil {
		return 0, err
	}
	if err := p.inst.ComputeIntensity(color, p.intensity, p.scratch); err != nil {
		return 0, fmt.Errorf("computing intensity: %w", err)
	}

	var raw [4]byte
	if err := p.intensity.CopyToHost(raw[:]); err != nil {
		return 0, fmt.Errorf("reading intensity: %w", err)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(raw[:])), nil
}

// Invoke runs the filter. inputs holds the color layer followed by the
// guide layers the pipeline was configured with. When output.InPlace is set
// the output must alias inputs[0], whose content is replaced.
func (p *Pipeline) Invoke(inputs []Image2D, output Image2D, params Params) error {
	p.mustBeReady("Invoke")

	if len(inputs) != p.opts.Inputs.Layers() {
		return fmt.Errorf("%w: %d input layers, %s needs %d",
			ErrLayout, len(inputs), p.opts.Inputs, p.opts.Inputs.Layers())
	}
	for i, in := range inputs {
		if err := p.checkLayer(fmt.Sprintf("input %d", i), in); err != nil {
			return err
		}
	}
	if err := p.checkLayer("output", output); err != nil {
		return err
	}

	if output.InPlace {
		if !sameStorage(output, inputs[0]) {
			return fmt.Errorf("%w: in-place output does not alias the color layer", ErrLayout)
		}
	} else if sameStorage(output, inputs[0]) {
		return fmt.Errorf("%w: output aliases the color layer without InPlace", ErrLayout)
	}
	for i := 1; i < len(inputs); i++ {
		if sameStorage(output, inputs[i]) {
			return fmt.Errorf("%w: output aliases guide layer %d", ErrLayout, i)
		}
	}

	if params.BlendFactor < 0 || params.BlendFactor > 1 || params.BlendFactor != params.BlendFactor {
		return fmt.Errorf("blend factor %v outside [0,1]", params.BlendFactor)
	}
	if params.HDRIntensity == nil {
		params.HDRIntensity = p.intensity
	}

	if err := p.inst.Invoke(params, p.state, inputs, output, p.scratch); err != nil {
		return fmt.Errorf("invoking denoiser: %w", err)
	}
	return nil
}

// Destroy releases the engine instance and all pipeline-owned memory
func (p *Pipeline) Destroy() error {
	if p.destroyed {
		return nil
	}

	var errs []error
	if p.inst != nil {
		errs = append(errs, p.inst.Destroy())
		p.inst = nil
	}
	p.releaseWorking()
	if p.intensity != nil {
		errs = append(errs, p.intensity.Free())
		p.intensity = nil
	}
	errs = append(errs, p.pool.Clear())

	p.st = StateUninitialized
	p.destroyed = true
	p.width, p.height = 0, 0
	p.sizes = MemorySizes{}

	p.log.Debug("denoiser destroyed")

	return errors.Join(errs...)
}

func (p *Pipeline) releaseWorking() {
	if p.state != nil {
		p.pool.Release(p.state)
		p.state = nil
	}
	if p.scratch != nil {
		p.pool.Release(p.scratch)
		p.scratch = nil
	}
}

func (p *Pipeline) mustBeReady(op string) {
	if p.st != StateReady {
		panic(fmt.Sprintf("denoise: %s called on %s pipeline", op, p.st))
	}
}

func (p *Pipeline) checkLayer(name string, img Image2D) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if img.Format != p.opts.Format {
		return fmt.Errorf("%w: %s format %s, pipeline uses %s", ErrLayout, name, img.Format, p.opts.Format)
	}
	if img.Width != p.width || img.Height != p.height {
		return fmt.Errorf("%w: %s is %dx%d, pipeline set up for %dx%d",
			ErrLayout, name, img.Width, img.Height, p.width, p.height)
	}
	return nil
}
