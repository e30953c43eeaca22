package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/harskish/Fluctus/internal/config"
	"github.com/harskish/Fluctus/internal/denoise"
	"github.com/harskish/Fluctus/internal/frame"
	"github.com/harskish/Fluctus/internal/gpu"
	"github.com/harskish/Fluctus/internal/interop"
)

// openDevice returns the device named by the configuration
func openDevice(cfg config.DeviceConfig) (gpu.Device, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "auto":
		// GPU if available, otherwise CPU
		return gpu.GetDefaultDevice(cfg.Ordinal)

	case "cpu":
		return gpu.NewCPUDevice(), nil

	case "gpu", "cuda":
		if runtime.GOOS != "linux" && runtime.GOOS != "windows" {
			return nil, fmt.Errorf("CUDA is not available on %s", runtime.GOOS)
		}
		dev, err := gpu.GetDevice(gpu.DeviceTypeGPU, cfg.Ordinal)
		if err != nil {
			return nil, fmt.Errorf("CUDA device %d not available: %w\nUse --device cpu to force CPU mode", cfg.Ordinal, err)
		}
		return dev, nil

	default:
		return nil, fmt.Errorf("unknown device: %s\nValid options: auto, cpu, gpu, cuda", cfg.Kind)
	}
}

// deviceLabel returns a human-readable device name with helpful info
func deviceLabel(dev gpu.Device) string {
	switch dev.Type() {
	case gpu.DeviceTypeCPU:
		return fmt.Sprintf("%s (host engine)", dev.Name())
	case gpu.DeviceTypeGPU:
		return fmt.Sprintf("%s (CUDA %d)", dev.Name(), dev.Ordinal())
	default:
		return dev.Name()
	}
}

// backend is everything a frame needs on one device
type backend struct {
	dev     gpu.Device
	manager *interop.Manager
	driver  *frame.Driver
	engine  denoise.Engine
}

func newBackend(dev gpu.Device, cfg *config.Config) (*backend, error) {
	inputs, err := denoise.ParseInputKind(cfg.Denoise.Guides)
	if err != nil {
		return nil, err
	}
	model, err := denoise.ParseModelKind(cfg.Denoise.Model)
	if err != nil {
		return nil, err
	}
	opts := denoise.Options{Inputs: inputs, Model: model, Format: denoise.PixelFormatFloat4}
	poolBytes := int64(cfg.Denoise.PoolMB) << 20

	engine, err := newEngine(dev, cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", denoise.ErrEngineInit, err)
	}

	registrar, err := newRegistrar(dev, cfg.Interop.Mode, poolBytes)
	if err != nil {
		engine.Close()
		return nil, err
	}

	pipeline, err := denoise.New(dev, engine, opts, poolBytes)
	if err != nil {
		engine.Close()
		return nil, err
	}

	manager := interop.NewManager(registrar, interop.Options{StrictSize: cfg.Interop.StrictSize})
	driver := frame.New(dev, manager, pipeline, frame.Options{Blend: cfg.Denoise.Blend})

	return &backend{dev: dev, manager: manager, driver: driver, engine: engine}, nil
}

func newEngine(dev gpu.Device, fc config.FilterConfig) (denoise.Engine, error) {
	switch d := dev.(type) {
	case *gpu.CUDADevice:
		return denoise.NewOptixEngine(d)
	default:
		return denoise.NewHostEngine(dev, denoise.FilterParams{
			Radius:       fc.Radius,
			SigmaSpatial: fc.SigmaSpatial,
			SigmaColor:   fc.SigmaColor,
			SigmaAlbedo:  fc.SigmaAlbedo,
			SigmaNormal:  fc.SigmaNormal,
		})
	}
}

func newRegistrar(dev gpu.Device, mode string, poolBytes int64) (interop.Registrar, error) {
	switch mode {
	case "zero_copy":
		return interop.NewHostRegistrar(dev)
	case "staging":
		return interop.NewStagingRegistrar(dev, gpu.NewBufferPool(dev, poolBytes)), nil
	case "auto":
		if dev.Type() == gpu.DeviceTypeCPU {
			return interop.NewHostRegistrar(dev)
		}
		return interop.NewStagingRegistrar(dev, gpu.NewBufferPool(dev, poolBytes)), nil
	default:
		return nil, fmt.Errorf("unknown interop mode %q", mode)
	}
}

func (b *backend) Close() error {
	err := b.driver.Close()
	if cerr := b.engine.Close(); err == nil {
		err = cerr
	}
	return err
}
