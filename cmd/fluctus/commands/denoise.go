package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harskish/Fluctus/internal/config"
	"github.com/harskish/Fluctus/internal/imageio"
	"github.com/harskish/Fluctus/internal/logging"
	"github.com/harskish/Fluctus/internal/surface"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Inputs usually change as a burst of writes
const settleDelay = 150 * time.Millisecond

type denoiseOptions struct {
	inputs imageio.Inputs
	output string
	blend  float32
	watch  bool
}

func newDenoiseCommand(g *globalOptions) *cobra.Command {
	o := &denoiseOptions{}

	cmd := &cobra.Command{
		Use:   "denoise",
		Short: "Denoise a rendered frame",
		Long: `Denoise a rendered frame.

The color image is filtered in place, guided by the optional albedo and
normal images, and written to the output path. The output format follows
the file extension (png, jpg, bmp, tga, webp).

With --watch the command keeps running and denoises again whenever an input
file changes. Edits to denoise.blend in the config file apply immediately.`,
		Example: `  fluctus denoise --color frame.png --albedo albedo.png -o clean.png
  fluctus denoise --color frame.png --blend 0.2 --watch -o preview.webp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDenoise(cmd, g, o)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.inputs.Color, "color", "", "noisy color image (required)")
	flags.StringVar(&o.inputs.Albedo, "albedo", "", "albedo guide image")
	flags.StringVar(&o.inputs.Normal, "normal", "", "normal guide image")
	flags.StringVarP(&o.output, "output", "o", "", "output image (required)")
	flags.Float32Var(&o.blend, "blend", 0, "share of the noisy input mixed back in, 0..1 (overrides denoise.blend)")
	flags.BoolVarP(&o.watch, "watch", "w", false, "denoise again whenever an input changes")
	cmd.MarkFlagRequired("color")
	cmd.MarkFlagRequired("output")

	return cmd
}

func runDenoise(cmd *cobra.Command, g *globalOptions, o *denoiseOptions) error {
	cfg, err := g.load(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("blend") {
		if o.blend < 0 || o.blend > 1 {
			return fmt.Errorf("--blend must be between 0 and 1")
		}
		cfg.Denoise.Blend = o.blend
	}

	dev, err := openDevice(cfg.Device)
	if err != nil {
		return err
	}
	defer dev.Free()

	b, err := newBackend(dev, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	log := logging.Component("cli").WithField("device", dev.Name())

	s := &surface.Surface{}
	if err := b.process(s, o); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Denoised %s -> %s (%dx%d, %s)\n",
		o.inputs.Color, o.output, s.TexWidth(), s.TexHeight(), deviceLabel(dev))

	if !o.watch {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return b.watch(ctx, g.cfgFile, s, o, log)
}

// process loads the inputs, rebinding when the frame size changed, then
// denoises and writes the output
func (b *backend) process(s *surface.Surface, o *denoiseOptions) error {
	if _, err := imageio.LoadInto(s, o.inputs); err != nil {
		return err
	}
	// A load that failed halfway may have reallocated the surface already,
	// so compare against what is registered rather than trusting this load
	var err error
	switch {
	case !b.driver.Bound():
		err = b.driver.BindBuffers(s)
	case !b.driver.BoundTo(s):
		err = b.driver.ResizeBuffers(s)
	}
	if err != nil {
		return err
	}

	if err := b.driver.DenoiseFrame(); err != nil {
		return err
	}
	return imageio.Save(o.output, s.ColorImage())
}

// watch reruns process on input changes and blend edits until ctx is done.
// Everything runs on this goroutine; watchers only deliver events.
func (b *backend) watch(ctx context.Context, cfgFile string, s *surface.Surface, o *denoiseOptions, log *logrus.Entry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files, so watch the directories
	watched := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range o.inputs.Paths() {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	blends := make(chan float32, 1)
	_, err = config.LoadWatched(cfgFile, func(cfg *config.Config) {
		select {
		case blends <- cfg.Denoise.Blend:
		default:
			// Drop the stale value and keep the newest
			select {
			case <-blends:
			default:
			}
			blends <- cfg.Denoise.Blend
		}
	}, func(err error) {
		log.WithError(err).Warn("ignoring config change")
	})
	if err != nil {
		log.WithError(err).Warn("config hot reload disabled")
	}

	settle := time.NewTimer(settleDelay)
	settle.Stop()

	log.WithField("inputs", len(watched)).Info("watching for changes")

	rerun := func(reason string) {
		start := time.Now()
		if err := b.process(s, o); err != nil {
			log.WithError(err).Error("denoise failed")
			return
		}
		log.WithFields(logrus.Fields{
			"reason":   reason,
			"width":    s.TexWidth(),
			"height":   s.TexHeight(),
			"duration": time.Since(start),
		}).Info("denoised")
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(ev.Name)] || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			settle.Reset(settleDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("file watcher error")

		case blend := <-blends:
			if blend == b.driver.Blend() {
				continue
			}
			b.driver.SetBlend(blend)
			rerun(fmt.Sprintf("blend %.2f", blend))

		case <-settle.C:
			rerun("input changed")
		}
	}
}
