package commands

import (
	"fmt"

	"github.com/harskish/Fluctus/internal/config"
	"github.com/harskish/Fluctus/internal/logging"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

type globalOptions struct {
	cfgFile string
	verbose bool
	device  string
	ordinal int
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "fluctus",
		Short: "Denoise path traced frames",
		Long: `Fluctus runs the frame denoiser offline: it loads a noisy color image
plus optional albedo and normal guides, filters the color in place on the
selected compute device and writes the result.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.cfgFile, "config", "", "config file (default is $HOME/.fluctus/config.yaml)")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&g.device, "device", "", "compute device: auto, cpu, gpu, cuda (overrides device.kind)")
	flags.IntVar(&g.ordinal, "ordinal", 0, "device ordinal (overrides device.ordinal)")

	root.AddCommand(newDenoiseCommand(g))
	root.AddCommand(newDeviceCommand(g))
	root.AddCommand(newVersionCommand())

	return root
}

// load reads the configuration, applies command line overrides and sets
// up logging
func (g *globalOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.cfgFile)
	if err != nil {
		return nil, err
	}
	if err := g.apply(cmd, cfg); err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Console); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	return cfg, nil
}

func (g *globalOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Device.Kind = g.device
	}
	if flags.Changed("ordinal") {
		cfg.Device.Ordinal = g.ordinal
	}
	if g.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg.Validate()
}
