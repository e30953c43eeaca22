package commands

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/harskish/Fluctus/internal/gpu"
	"github.com/harskish/Fluctus/internal/system"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7B68EE")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Width(16)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D4FF"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7B68EE")).
			Padding(0, 1)
)

func newDeviceCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Show device information",
		Long: `Display information about the compute device the denoiser would use.

The device is chosen by --device/--ordinal or device.kind/device.ordinal in
the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			dev, err := openDevice(cfg.Device)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Device error: "+err.Error()))
				return err
			}
			defer dev.Free()

			writeDeviceReport(cmd.OutOrStdout(), dev, cfg.Interop.Mode)
			return nil
		},
	}
}

func writeDeviceReport(w io.Writer, dev gpu.Device, interopMode string) {
	props := dev.Properties()

	rows := [][2]string{
		{"Device", deviceLabel(dev)},
		{"Type", dev.Type().String()},
		{"Ordinal", fmt.Sprint(dev.Ordinal())},
		{"Interop", interopMode},
		{"Unified memory", fmt.Sprint(props.UnifiedAddressing)},
	}
	if dev.Type() == gpu.DeviceTypeGPU {
		rows = append(rows,
			[2]string{"Compute", fmt.Sprintf("%d.%d", props.ComputeMajor, props.ComputeMinor)},
			[2]string{"SMs", fmt.Sprint(props.MultiProcessors)},
		)
	} else {
		rows = append(rows, [2]string{"Threads", fmt.Sprint(props.MultiProcessors)})
	}
	if used, total := dev.MemoryUsage(); total > 0 {
		rows = append(rows, [2]string{"Memory", fmt.Sprintf("%s / %s (%.1f%%)",
			system.FormatBytes(used), system.FormatBytes(total), float64(used)/float64(total)*100)})
	}
	rows = append(rows, [2]string{"Platform", runtime.GOOS + "/" + runtime.GOARCH})

	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(labelStyle.Render(r[0]) + valueStyle.Render(r[1]))
	}

	fmt.Fprintln(w, titleStyle.Render("Fluctus Device Information"))
	fmt.Fprintln(w, boxStyle.Render(b.String()))
}
