package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Fluctus v%s\n", version)
			fmt.Fprintln(out, "Frame denoiser")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Build: development")
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
		},
	}
}
