// Package main provides the entry point for the piperbook CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piperbook/piperbook/cmd/piperbook/commands"
	"github.com/piperbook/piperbook/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "piperbook",
		Short: "Piperbook - convert long text into a single audio file",
		Long: `Piperbook converts arbitrary-length text into one WAV file by
synthesizing it chunk by chunk with Piper TTS running in Docker.

Commands:
  convert   Convert text or a text file to audio
  doctor    Check that the container runtime and image are usable`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress non-error output")

	rootCmd.AddCommand(commands.NewConvertCommand())
	rootCmd.AddCommand(commands.NewDoctorCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "piperbook %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
