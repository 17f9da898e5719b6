package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/piperbook/piperbook/internal/docker"
	"github.com/piperbook/piperbook/pkg/config"
)

// runtimeChecker is the subset of the docker client the doctor command uses.
type runtimeChecker interface {
	Installed(ctx context.Context) error
	ImageExists(ctx context.Context, image string) bool
	BuildImage(ctx context.Context, image, contextDir string) error
}

// DoctorCommand checks that the container runtime and image are usable.
type DoctorCommand struct {
	client     runtimeChecker
	configPath string
	build      bool
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return newDoctorCommandWithDeps(docker.NewClient())
}

func newDoctorCommandWithDeps(client runtimeChecker) *cobra.Command {
	dc := &DoctorCommand{client: client}

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that Docker and the synthesis image are usable",
		RunE:  dc.run,
	}

	cmd.Flags().BoolVar(&dc.build, "build", false, "build the synthesis image if it is missing")
	cmd.Flags().StringVar(&dc.configPath, "config", "", "config file path")

	return cmd
}

func (dc *DoctorCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(dc.configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	installErr := dc.client.Installed(ctx)
	if installErr != nil {
		color.New(color.FgRed).Fprintln(out, "Docker is not installed or not running")

		return installErr
	}

	color.New(color.FgGreen).Fprintln(out, "Docker is installed and running")

	if dc.client.ImageExists(ctx, cfg.Synthesis.Image) {
		color.New(color.FgGreen).Fprintf(out, "Image %s is present\n", cfg.Synthesis.Image)

		return nil
	}

	if !dc.build {
		color.New(color.FgYellow).Fprintf(out, "Image %s is missing. Run with --build to build it\n", cfg.Synthesis.Image)

		return nil
	}

	color.New(color.FgCyan).Fprintf(out, "Building image %s\n", cfg.Synthesis.Image)

	wd, wdErr := os.Getwd()
	if wdErr != nil {
		return fmt.Errorf("failed to resolve build context: %w", wdErr)
	}

	buildErr := dc.client.BuildImage(ctx, cfg.Synthesis.Image, wd)
	if buildErr != nil {
		color.New(color.FgRed).Fprintf(out, "Failed to build image %s\n", cfg.Synthesis.Image)

		return buildErr
	}

	color.New(color.FgGreen).Fprintf(out, "Image %s built\n", cfg.Synthesis.Image)

	return nil
}
