// Package commands implements CLI command handlers for piperbook.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/piperbook/piperbook/internal/combine"
	"github.com/piperbook/piperbook/internal/convert"
	"github.com/piperbook/piperbook/internal/docker"
	"github.com/piperbook/piperbook/internal/synth"
	"github.com/piperbook/piperbook/pkg/config"
	"github.com/piperbook/piperbook/pkg/logging"
)

// ErrNoInput is returned when neither --text nor --file is usable.
var ErrNoInput = errors.New("no input text. Use --text STRING or --file PATH")

// convertExecutor runs a fully configured conversion. Injected for tests.
type convertExecutor func(ctx context.Context, cfg *config.Config, req convert.Request, opts convert.Options) (*convert.Summary, error)

// ConvertCommand holds configuration and dependencies for the convert command.
type ConvertCommand struct {
	exec convertExecutor

	text       string
	file       string
	output     string
	model      string
	configPath string
	workers    int
	resume     bool
	noColor    bool
}

// NewConvertCommand creates the convert command.
func NewConvertCommand() *cobra.Command {
	return newConvertCommandWithDeps(runConversion)
}

func newConvertCommandWithDeps(exec convertExecutor) *cobra.Command {
	cc := &ConvertCommand{exec: exec}

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert text to a single audio file",
		Long: `Convert splits the input text into sentence-aligned chunks, synthesizes
each chunk with Piper TTS inside Docker, and concatenates the resulting
audio into one WAV file. An interrupted conversion can be continued with
--resume.`,
		RunE: cc.run,
	}

	cmd.Flags().StringVar(&cc.text, "text", "", "text to convert to speech")
	cmd.Flags().StringVar(&cc.file, "file", "", "text file to convert to speech")
	cmd.Flags().StringVar(&cc.output, "output", config.DefaultOutputFile, "output audio file")
	cmd.Flags().StringVar(&cc.model, "model", config.DefaultModel, "piper voice model name")
	cmd.Flags().BoolVar(&cc.resume, "resume", false, "resume from previous progress if available")
	cmd.Flags().IntVar(&cc.workers, "workers", 1, "number of parallel synthesis workers")
	cmd.Flags().StringVar(&cc.configPath, "config", "", "config file path")
	cmd.Flags().BoolVar(&cc.noColor, "no-color", false, "disable colored output")

	cmd.MarkFlagsMutuallyExclusive("text", "file")
	cmd.MarkFlagsOneRequired("text", "file")

	return cmd
}

func (cc *ConvertCommand) run(cmd *cobra.Command, _ []string) error {
	if cc.noColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	cfg, err := config.Load(cc.configPath)
	if err != nil {
		return err
	}

	applyVerbosity(cmd, cfg)

	_, logErr := logging.Setup(cfg.Logging)
	if logErr != nil {
		return logErr
	}

	text, err := cc.resolveText()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	if !quiet {
		fmt.Fprintf(out, "Converting text to speech using the %s model\n", cc.model)
		fmt.Fprintf(out, "Text length: %s characters\n", humanize.Comma(int64(len(text))))
	}

	opts := convert.Options{
		MaxChunkSize:     cfg.Chunking.MaxChunkSize,
		Workers:          cc.workers,
		ProgressInterval: cfg.Progress.Interval,
	}
	if !quiet {
		opts.ProgressOut = out
	}

	req := convert.Request{
		Text:       text,
		OutputFile: cc.output,
		ModelName:  cc.model,
		Resume:     cc.resume,
	}

	summary, err := cc.exec(ctx, cfg, req, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			color.New(color.FgYellow).Fprintln(out, "Interrupted. Progress has been saved; rerun with --resume to continue.")
		}

		return err
	}

	if !quiet {
		printSummary(out, summary)
	}

	color.New(color.FgGreen).Fprintf(out, "Audio saved to %s\n", summary.OutputFile)

	return nil
}

// resolveText returns the input text from --text or --file.
func (cc *ConvertCommand) resolveText() (string, error) {
	if cc.file != "" {
		data, err := os.ReadFile(cc.file)
		if err != nil {
			return "", fmt.Errorf("read input file %s: %w", cc.file, err)
		}

		return string(data), nil
	}

	if cc.text == "" {
		return "", ErrNoInput
	}

	return cc.text, nil
}

// applyVerbosity maps the root --verbose/--quiet flags onto the log level.
func applyVerbosity(cmd *cobra.Command, cfg *config.Config) {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")

	if verbose {
		cfg.Logging.Level = "debug"
	}

	if quiet {
		cfg.Logging.Level = "error"
	}
}

// printSummary renders the end-of-run conversion summary.
func printSummary(w io.Writer, summary *convert.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendRow(table.Row{"Chunks", summary.TotalChunks})

	if summary.SkippedChunks > 0 {
		t.AppendRow(table.Row{"Resumed at chunk", summary.SkippedChunks})
	}

	t.AppendRow(table.Row{"Output size", humanize.Bytes(uint64(summary.OutputBytes))})

	if summary.AudioSeconds > 0 {
		t.AppendRow(table.Row{"Audio length", (time.Duration(summary.AudioSeconds * float64(time.Second))).Round(time.Second)})
	}

	t.AppendRow(table.Row{"Elapsed", summary.Elapsed.Round(time.Millisecond)})
	t.Render()
}

// runConversion wires the real pipeline: docker runtime, piper engine,
// combiner and orchestrator.
func runConversion(ctx context.Context, cfg *config.Config, req convert.Request, opts convert.Options) (*convert.Summary, error) {
	client := docker.NewClient()

	installErr := client.Installed(ctx)
	if installErr != nil {
		return nil, installErr
	}

	if !client.ImageExists(ctx, cfg.Synthesis.Image) {
		slog.Info("docker image missing, building it", "image", cfg.Synthesis.Image)

		buildErr := client.BuildImage(ctx, cfg.Synthesis.Image, ".")
		if buildErr != nil {
			return nil, buildErr
		}
	}

	logger := slog.Default()

	engine := synth.NewEngine(client, logger, cfg.Synthesis.Image, cfg.Synthesis.ModelsDir, cfg.Synthesis.ChunkTimeout)
	combiner := combine.New(client, logger, cfg.Combine.FFmpegImage)
	converter := convert.New(engine, combiner, logger, opts)

	return converter.Convert(ctx, req)
}
