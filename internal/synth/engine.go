// Package synth invokes the Piper TTS engine once per text chunk.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/piperbook/piperbook/internal/docker"
)

// ErrSynthesis means the engine subprocess failed or produced no audio.
var ErrSynthesis = errors.New("speech synthesis failed")

// Container-side paths for the piper invocation.
const (
	containerInput  = "/input/text.txt"
	containerOutput = "/output"
	containerModels = "/models"
)

const dirPerm = 0o750

// Runtime is the subset of the container runtime the engine needs.
type Runtime interface {
	Run(ctx context.Context, image string, mounts []docker.Mount, cmd ...string) error
}

// Engine synthesizes audio segments by running piper inside a container.
type Engine struct {
	runtime   Runtime
	logger    *slog.Logger
	image     string
	modelsDir string
	timeout   time.Duration
}

// NewEngine creates an engine around the given container runtime.
// modelsDir is bind-mounted so voice models downloaded by piper persist
// across runs. timeout bounds one chunk; zero disables the bound.
func NewEngine(runtime Runtime, logger *slog.Logger, image, modelsDir string, timeout time.Duration) *Engine {
	return &Engine{
		runtime:   runtime,
		logger:    logger,
		image:     image,
		modelsDir: modelsDir,
		timeout:   timeout,
	}
}

// SegmentName returns the deterministic segment file name for a chunk index.
func SegmentName(index int) string {
	return fmt.Sprintf("chunk_%d.wav", index)
}

// SynthesizeChunk converts one chunk's text into a WAV segment named by
// index inside dir, and returns the segment path. The chunk text travels
// through a temporary file which is removed before returning, success or not.
func (e *Engine) SynthesizeChunk(ctx context.Context, content, dir string, index int, modelName string) (string, error) {
	segmentPath := filepath.Join(dir, SegmentName(index))

	inputFile, err := writeTempInput(content)
	if err != nil {
		return "", fmt.Errorf("chunk %d: %w", index, err)
	}
	defer os.Remove(inputFile)

	modelsDir, err := filepath.Abs(e.modelsDir)
	if err != nil {
		return "", fmt.Errorf("chunk %d: resolve models dir: %w", index, err)
	}

	mkdirErr := os.MkdirAll(modelsDir, dirPerm)
	if mkdirErr != nil {
		return "", fmt.Errorf("chunk %d: create models dir: %w", index, mkdirErr)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	mounts := []docker.Mount{
		{Source: inputFile, Target: containerInput, ReadOnly: true},
		{Source: dir, Target: containerOutput},
		{Source: modelsDir, Target: containerModels},
	}

	script := fmt.Sprintf(
		"cat %s | piper --model %s --output_file %s/%s",
		containerInput, modelName, containerOutput, SegmentName(index),
	)

	e.logger.Debug("synthesizing chunk", "index", index, "model", modelName, "chars", len(content))

	runErr := e.runtime.Run(ctx, e.image, mounts, "bash", "-c", script)
	if runErr != nil {
		return "", fmt.Errorf("%w: chunk %d: %v", ErrSynthesis, index, runErr)
	}

	stat, statErr := os.Stat(segmentPath)
	if statErr != nil {
		return "", fmt.Errorf("%w: chunk %d produced no output file", ErrSynthesis, index)
	}

	if stat.Size() == 0 {
		return "", fmt.Errorf("%w: chunk %d produced an empty output file", ErrSynthesis, index)
	}

	return segmentPath, nil
}

// writeTempInput writes chunk text to a scoped temporary file.
func writeTempInput(content string) (string, error) {
	f, err := os.CreateTemp("", "piperbook-chunk-*.txt")
	if err != nil {
		return "", fmt.Errorf("create input file: %w", err)
	}

	_, writeErr := f.WriteString(content)

	closeErr := f.Close()

	if writeErr != nil {
		os.Remove(f.Name())

		return "", fmt.Errorf("write input file: %w", writeErr)
	}

	if closeErr != nil {
		os.Remove(f.Name())

		return "", fmt.Errorf("close input file: %w", closeErr)
	}

	return f.Name(), nil
}
