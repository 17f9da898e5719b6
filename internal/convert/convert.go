// Package convert orchestrates the text-to-audio conversion pipeline:
// chunk the text, synthesize each chunk in order, combine the segments,
// and track resumable progress along the way.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/piperbook/piperbook/internal/synth"
	"github.com/piperbook/piperbook/pkg/checkpoint"
	"github.com/piperbook/piperbook/pkg/config"
	"github.com/piperbook/piperbook/pkg/terminal"
	"github.com/piperbook/piperbook/pkg/textsplit"
	"github.com/piperbook/piperbook/pkg/wav"
)

// ErrInvalidInput means there is no text to convert.
var ErrInvalidInput = errors.New("no text to convert")

// progressBarWidth is the width of the live progress bar in characters.
const progressBarWidth = 30

const dirPerm = 0o750

// Synthesizer converts one text chunk into an audio segment file.
type Synthesizer interface {
	SynthesizeChunk(ctx context.Context, content, dir string, index int, modelName string) (string, error)
}

// Combiner stitches ordered segment files into one audio file.
type Combiner interface {
	Combine(ctx context.Context, segments []string, dest string) error
}

// Request describes one conversion.
type Request struct {
	Text       string
	OutputFile string
	ModelName  string
	Resume     bool
}

// Options tunes the conversion pipeline.
type Options struct {
	// ProgressOut receives the live progress line. Nil disables reporting.
	ProgressOut io.Writer

	// WorkDir overrides the derived working directory. Used by tests.
	WorkDir string

	MaxChunkSize     int
	Workers          int
	ProgressInterval time.Duration
}

// Summary describes a completed conversion.
type Summary struct {
	OutputFile    string
	TotalChunks   int
	SkippedChunks int
	OutputBytes   int64
	AudioSeconds  float64
	Elapsed       time.Duration
}

// Converter drives the conversion pipeline.
type Converter struct {
	synth    Synthesizer
	combiner Combiner
	logger   *slog.Logger
	opts     Options
}

// New creates a converter.
func New(synthesizer Synthesizer, combiner Combiner, logger *slog.Logger, opts Options) *Converter {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = config.DefaultMaxChunkSize
	}

	if opts.Workers < 1 {
		opts.Workers = 1
	}

	return &Converter{
		synth:    synthesizer,
		combiner: combiner,
		logger:   logger,
		opts:     opts,
	}
}

// Convert runs the full pipeline for one request. On synthesis or combine
// failure the checkpoint and the working directory are left in place so a
// later run with Resume can continue; on success both are removed.
func (c *Converter) Convert(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()

	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrInvalidInput
	}

	outputPath, err := filepath.Abs(req.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve output path: %v", ErrInvalidInput, err)
	}

	mkdirErr := os.MkdirAll(filepath.Dir(outputPath), dirPerm)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create output dir: %w", mkdirErr)
	}

	chunks := textsplit.Split(req.Text, textsplit.WithMaxChunkSize(c.opts.MaxChunkSize))
	if len(chunks) == 0 {
		return nil, ErrInvalidInput
	}

	workDir, err := c.workDir(req.ModelName, outputPath)
	if err != nil {
		return nil, err
	}

	workDirErr := os.MkdirAll(workDir, dirPerm)
	if workDirErr != nil {
		return nil, fmt.Errorf("create working dir: %w", workDirErr)
	}

	progressPath := checkpoint.PathFor(outputPath)

	startChunk := 0
	if req.Resume {
		startChunk = c.resumePoint(progressPath, req.ModelName, outputPath, len(chunks), workDir)
	}

	c.logger.Info("starting conversion",
		"model", req.ModelName,
		"chars", len(req.Text),
		"chunks", len(chunks),
		"start_chunk", startChunk,
		"workers", c.opts.Workers,
	)

	counter := NewCounter(startChunk)
	stopReporter := c.startReporter(counter, len(chunks))

	procErr := c.processChunks(ctx, chunks, startChunk, workDir, req.ModelName, outputPath, progressPath, counter)

	stopReporter()

	if procErr != nil {
		// Checkpoint and segments stay behind for a resumed run.
		return nil, procErr
	}

	segments := make([]string, len(chunks))
	for i := range chunks {
		segments[i] = filepath.Join(workDir, synth.SegmentName(i))
	}

	combineErr := c.combiner.Combine(ctx, segments, outputPath)
	if combineErr != nil {
		// All synthesis work is done; keep the checkpoint and segments so a
		// retried run skips straight to combining.
		return nil, combineErr
	}

	c.cleanup(progressPath, workDir)

	return c.summarize(outputPath, len(chunks), startChunk, start), nil
}

// workDir returns the durable working directory for this conversion.
// It survives failed runs so resume can reuse finished segments.
func (c *Converter) workDir(modelName, outputPath string) (string, error) {
	if c.opts.WorkDir != "" {
		return c.opts.WorkDir, nil
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}

	return filepath.Join(cacheDir, "piperbook", checkpoint.Key(modelName, outputPath)), nil
}

// resumePoint determines the first chunk index that still needs synthesis.
// A checkpoint for a different model or output path is ignored, and chunks
// whose segment files have since disappeared are not trusted.
func (c *Converter) resumePoint(progressPath, modelName, outputPath string, total int, workDir string) int {
	rec, err := checkpoint.Load(progressPath)
	if err != nil || rec == nil {
		return 0
	}

	if !rec.Matches(modelName, outputPath) {
		c.logger.Info("ignoring checkpoint for a different conversion",
			"checkpoint_model", rec.ModelName,
			"checkpoint_output", rec.OutputFile,
		)

		return 0
	}

	completed := rec.CompletedChunks
	if completed > total {
		completed = total
	}

	for i := range completed {
		stat, statErr := os.Stat(filepath.Join(workDir, synth.SegmentName(i)))
		if statErr != nil || stat.Size() == 0 {
			c.logger.Warn("checkpointed segment missing, re-synthesizing from it", "chunk", i)

			return i
		}
	}

	c.logger.Info("resuming conversion", "completed", completed, "total", total)

	return completed
}

// chunkResult reports one worker's outcome.
type chunkResult struct {
	err   error
	index int
}

// processChunks synthesizes chunks[startChunk:] through a bounded worker
// pool. The checkpoint always records the contiguous completed prefix, so
// out-of-order completions never create resume holes.
func (c *Converter) processChunks(
	ctx context.Context,
	chunks []textsplit.Chunk,
	startChunk int,
	workDir, modelName, outputPath, progressPath string,
	counter *Counter,
) error {
	total := len(chunks)
	if startChunk >= total {
		return nil
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := make(chan textsplit.Chunk)
	results := make(chan chunkResult)

	var wg sync.WaitGroup

	for range c.opts.Workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for chunk := range feed {
				_, synthErr := c.synth.SynthesizeChunk(poolCtx, chunk.Content, workDir, chunk.Index, modelName)

				select {
				case results <- chunkResult{index: chunk.Index, err: synthErr}:
				case <-poolCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(feed)

		for _, chunk := range chunks[startChunk:] {
			select {
			case feed <- chunk:
			case <-poolCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error

	completedOutOfOrder := make(map[int]bool)
	next := startChunk

	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err

				cancel()
			}

			continue
		}

		completedOutOfOrder[res.index] = true

		for completedOutOfOrder[next] {
			delete(completedOutOfOrder, next)

			next++

			counter.Increment()

			saveErr := checkpoint.Save(progressPath, next, total, modelName, outputPath)
			if saveErr != nil {
				c.logger.Warn("failed to save progress checkpoint", "error", saveErr)
			}
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("conversion interrupted: %w", ctxErr)
	}

	return firstErr
}

// startReporter launches the periodic progress line and returns a function
// that stops it and waits for it to finish.
func (c *Converter) startReporter(counter *Counter, total int) func() {
	if c.opts.ProgressOut == nil || c.opts.ProgressInterval <= 0 {
		return func() {}
	}

	// Independent context: the reporter is always stopped and joined
	// explicitly, even when the conversion context is cancelled.
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(c.opts.ProgressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				fmt.Fprint(c.opts.ProgressOut, terminal.ClearLine())

				return
			case <-ticker.C:
				line := terminal.FormatChunkProgress("Converting text to audio", counter.Value(), total, progressBarWidth)
				fmt.Fprint(c.opts.ProgressOut, "\r"+line)
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

// cleanup removes the checkpoint and the working directory after success.
func (c *Converter) cleanup(progressPath, workDir string) {
	clearErr := checkpoint.Clear(progressPath)
	if clearErr != nil {
		c.logger.Warn("failed to remove checkpoint", "error", clearErr)
	}

	removeErr := os.RemoveAll(workDir)
	if removeErr != nil {
		c.logger.Warn("failed to remove working dir", "error", removeErr)
	}
}

// summarize builds the success summary.
func (c *Converter) summarize(outputPath string, totalChunks, startChunk int, start time.Time) *Summary {
	summary := &Summary{
		OutputFile:    outputPath,
		TotalChunks:   totalChunks,
		SkippedChunks: startChunk,
		Elapsed:       time.Since(start),
	}

	stat, statErr := os.Stat(outputPath)
	if statErr == nil {
		summary.OutputBytes = stat.Size()
	}

	info, infoErr := wav.ReadInfo(outputPath)
	if infoErr == nil {
		summary.AudioSeconds = info.Duration()
	}

	return summary
}
