// Package combine stitches per-chunk WAV segments into the final audio file.
package combine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/piperbook/piperbook/internal/docker"
	"github.com/piperbook/piperbook/pkg/wav"
)

// Sentinel errors for audio combination.
var (
	// ErrNoValidSegments means every input segment was missing or empty.
	ErrNoValidSegments = errors.New("no valid audio segments to combine")

	// ErrCombine means both the container-based merge and the manual
	// fallback failed.
	ErrCombine = errors.New("failed to combine audio segments")
)

// Container-side paths for the ffmpeg invocation.
const (
	containerAudio  = "/audio"
	containerOutput = "/output"
	fileListName    = "file_list.txt"
)

const (
	dirPerm      = 0o750
	filePerm     = 0o600
	tmpExtension = ".tmp"
)

// Runtime is the subset of the container runtime the combiner needs.
type Runtime interface {
	Run(ctx context.Context, image string, mounts []docker.Mount, cmd ...string) error
}

// Combiner concatenates audio segments, preferring a containerized ffmpeg
// concat and falling back to manual header-patching concatenation.
type Combiner struct {
	runtime     Runtime
	logger      *slog.Logger
	ffmpegImage string
}

// New creates a combiner. A nil runtime skips the ffmpeg attempt entirely.
func New(runtime Runtime, logger *slog.Logger, ffmpegImage string) *Combiner {
	return &Combiner{
		runtime:     runtime,
		logger:      logger,
		ffmpegImage: ffmpegImage,
	}
}

// Combine writes the ordered concatenation of segments to dest.
// Missing or empty segments are skipped with a warning; if none remain the
// combination fails with ErrNoValidSegments.
func (c *Combiner) Combine(ctx context.Context, segments []string, dest string) error {
	valid := c.filterSegments(segments)
	if len(valid) == 0 {
		return ErrNoValidSegments
	}

	if c.runtime != nil {
		ffmpegErr := c.ffmpegConcat(ctx, valid, dest)
		if ffmpegErr == nil {
			c.logger.Info("combined segments with ffmpeg", "segments", len(valid), "output", dest)

			return nil
		}

		c.logger.Warn("ffmpeg concat failed, falling back to manual concatenation", "error", ffmpegErr)
	}

	concatErr := wav.Concat(valid, dest)
	if concatErr != nil {
		return fmt.Errorf("%w: %v", ErrCombine, concatErr)
	}

	c.logger.Info("combined segments with manual concatenation", "segments", len(valid), "output", dest)

	return nil
}

// filterSegments drops segments that do not exist or are empty.
func (c *Combiner) filterSegments(segments []string) []string {
	valid := make([]string, 0, len(segments))

	for _, segment := range segments {
		stat, err := os.Stat(segment)
		if err != nil || stat.Size() == 0 {
			c.logger.Warn("skipping missing or empty audio segment", "segment", segment)

			continue
		}

		valid = append(valid, segment)
	}

	return valid
}

// ffmpegConcat runs ffmpeg's concat demuxer inside a container. Segments are
// copied into a scratch directory under stable names so the generated file
// list stays valid regardless of where the segments live.
func (c *Combiner) ffmpegConcat(ctx context.Context, segments []string, dest string) error {
	scratch, err := os.MkdirTemp("", "piperbook-concat-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	var list []byte

	for i, segment := range segments {
		name := fmt.Sprintf("chunk_%d.wav", i)

		copyErr := copyFile(segment, filepath.Join(scratch, name))
		if copyErr != nil {
			return copyErr
		}

		list = append(list, fmt.Sprintf("file '%s/%s'\n", containerAudio, name)...)
	}

	writeErr := os.WriteFile(filepath.Join(scratch, fileListName), list, filePerm)
	if writeErr != nil {
		return fmt.Errorf("write file list: %w", writeErr)
	}

	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	destDir := filepath.Dir(destAbs)

	mkdirErr := os.MkdirAll(destDir, dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create output dir: %w", mkdirErr)
	}

	mounts := []docker.Mount{
		{Source: scratch, Target: containerAudio, ReadOnly: true},
		{Source: destDir, Target: containerOutput},
	}

	// ffmpeg writes next to the destination and the result is renamed into
	// place, so a merge that dies mid-write never leaves a partial output.
	tmpName := filepath.Base(destAbs) + tmpExtension

	runErr := c.runtime.Run(ctx, c.ffmpegImage, mounts,
		"-f", "concat",
		"-safe", "0",
		"-i", containerAudio+"/"+fileListName,
		"-c", "copy",
		"-y",
		containerOutput+"/"+tmpName,
	)
	if runErr != nil {
		os.Remove(filepath.Join(destDir, tmpName))

		return fmt.Errorf("ffmpeg concat: %w", runErr)
	}

	renameErr := os.Rename(filepath.Join(destDir, tmpName), destAbs)
	if renameErr != nil {
		return fmt.Errorf("finalize output: %w", renameErr)
	}

	return nil
}

// copyFile copies src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	_, copyErr := io.Copy(out, in)

	closeErr := out.Close()

	if copyErr != nil {
		return fmt.Errorf("copy %s: %w", src, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", dst, closeErr)
	}

	return nil
}
