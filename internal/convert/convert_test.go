package convert

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piperbook/piperbook/internal/synth"
	"github.com/piperbook/piperbook/pkg/checkpoint"
)

const fiveSentences = "One. Two. Three. Four. Five."

// fakeSynth writes a small segment file per chunk and records calls.
type fakeSynth struct {
	onCall func(index int)
	mu     sync.Mutex
	calls  []int
	failAt int
	delay  time.Duration
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{failAt: -1}
}

func (f *fakeSynth) SynthesizeChunk(ctx context.Context, _ string, dir string, index int, _ string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, index)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(index)
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if f.failAt >= 0 && index == f.failAt {
		return "", errors.New("synthesis blew up")
	}

	path := filepath.Join(dir, synth.SegmentName(index))

	if err := os.WriteFile(path, []byte("segment"), 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func (f *fakeSynth) indices() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := append([]int(nil), f.calls...)
	sort.Ints(out)

	return out
}

// fakeCombiner records the segment list and writes the destination file.
type fakeCombiner struct {
	err      error
	segments []string
}

func (f *fakeCombiner) Combine(_ context.Context, segments []string, dest string) error {
	f.segments = segments

	if f.err != nil {
		return f.err
	}

	return os.WriteFile(dest, []byte("combined"), 0o600)
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestConverter(t *testing.T, synthesizer Synthesizer, combiner Combiner, workers int) (*Converter, string) {
	t.Helper()

	workDir := filepath.Join(t.TempDir(), "work")

	converter := New(synthesizer, combiner, discard(), Options{
		MaxChunkSize: 5, // Every sentence becomes its own chunk.
		Workers:      workers,
		WorkDir:      workDir,
	})

	return converter, workDir
}

func TestConvert_Success(t *testing.T) {
	t.Parallel()

	synthesizer := newFakeSynth()
	combiner := &fakeCombiner{}
	converter, workDir := newTestConverter(t, synthesizer, combiner, 1)

	output := filepath.Join(t.TempDir(), "book.wav")

	summary, err := converter.Convert(t.Context(), Request{
		Text:       fiveSentences,
		OutputFile: output,
		ModelName:  "voice-a",
	})
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, 5, summary.TotalChunks)
	assert.Equal(t, 0, summary.SkippedChunks)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, synthesizer.indices())

	// Segments are combined strictly in index order.
	require.Len(t, combiner.segments, 5)
	for i, segment := range combiner.segments {
		assert.Equal(t, filepath.Join(workDir, synth.SegmentName(i)), segment)
	}

	// Checkpoint and working dir are gone after success.
	_, cpErr := os.Stat(checkpoint.PathFor(output))
	assert.True(t, os.IsNotExist(cpErr))

	_, wdErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(wdErr))
}

func TestConvert_EmptyText(t *testing.T) {
	t.Parallel()

	converter, _ := newTestConverter(t, newFakeSynth(), &fakeCombiner{}, 1)

	_, err := converter.Convert(t.Context(), Request{Text: "   \n ", OutputFile: filepath.Join(t.TempDir(), "o.wav")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConvert_FailureAtChunkTwoOfFive(t *testing.T) {
	t.Parallel()

	synthesizer := newFakeSynth()
	synthesizer.failAt = 2
	combiner := &fakeCombiner{}
	converter, workDir := newTestConverter(t, synthesizer, combiner, 1)

	output := filepath.Join(t.TempDir(), "book.wav")

	_, err := converter.Convert(t.Context(), Request{
		Text:       fiveSentences,
		OutputFile: output,
		ModelName:  "voice-a",
	})
	require.Error(t, err)

	// No final output, and nothing was combined.
	_, outErr := os.Stat(output)
	assert.True(t, os.IsNotExist(outErr))
	assert.Nil(t, combiner.segments)

	// Checkpoint reflects the two completed chunks and survives for resume.
	rec, loadErr := checkpoint.Load(checkpoint.PathFor(output))
	require.NoError(t, loadErr)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.CompletedChunks)
	assert.Equal(t, 5, rec.TotalChunks)

	// Finished segments survive too.
	_, segErr := os.Stat(filepath.Join(workDir, synth.SegmentName(1)))
	assert.NoError(t, segErr)
}

func TestConvert_ResumeSkipsCompletedChunks(t *testing.T) {
	t.Parallel()

	synthesizer := newFakeSynth()
	combiner := &fakeCombiner{}
	converter, workDir := newTestConverter(t, synthesizer, combiner, 1)

	output := filepath.Join(t.TempDir(), "book.wav")
	outputAbs, err := filepath.Abs(output)
	require.NoError(t, err)

	// Previous run completed chunks 0 and 1.
	require.NoError(t, os.MkdirAll(workDir, 0o750))
	for i := range 2 {
		require.NoError(t, os.WriteFile(filepath.Join(workDir, synth.SegmentName(i)), []byte("segment"), 0o600))
	}
	require.NoError(t, checkpoint.Save(checkpoint.PathFor(outputAbs), 2, 5, "voice-a", outputAbs))

	summary, err := converter.Convert(t.Context(), Request{
		Text:       fiveSentences,
		OutputFile: output,
		ModelName:  "voice-a",
		Resume:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 4}, synthesizer.indices())
	assert.Equal(t, 2, summary.SkippedChunks)
	require.Len(t, combiner.segments, 5)
}

func TestConvert_ResumeIgnoresMismatchedCheckpoint(t *testing.T) {
	t.Parallel()

	synthesizer := newFakeSynth()
	converter, workDir := newTestConverter(t, synthesizer, &fakeCombiner{}, 1)

	output := filepath.Join(t.TempDir(), "book.wav")
	outputAbs, err := filepath.Abs(output)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(workDir, 0o750))
	require.NoError(t, checkpoint.Save(checkpoint.PathFor(outputAbs), 2, 5, "other-voice", outputAbs))

	_, err = converter.Convert(t.Context(), Request{
		Text:       fiveSentences,
		OutputFile: output,
		ModelName:  "voice-a",
		Resume:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, synthesizer.indices())
}

func TestConvert_ResumeWithoutCheckpointStartsFresh(t *testing.T) {
	t.Parallel()

	synthesizer := newFakeSynth()
	converter, _ := newTestConverter(t, synthesizer, &fakeCombiner{}, 1)

	_, err := converter.Convert(t.Context(), Request{
		Text:       fiveSentences,
		OutputFile: filepath.Join(t.TempDir(), "book.wav"),
		ModelName:  "voice-a",
		Resume:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, synthesizer.indices())
}

func TestConvert_ResumeResynthesizesMissingSegments(t *testing.T) {
	t.Parallel()

	synthesizer := newFakeSynth()
	converter, workDir := newTestConverter(t, synthesizer, &fakeCombiner{}, 1)

	output := filepath.Join(t.TempDir(), "book.wav")
	outputAbs, err := filepath.Abs(output)
	require.NoError(t, err)

	// The checkpoint claims three chunks, but only chunk 0's segment survived.
	require.NoError(t, os.MkdirAll(workDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, synth.SegmentName(0)), []byte("segment"), 0o600))
	require.NoError(t, checkpoint.Save(checkpoint.PathFor(outputAbs), 3, 5, "voice-a", outputAbs))

	_, err = converter.Convert(t.Context(), Request{
		Text:       fiveSentences,
		OutputFile: output,
		ModelName:  "voice-a",
		Resume:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, synthesizer.indices())
}

func TestConvert_CombineFailureKeepsCheckpoint(t *testing.T) {
	t.Parallel()

	synthesizer := newFakeSynth()
	combiner := &fakeCombiner{err: errors.New("combine exploded")}
	converter, workDir := newTestConverter(t, synthesizer, combiner, 1)

	output := filepath.Join(t.TempDir(), "book.wav")

	_, err := converter.Convert(t.Context(), Request{
		Text:       fiveSentences,
		OutputFile: output,
		ModelName:  "voice-a",
	})
	require.Error(t, err)

	rec, loadErr := checkpoint.Load(checkpoint.PathFor(output))
	require.NoError(t, loadErr)
	require.NotNil(t, rec)
	assert.Equal(t, 5, rec.CompletedChunks)

	_, wdErr := os.Stat(workDir)
	assert.NoError(t, wdErr, "working dir survives a combine failure")
}

func TestConvert_ParallelWorkersPreserveOrder(t *testing.T) {
	t.Parallel()

	synthesizer := newFakeSynth()
	synthesizer.delay = time.Millisecond
	combiner := &fakeCombiner{}
	converter, workDir := newTestConverter(t, synthesizer, combiner, 4)

	output := filepath.Join(t.TempDir(), "book.wav")

	summary, err := converter.Convert(t.Context(), Request{
		Text:       fiveSentences,
		OutputFile: output,
		ModelName:  "voice-a",
	})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.TotalChunks)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, synthesizer.indices())

	require.Len(t, combiner.segments, 5)
	for i, segment := range combiner.segments {
		assert.Equal(t, filepath.Join(workDir, synth.SegmentName(i)), segment)
	}
}

func TestConvert_CancellationPreservesCheckpoint(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	synthesizer := newFakeSynth()
	synthesizer.onCall = func(index int) {
		if index == 2 {
			cancel() // Interrupt arrives while chunk 2 is in flight.
		}
	}

	converter, _ := newTestConverter(t, synthesizer, &fakeCombiner{}, 1)

	output := filepath.Join(t.TempDir(), "book.wav")

	_, err := converter.Convert(ctx, Request{
		Text:       fiveSentences,
		OutputFile: output,
		ModelName:  "voice-a",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The two chunks finished before the interrupt are checkpointed.
	rec, loadErr := checkpoint.Load(checkpoint.PathFor(output))
	require.NoError(t, loadErr)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.CompletedChunks)

	_, outErr := os.Stat(output)
	assert.True(t, os.IsNotExist(outErr))
}

func TestConvert_ReporterEmitsProgress(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	synthesizer := newFakeSynth()
	synthesizer.delay = 20 * time.Millisecond

	converter := New(synthesizer, &fakeCombiner{}, discard(), Options{
		MaxChunkSize:     5,
		Workers:          1,
		WorkDir:          filepath.Join(t.TempDir(), "work"),
		ProgressOut:      &buf,
		ProgressInterval: time.Millisecond,
	})

	_, err := converter.Convert(t.Context(), Request{
		Text:       fiveSentences,
		OutputFile: filepath.Join(t.TempDir(), "book.wav"),
		ModelName:  "voice-a",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Converting text to audio")
	assert.Contains(t, out, "/5)")
}
