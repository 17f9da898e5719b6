package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piperbook/piperbook/internal/convert"
	"github.com/piperbook/piperbook/pkg/config"
)

// stubExecutor captures the request the command builds.
type stubExecutor struct {
	req     convert.Request
	opts    convert.Options
	cfg     *config.Config
	summary *convert.Summary
	err     error
	calls   int
}

func (s *stubExecutor) run(_ context.Context, cfg *config.Config, req convert.Request, opts convert.Options) (*convert.Summary, error) {
	s.calls++
	s.cfg = cfg
	s.req = req
	s.opts = opts

	if s.err != nil {
		return nil, s.err
	}

	if s.summary != nil {
		return s.summary, nil
	}

	return &convert.Summary{OutputFile: req.OutputFile, TotalChunks: 1}, nil
}

func executeConvert(t *testing.T, exec convertExecutor, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	cmd := newConvertCommandWithDeps(exec)

	var buf bytes.Buffer

	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--no-color"}, args...))

	err := cmd.Execute()

	return buf.String(), err
}

func TestConvert_RequiresInput(t *testing.T) {
	stub := &stubExecutor{}

	_, err := executeConvert(t, stub.run)
	require.Error(t, err)
	assert.Zero(t, stub.calls)
}

func TestConvert_TextAndFileAreExclusive(t *testing.T) {
	stub := &stubExecutor{}

	_, err := executeConvert(t, stub.run, "--text", "Hi.", "--file", "x.txt")
	require.Error(t, err)
	assert.Zero(t, stub.calls)
}

func TestConvert_BuildsRequestFromFlags(t *testing.T) {
	stub := &stubExecutor{}

	out, err := executeConvert(t, stub.run,
		"--text", "Hello there.",
		"--output", "story.wav",
		"--model", "voice-a",
		"--resume",
		"--workers", "3",
	)
	require.NoError(t, err)

	require.Equal(t, 1, stub.calls)
	assert.Equal(t, "Hello there.", stub.req.Text)
	assert.Equal(t, "story.wav", stub.req.OutputFile)
	assert.Equal(t, "voice-a", stub.req.ModelName)
	assert.True(t, stub.req.Resume)
	assert.Equal(t, 3, stub.opts.Workers)
	assert.Equal(t, config.DefaultMaxChunkSize, stub.opts.MaxChunkSize)

	assert.Contains(t, out, "voice-a")
	assert.Contains(t, out, "Audio saved to")
}

func TestConvert_Defaults(t *testing.T) {
	stub := &stubExecutor{}

	_, err := executeConvert(t, stub.run, "--text", "Hello there.")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultOutputFile, stub.req.OutputFile)
	assert.Equal(t, config.DefaultModel, stub.req.ModelName)
	assert.False(t, stub.req.Resume)
	assert.Equal(t, 1, stub.opts.Workers)
}

func TestConvert_ReadsInputFile(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(inputPath, []byte("Text from a file."), 0o600))

	stub := &stubExecutor{}

	_, err := executeConvert(t, stub.run, "--file", inputPath)
	require.NoError(t, err)

	assert.Equal(t, "Text from a file.", stub.req.Text)
}

func TestConvert_MissingInputFile(t *testing.T) {
	stub := &stubExecutor{}

	_, err := executeConvert(t, stub.run, "--file", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Zero(t, stub.calls)
}

func TestConvert_ExecutorFailure(t *testing.T) {
	stub := &stubExecutor{err: errors.New("synthesis blew up")}

	_, err := executeConvert(t, stub.run, "--text", "Hello.")
	require.Error(t, err)
	assert.ErrorContains(t, err, "synthesis blew up")
}

func TestConvert_InterruptHint(t *testing.T) {
	stub := &stubExecutor{err: context.Canceled}

	out, err := executeConvert(t, stub.run, "--text", "Hello.")
	require.Error(t, err)
	assert.Contains(t, out, "--resume")
}

func TestConvert_SummaryRendered(t *testing.T) {
	stub := &stubExecutor{summary: &convert.Summary{
		OutputFile:  "/tmp/story.wav",
		TotalChunks: 4,
		OutputBytes: 123456,
	}}

	out, err := executeConvert(t, stub.run, "--text", "Hello.")
	require.NoError(t, err)

	assert.Contains(t, out, "Chunks")
	assert.Contains(t, out, "4")
	assert.Contains(t, out, "Audio saved to /tmp/story.wav")
}
