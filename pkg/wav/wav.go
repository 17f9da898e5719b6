// Package wav reads canonical 44-byte WAV headers and concatenates
// segments that share one format into a single file.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// HeaderSize is the size of a canonical PCM WAV header.
const HeaderSize = 44

// Header field offsets and related constants.
const (
	riffSizeOffset = 4  // Overall RIFF chunk size, little-endian uint32.
	dataSizeOffset = 40 // Data chunk payload size, little-endian uint32.
	riffSizeBias   = 36 // Header bytes counted by the RIFF size field.

	sampleRateOffset    = 24
	channelsOffset      = 22
	bitsPerSampleOffset = 34
)

// copyBlockSize bounds memory use while streaming segment payloads.
const copyBlockSize = 1 << 20 // 1 MiB.

const (
	tmpExtension = ".tmp"
	filePerm     = 0o600
)

// Sentinel errors for header validation.
var (
	ErrShortFile  = errors.New("file shorter than WAV header")
	ErrNotRIFF    = errors.New("missing RIFF header")
	ErrNotWAVE    = errors.New("missing WAVE format")
	ErrNoSegments = errors.New("no segments to concatenate")
)

// Info describes the format and payload of a WAV file.
type Info struct {
	SampleRate    uint32
	DataSize      uint32
	Channels      uint16
	BitsPerSample uint16
}

// Duration returns the playable length in seconds.
func (i Info) Duration() float64 {
	bytesPerSecond := uint64(i.SampleRate) * uint64(i.Channels) * uint64(i.BitsPerSample) / 8
	if bytesPerSecond == 0 {
		return 0
	}

	return float64(i.DataSize) / float64(bytesPerSecond)
}

// validateHeader checks the RIFF/WAVE magic of a 44-byte header.
func validateHeader(header []byte) error {
	if len(header) < HeaderSize {
		return fmt.Errorf("%w: got %d bytes", ErrShortFile, len(header))
	}

	if string(header[0:4]) != "RIFF" {
		return ErrNotRIFF
	}

	if string(header[8:12]) != "WAVE" {
		return ErrNotWAVE
	}

	return nil
}

// readHeader reads and validates the first HeaderSize bytes of path.
func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	header := make([]byte, HeaderSize)

	_, readErr := io.ReadFull(f, header)
	if readErr != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, ErrShortFile)
	}

	validateErr := validateHeader(header)
	if validateErr != nil {
		return nil, fmt.Errorf("%s: %w", path, validateErr)
	}

	return header, nil
}

// ReadInfo extracts format metadata from the header of a WAV file.
func ReadInfo(path string) (Info, error) {
	header, err := readHeader(path)
	if err != nil {
		return Info{}, err
	}

	return Info{
		SampleRate:    binary.LittleEndian.Uint32(header[sampleRateOffset : sampleRateOffset+4]),
		DataSize:      binary.LittleEndian.Uint32(header[dataSizeOffset : dataSizeOffset+4]),
		Channels:      binary.LittleEndian.Uint16(header[channelsOffset : channelsOffset+2]),
		BitsPerSample: binary.LittleEndian.Uint16(header[bitsPerSampleOffset : bitsPerSampleOffset+2]),
	}, nil
}

// Concat writes the ordered concatenation of the segments' payloads to dest,
// under the first segment's header with both size fields patched to the
// combined total. All segments must share one format; only the first header
// is inspected. The destination is written to a temporary file and renamed
// into place, so a failure never leaves a partial dest behind.
func Concat(segments []string, dest string) error {
	if len(segments) == 0 {
		return ErrNoSegments
	}

	header, err := readHeader(segments[0])
	if err != nil {
		return err
	}

	var totalPayload uint64

	for _, segment := range segments {
		stat, statErr := os.Stat(segment)
		if statErr != nil {
			return fmt.Errorf("stat segment: %w", statErr)
		}

		if stat.Size() < HeaderSize {
			return fmt.Errorf("%s: %w", segment, ErrShortFile)
		}

		totalPayload += uint64(stat.Size()) - HeaderSize
	}

	binary.LittleEndian.PutUint32(header[riffSizeOffset:riffSizeOffset+4], uint32(totalPayload+riffSizeBias))
	binary.LittleEndian.PutUint32(header[dataSizeOffset:dataSizeOffset+4], uint32(totalPayload))

	tmpPath := dest + tmpExtension

	writeErr := writeConcat(tmpPath, header, segments)
	if writeErr != nil {
		os.Remove(tmpPath)

		return writeErr
	}

	renameErr := os.Rename(tmpPath, dest)
	if renameErr != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("finalize output: %w", renameErr)
	}

	return nil
}

// writeConcat writes the patched header followed by each segment's payload.
func writeConcat(path string, header []byte, segments []string) error {
	mkdirErr := os.MkdirAll(filepath.Dir(path), 0o750)
	if mkdirErr != nil {
		return fmt.Errorf("create output dir: %w", mkdirErr)
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	_, headerErr := out.Write(header)
	if headerErr != nil {
		out.Close()

		return fmt.Errorf("write header: %w", headerErr)
	}

	buf := make([]byte, copyBlockSize)

	for _, segment := range segments {
		copyErr := appendPayload(out, segment, buf)
		if copyErr != nil {
			out.Close()

			return copyErr
		}
	}

	closeErr := out.Close()
	if closeErr != nil {
		return fmt.Errorf("close output: %w", closeErr)
	}

	return nil
}

// appendPayload streams one segment's sample data (header stripped) into out.
func appendPayload(out io.Writer, segment string, buf []byte) error {
	in, err := os.Open(segment)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	defer in.Close()

	_, seekErr := in.Seek(HeaderSize, io.SeekStart)
	if seekErr != nil {
		return fmt.Errorf("seek past header of %s: %w", segment, seekErr)
	}

	_, copyErr := io.CopyBuffer(out, in, buf)
	if copyErr != nil {
		return fmt.Errorf("copy payload of %s: %w", segment, copyErr)
	}

	return nil
}
