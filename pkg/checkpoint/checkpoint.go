// Package checkpoint provides resumable progress persistence for a conversion.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File permissions for checkpoint records.
const filePerm = 0o600

// progressSuffix is appended to the output file's stem to form the
// checkpoint file name, e.g. output.wav -> output_progress.json.
const progressSuffix = "_progress.json"

// keyLen is the length of a working-directory key in hex characters.
const keyLen = 16

// Record is one durable progress snapshot. The field names are part of the
// on-disk format and must not change.
type Record struct {
	ModelName       string  `json:"model_name"`
	OutputFile      string  `json:"output_file"`
	Timestamp       float64 `json:"timestamp"`
	CompletedChunks int     `json:"completed_chunks"`
	TotalChunks     int     `json:"total_chunks"`
}

// Matches reports whether the record belongs to the given conversion
// request. A checkpoint is only valid for resume when both the voice model
// and the output path match exactly.
func (r *Record) Matches(modelName, outputFile string) bool {
	return r.ModelName == modelName && r.OutputFile == outputFile
}

// PathFor returns the checkpoint file path co-located with outputFile.
func PathFor(outputFile string) string {
	dir := filepath.Dir(outputFile)
	base := filepath.Base(outputFile)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	return filepath.Join(dir, stem+progressSuffix)
}

// Key derives a stable working-directory name from the conversion identity.
func Key(modelName, outputFile string) string {
	h := sha256.Sum256([]byte(modelName + "|" + outputFile))

	return hex.EncodeToString(h[:])[:keyLen]
}

// Save writes a progress record, overwriting any previous one. The write is
// whole-file; the record is advisory, so no stronger atomicity is needed.
func Save(path string, completed, total int, modelName, outputFile string) error {
	rec := Record{
		CompletedChunks: completed,
		TotalChunks:     total,
		ModelName:       modelName,
		OutputFile:      outputFile,
		Timestamp:       float64(time.Now().UnixNano()) / float64(time.Second),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	writeErr := os.WriteFile(path, data, filePerm)
	if writeErr != nil {
		return fmt.Errorf("write checkpoint: %w", writeErr)
	}

	return nil
}

// Load reads the record at path. An absent or unparseable file yields
// (nil, nil): a broken checkpoint means a fresh start, not a failure.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var rec Record

	unmarshalErr := json.Unmarshal(data, &rec)
	if unmarshalErr != nil {
		return nil, nil
	}

	return &rec, nil
}

// Clear removes the checkpoint file. A missing file is not an error.
func Clear(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}

	return nil
}
