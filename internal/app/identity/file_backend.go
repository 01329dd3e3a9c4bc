package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend keeps the credential document in a local JSON file.
type FileBackend struct {
	Path string
}

// NewFileBackend returns a FileBackend for path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

// Load reads the document; a missing file is an empty store.
func (b *FileBackend) Load(_ context.Context) (Records, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return make(Records), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.Path, err)
	}

	return decodeRecords(data)
}

// Save rewrites the whole file through a temporary file and rename.
func (b *FileBackend) Save(_ context.Context, records Records) error {
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), b.Path); err != nil {
		return fmt.Errorf("replace %s: %w", b.Path, err)
	}

	return nil
}

func encodeRecords(records Records) ([]byte, error) {
	if records == nil {
		records = make(Records)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	return data, nil
}

func decodeRecords(data []byte) (Records, error) {
	records := make(Records)
	if len(data) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return records, nil
}
