package gallery

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facelabel/internal/types"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownFormat is returned for gallery files with an unsupported extension.
var ErrUnknownFormat = errors.New("unknown gallery format")

// Format identifies a gallery file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatGob  Format = "gob"
)

// FormatOf derives the encoding from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".gob":
		return FormatGob, nil
	}
	return "", fmt.Errorf("%w: %q (use .json, .yaml or .gob)", ErrUnknownFormat, filepath.Ext(path))
}

// LoadFile reads and validates a gallery file.
func LoadFile(path string) (*Gallery, error) {
	entries, err := ReadEntries(path)
	if err != nil {
		return nil, err
	}
	g, err := New(entries)
	if err != nil {
		return nil, fmt.Errorf("gallery %s: %w", path, err)
	}
	return g, nil
}

// ReadEntries decodes a gallery file without validating it.
func ReadEntries(path string) ([]types.GalleryEntry, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery: %w", err)
	}
	return Decode(format, data)
}

// Decode parses entries from raw bytes in the given format.
func Decode(format Format, data []byte) ([]types.GalleryEntry, error) {
	var entries []types.GalleryEntry
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &entries)
	case FormatYAML:
		err = yaml.Unmarshal(data, &entries)
	case FormatGob:
		err = gob.NewDecoder(bytes.NewReader(data)).Decode(&entries)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s gallery: %w", format, err)
	}
	return entries, nil
}

// Encode serializes entries in the given format.
func Encode(format Format, entries []types.GalleryEntry) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(entries, "", "  ")
	case FormatYAML:
		return yaml.Marshal(entries)
	case FormatGob:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// WriteFile atomically replaces the gallery file with entries.
func WriteFile(path string, entries []types.GalleryEntry) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := Encode(format, entries)
	if err != nil {
		return fmt.Errorf("failed to encode gallery: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".gallery-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
