// Package loader reads configuration sources into nested settings maps.
//
// File sources are TOML or YAML, chosen by extension. Environment
// variables with the LOADWIRE_ prefix form a separate source. Sources are
// combined with DeepMerge; later sources win.
package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnknownFormat indicates a config file with an unsupported extension.
var ErrUnknownFormat = errors.New("unknown config format")

// Loader is a source of settings.
type Loader interface {
	// Load returns nil, nil when the source does not exist.
	Load() (map[string]any, error)
}

// FileLoader is a Loader that parses one file format.
type FileLoader interface {
	Loader
	LoadFrom(path string) (map[string]any, error)
	LoadFromReader(r io.Reader) (map[string]any, error)
}

// ReadFileFS reads whole files. os.ReadFile satisfies it through OSFS, and
// tests substitute in-memory maps.
type ReadFileFS interface {
	ReadFile(path string) ([]byte, error)
}

// OSFS reads from the real file system.
type OSFS struct{}

// ReadFile implements ReadFileFS.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ForPath returns the file loader for path's extension.
func ForPath(path string) (FileLoader, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		return NewTOMLLoader(path), nil
	case ".yaml", ".yml":
		return NewYAMLLoader(path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
}

// readSource reads path, reporting a missing file as nil data.
func readSource(fsys ReadFileFS, path string) ([]byte, error) {
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return data, nil
}

// decodeFile is the shared body of the file loaders' LoadFrom.
func decodeFile(fsys ReadFileFS, path string, parse func(string, []byte) (map[string]any, error)) (map[string]any, error) {
	data, err := readSource(fsys, path)
	if err != nil || data == nil {
		return nil, err
	}
	return parse(path, data)
}

// decodeReader is the shared body of the file loaders' LoadFromReader.
func decodeReader(r io.Reader, parse func(string, []byte) (map[string]any, error)) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse("<reader>", data)
}

// ParseError locates a syntax error in a config source.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DeepMerge copies src into dst and returns dst. Nested sections present
// in both are merged key by key; any other value in src replaces dst's.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				dst[k] = DeepMerge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
