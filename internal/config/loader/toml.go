package loader

import (
	"errors"
	"io"

	"github.com/pelletier/go-toml/v2"
)

// TOMLLoader parses TOML config files.
type TOMLLoader struct {
	fs   ReadFileFS
	path string
}

// NewTOMLLoader reads path from the OS file system.
func NewTOMLLoader(path string) *TOMLLoader {
	return NewTOMLLoaderWithFS(OSFS{}, path)
}

// NewTOMLLoaderWithFS reads path from fsys.
func NewTOMLLoaderWithFS(fsys ReadFileFS, path string) *TOMLLoader {
	return &TOMLLoader{fs: fsys, path: path}
}

// Load implements Loader.
func (l *TOMLLoader) Load() (map[string]any, error) {
	return l.LoadFrom(l.path)
}

// LoadFrom parses the file at path.
func (l *TOMLLoader) LoadFrom(path string) (map[string]any, error) {
	return decodeFile(l.fs, path, parseTOML)
}

// LoadFromReader parses TOML read from r.
func (l *TOMLLoader) LoadFromReader(r io.Reader) (map[string]any, error) {
	return decodeReader(r, parseTOML)
}

func parseTOML(source string, data []byte) (map[string]any, error) {
	var settings map[string]any
	if err := toml.Unmarshal(data, &settings); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return nil, pe
	}
	return settings, nil
}
