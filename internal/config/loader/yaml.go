package loader

import (
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLLoader parses YAML config files.
type YAMLLoader struct {
	fs   ReadFileFS
	path string
}

// NewYAMLLoader reads path from the OS file system.
func NewYAMLLoader(path string) *YAMLLoader {
	return NewYAMLLoaderWithFS(OSFS{}, path)
}

// NewYAMLLoaderWithFS reads path from fsys.
func NewYAMLLoaderWithFS(fsys ReadFileFS, path string) *YAMLLoader {
	return &YAMLLoader{fs: fsys, path: path}
}

// Load implements Loader.
func (l *YAMLLoader) Load() (map[string]any, error) {
	return l.LoadFrom(l.path)
}

// LoadFrom parses the file at path.
func (l *YAMLLoader) LoadFrom(path string) (map[string]any, error) {
	return decodeFile(l.fs, path, parseYAML)
}

// LoadFromReader parses YAML read from r.
func (l *YAMLLoader) LoadFromReader(r io.Reader) (map[string]any, error) {
	return decodeReader(r, parseYAML)
}

func parseYAML(source string, data []byte) (map[string]any, error) {
	var settings map[string]any
	if err := yaml.Unmarshal(data, &settings); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var te *yaml.TypeError
		if errors.As(err, &te) && len(te.Errors) > 0 {
			pe.Message = te.Errors[0]
		}
		return nil, pe
	}
	return settings, nil
}
