package loader

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvLoader reads LOADWIRE_SECTION_KEY style variables into a settings map.
type EnvLoader struct {
	prefix  string
	aliases map[string]string // variable name -> dotted path
	environ func() []string
}

// NewEnvLoader creates a loader for variables starting with prefix, which
// should include its trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		aliases: defaultAliases(),
		environ: os.Environ,
	}
}

// defaultAliases lists short names for settings whose section would
// otherwise have to be spelled out.
func defaultAliases() map[string]string {
	return map[string]string{
		"LOADWIRE_MAX_BUFFER_SIZE":  "loader.max_buffer_size",
		"LOADWIRE_CONSISTENT_CLOCK": "loader.consistent_clock",
		"LOADWIRE_RECOVER_PANICS":   "loader.recover_panics",
		"LOADWIRE_NETLOG":           "netlog.enabled",
	}
}

// Load returns the settings found in the environment. Empty values are
// kept as empty strings.
func (l *EnvLoader) Load() (map[string]any, error) {
	settings := make(map[string]any)
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, aliased := l.aliases[name]
		if !aliased {
			path = l.envToPath(name)
		}
		setByPath(settings, path, parseValue(value))
	}
	return settings, nil
}

// envToPath converts LOADWIRE_NETLOG_PATH to netlog.path.
// The first segment is the section; the rest is the snake_case key.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.ToLower(strings.TrimPrefix(env, l.prefix))
	section, key, ok := strings.Cut(name, "_")
	if !ok {
		return section
	}
	return section + "." + key
}

// parseValue guesses the type of an environment value: bool words,
// integers, decimals, durations, then JSON arrays and objects. Anything
// else stays a string.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "":
		return s
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if json.Unmarshal([]byte(s), &v) == nil {
			return v
		}
	}
	return s
}

// setByPath stores value under a dotted path, creating sections as needed.
// A scalar in the way of a section is replaced.
func setByPath(settings map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	m := settings
	for _, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[k] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = value
}
