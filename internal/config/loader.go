package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format represents supported configuration file formats.
type Format string

// Supported configuration file formats. JSON is canonical: the Config Store
// always writes it back regardless of the format a config was loaded from
// (routing-substrate spec §3, §6).
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// UnsupportedFormatError is returned when the config file has an unsupported extension.
type UnsupportedFormatError struct {
	Extension string
	Path      string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported config format %q for file %s (supported: .yaml, .yml, .toml, .json)", e.Extension, e.Path)
}

// bytesReader wraps a byte slice as an io.Reader; used by the watcher to
// re-parse already-read file content without a second disk read.
func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// formatForPath returns the detected Format for path, defaulting to JSON
// when the extension is unrecognized (the watcher already knows the file
// exists; a format error here would just drop a valid reload).
func formatForPath(path string) Format {
	format, err := detectFormat(path)
	if err != nil {
		return FormatJSON
	}
	return format
}

// detectFormat determines the config format from the file extension.
func detectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json", "":
		return FormatJSON, nil
	default:
		return "", &UnsupportedFormatError{Extension: ext, Path: path}
	}
}

// Load reads and parses a configuration file from the given path.
// The format (YAML, TOML or JSON) is detected from the file extension; a
// file with no extension is read as JSON.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}

	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", cerr)
		}
	}()

	return loadFromReaderWithFormat(file, format)
}

// LoadFromReader reads and parses YAML configuration from an io.Reader.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
//
// Deprecated: Use Load with a file path for format detection, or LoadFromReaderWithFormat.
func LoadFromReader(r io.Reader) (*Config, error) {
	return loadFromReaderWithFormat(r, FormatYAML)
}

// LoadFromReaderWithFormat reads and parses configuration from an io.Reader with explicit format.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func LoadFromReaderWithFormat(r io.Reader, format Format) (*Config, error) {
	return loadFromReaderWithFormat(r, format)
}

// loadFromReaderWithFormat is the internal implementation for reading config with explicit format.
func loadFromReaderWithFormat(r io.Reader, format Format) (*Config, error) {
	// Read entire content
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(content))

	// Parse based on format
	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
		cfg.Extra = extractUnknownFields([]byte(expanded))
	default:
		return nil, fmt.Errorf("internal error: unknown format %s", format)
	}

	return &cfg, nil
}

// knownTopLevelJSONKeys mirrors the json struct tags on Config, used to
// separate operator-supplied fields the loader understands from unknown
// fields that must round-trip untouched (routing-substrate spec §3).
var knownTopLevelJSONKeys = map[string]bool{
	"routerGroups":         true,
	"CUSTOM_ROUTER_PATH":   true,
	"APIKEY":               true,
	"HOST":                 true,
	"PROXY_URL":            true,
	"PORT":                 true,
	"API_TIMEOUT_MS":       true,
	"LOG":                  true,
	"NON_INTERACTIVE_MODE": true,
	"Providers":            true,
	"Router":               true,
	"routing":              true,
	"logging":              true,
	"health":               true,
	"server":               true,
	"cache":                true,
	"validation":           true,
}

// extractUnknownFields returns the top-level JSON object members that
// Config does not declare, so they can be preserved through a
// load-validate-save round trip instead of silently dropped.
func extractUnknownFields(raw []byte) map[string]any {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return map[string]any{}
	}

	extra := make(map[string]any, len(all))
	for k, v := range all {
		if knownTopLevelJSONKeys[k] {
			continue
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err == nil {
			extra[k] = decoded
		}
	}
	return extra
}
