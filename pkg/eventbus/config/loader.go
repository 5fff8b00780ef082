package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// unmarshalFunc decodes raw file bytes into a value.
type unmarshalFunc func([]byte, any) error

// formats maps file extensions to their decoders. A bus config file is one
// document with nested sections (scheduler, workers, ...) reached via Sub.
var formats = map[string]unmarshalFunc{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".json": json.Unmarshal,
}

// FromFile loads a bus configuration file, detecting the format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	unmarshal, ok := formats[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Config{}, fmt.Errorf("unsupported config file extension: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parse(data, unmarshal)
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	return parse(data, yaml.Unmarshal)
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	return parse(data, json.Unmarshal)
}

func parse(data []byte, unmarshal unmarshalFunc) (Config, error) {
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return New(m), nil
}
