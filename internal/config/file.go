package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the user-authored scenarios file.
type File struct {
	Defaults  *FileDefaults  `yaml:"defaults"`
	Scenarios []FileScenario `yaml:"scenarios"`
}

type FileDefaults struct {
	ConnectionString string   `yaml:"connection_string"`
	Queues           []string `yaml:"queues"`
	Topics           []string `yaml:"topics"`
}

type FileScenario struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	ConnectionString string   `yaml:"connection_string"`
	Queues           []string `yaml:"queues"`
	Topics           []string `yaml:"topics"`
}

// Parse decodes a scenarios file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	data = normalizeInput(data)
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	return &f, nil
}

// Load reads and builds path. An empty path yields the built-in set.
func Load(path string, lookup LookupFunc) (Set, ValidationResult, error) {
	if path == "" {
		set, res := Build(nil, lookup)
		return set, res, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, ValidationResult{}, err
	}
	f, err := Parse(data)
	if err != nil {
		return Set{}, ValidationResult{}, err
	}
	set, res := Build(f, lookup)
	return set, res, nil
}
