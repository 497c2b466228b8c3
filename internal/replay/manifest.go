package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest describes a finished run and is written next to its outputs.
type Manifest struct {
	RunID    string       `yaml:"run_id"`
	Started  time.Time    `yaml:"started"`
	Finished time.Time    `yaml:"finished"`
	Version  string       `yaml:"version"`
	Symbols  []string     `yaml:"symbols"`
	Levels   int          `yaml:"levels"`
	Capacity int          `yaml:"capacity"`
	Sinks    []string     `yaml:"sinks"`
	Files    []FileResult `yaml:"files"`
}

// WriteManifest writes m as YAML to path, replacing any previous manifest.
func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}
