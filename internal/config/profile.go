package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// profile is the YAML layout of a detection profile. Decoding writes through
// the pointers, so keys absent from the file keep their current values.
type profile struct {
	CFAR *CFARConfig `yaml:"cfar"`
	Land *LandConfig `yaml:"land"`
}

// ApplyProfile overlays the detection profile at path onto c.
func (c *Config) ApplyProfile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open profile %q: %w", path, err)
	}
	defer f.Close()

	if err := c.decodeProfile(f); err != nil {
		return fmt.Errorf("failed to parse profile %q: %w", path, err)
	}
	return nil
}

// decodeProfile reads a profile, rejecting unknown keys. An empty document
// changes nothing.
func (c *Config) decodeProfile(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&profile{CFAR: &c.CFAR, Land: &c.Land})
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
