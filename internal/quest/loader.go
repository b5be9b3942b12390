package quest

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type registryDocument struct {
	Rewards []Reward `yaml:"rewards"`
	Quests  []Quest  `yaml:"quests"`
}

// LoadRegistry reads a YAML registry document with top-level "rewards" and
// "quests" lists. Unknown fields are rejected.
func LoadRegistry(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc registryDocument
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, malformed("empty registry document")
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedRegistry, err)
	}
	return NewRegistry(doc.Quests, doc.Rewards)
}

// LoadRegistryFile reads a registry from a YAML file.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read quest registry: %w", err)
	}
	reg, err := LoadRegistry(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}
