// Package content ships the default treasure map.
package content

import (
	"bytes"
	_ "embed"
	"fmt"

	"treasure-map/server/internal/quest"
)

//go:embed quests.yaml
var defaultRegistry []byte

// DefaultRegistry parses the embedded treasure map.
func DefaultRegistry() (*quest.Registry, error) {
	reg, err := quest.LoadRegistry(bytes.NewReader(defaultRegistry))
	if err != nil {
		return nil, fmt.Errorf("embedded quests.yaml: %w", err)
	}
	return reg, nil
}

// Load reads the registry at path, or the embedded default when path is
// empty.
func Load(path string) (*quest.Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	return quest.LoadRegistryFile(path)
}
