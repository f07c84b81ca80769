package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registry   = make(map[string]ColumnMap)
	registryMu sync.RWMutex
)

// Register adds a column map version to the registry.
// Panics if the map is invalid or the version is already registered.
func Register(cm ColumnMap) {
	if err := cm.Validate(); err != nil {
		panic(fmt.Sprintf("register column map %s: %v", cm.Version, err))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[cm.Version]; exists {
		panic(fmt.Sprintf("column map already registered: %s", cm.Version))
	}
	registry[cm.Version] = cm
}

// Get returns a column map by version.
// Returns false if not found.
func Get(version string) (ColumnMap, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	cm, ok := registry[version]
	return cm, ok
}

// Versions returns all registered versions, sorted.
func Versions() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	versions := make([]string, 0, len(registry))
	for v := range registry {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// ResolveColumnMap loads the map file at path when it is set, and otherwise
// looks version up in the registry.
func ResolveColumnMap(path, version string) (ColumnMap, error) {
	if path != "" {
		return LoadColumnMapFile(path)
	}
	cm, ok := Get(version)
	if !ok {
		return ColumnMap{}, fmt.Errorf("%w: unknown version %q (registered: %s)",
			ErrInvalidColumnMap, version, strings.Join(Versions(), ", "))
	}
	return cm, nil
}
