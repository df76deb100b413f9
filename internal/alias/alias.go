package alias

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrDuplicateAlias indicates two specs share the same symbolic name
	ErrDuplicateAlias = errors.New("duplicate alias")
	// ErrAliasPathMissing indicates an alias target is not an existing directory
	ErrAliasPathMissing = errors.New("alias path is not a directory")
	// ErrInvalidAlias indicates an empty name or an absolute subpath
	ErrInvalidAlias = errors.New("invalid alias")
)

// Spec is an alias before it is anchored to the project root.
type Spec struct {
	Name string
	Dir  string
}

// Entry maps a symbolic import prefix to an absolute directory.
type Entry struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// DefaultSpecs returns the project aliases, "@" for the source tree.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "@", Dir: "src"},
	}
}

// Resolve anchors specs to root. The result does not depend on the build mode.
func Resolve(root string, specs []Spec) ([]Entry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	seen := make(map[string]bool, len(specs))
	entries := make([]Entry, 0, len(specs))

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidAlias)
		}
		if filepath.IsAbs(spec.Dir) {
			return nil, fmt.Errorf("%w: %s must be relative to the project root", ErrInvalidAlias, spec.Name)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAlias, spec.Name)
		}
		seen[spec.Name] = true

		path := filepath.Join(absRoot, spec.Dir)

		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s -> %s", ErrAliasPathMissing, spec.Name, path)
		}

		entries = append(entries, Entry{Name: spec.Name, Path: path})
	}

	return entries, nil
}

// Map converts entries into the resolve.alias mapping.
func Map(entries []Entry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Name] = e.Path
	}
	return m
}
