package cdn

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/wolfeidau/bundlecfg/internal/buildenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTable []byte

var (
	// ErrConfigurationInconsistency indicates an externalized library has no CDN entry or
	// global binding for the active mode
	ErrConfigurationInconsistency = errors.New("configuration inconsistency")
	// ErrInvalidTable indicates the CDN table source could not be parsed or validated
	ErrInvalidTable = errors.New("invalid CDN table")
)

// Kind is the type of asset an entry injects into the HTML entry point.
type Kind string

const (
	Script Kind = "script"
	Style  Kind = "style"
)

// Entry is a single pre-built asset for one mode.
type Entry struct {
	Library string        `json:"library" yaml:"library" validate:"required"`
	Mode    buildenv.Mode `json:"mode" yaml:"-"`
	URL     string        `json:"url" yaml:"url" validate:"required,url"`
	Global  string        `json:"global,omitempty" yaml:"global" validate:"required_unless=Kind style"`
	Kind    Kind          `json:"kind" yaml:"kind" validate:"omitempty,oneof=script style"`
}

// Table holds the hand-curated entries per mode. Entry order is preserved.
type Table struct {
	entries map[buildenv.Mode][]Entry
}

type tableFile struct {
	Development []Entry `yaml:"development" validate:"dive"`
	Production  []Entry `yaml:"production" validate:"dive"`
}

// NewTable builds a table from per-mode entries, stamping each entry with its mode.
func NewTable(byMode map[buildenv.Mode][]Entry) Table {
	t := Table{entries: make(map[buildenv.Mode][]Entry, len(byMode))}
	for mode, entries := range byMode {
		stamped := make([]Entry, len(entries))
		for i, e := range entries {
			e.Mode = mode
			if e.Kind == "" {
				e.Kind = Script
			}
			stamped[i] = e
		}
		t.entries[mode] = stamped
	}
	return t
}

// Lookup returns a copy of the entries for mode.
func (t Table) Lookup(mode buildenv.Mode) []Entry {
	return slices.Clone(t.entries[mode])
}

// Find returns the script entry for library in mode.
func (t Table) Find(mode buildenv.Mode, library string) (Entry, bool) {
	for _, e := range t.entries[mode] {
		if e.Library == library && e.Kind == Script {
			return e, true
		}
	}
	return Entry{}, false
}

// Default returns the embedded table.
func Default() (Table, error) {
	return Load(bytes.NewReader(defaultTable))
}

// LoadFile reads a YAML table from path.
func LoadFile(path string) (Table, error) {
	f, err := os.Open(path) // #nosec G304 - path is operator supplied
	if err != nil {
		return Table{}, fmt.Errorf("failed to open CDN table: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load parses and validates a YAML table.
func Load(r io.Reader) (Table, error) {
	var file tableFile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return Table{}, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}

	if err := validator.New().Struct(file); err != nil {
		return Table{}, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}

	return NewTable(map[buildenv.Mode][]Entry{
		buildenv.Development: file.Development,
		buildenv.Production:  file.Production,
	}), nil
}

// Validate checks that every externalized library has a global binding and a matching
// script entry in the table for mode.
func Validate(t Table, mode buildenv.Mode, externals map[string]string) error {
	libraries := make([]string, 0, len(externals))
	for lib := range externals {
		libraries = append(libraries, lib)
	}
	slices.Sort(libraries)

	var problems []string
	for _, lib := range libraries {
		global := externals[lib]
		if global == "" {
			problems = append(problems, lib+" has no global binding")
			continue
		}

		entry, ok := t.Find(mode, lib)
		if !ok {
			problems = append(problems, lib+" has no "+mode.String()+" CDN entry")
			continue
		}

		if entry.Global != global {
			problems = append(problems, fmt.Sprintf("%s is bound to %s but the CDN entry exposes %s", lib, global, entry.Global))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationInconsistency, strings.Join(problems, "; "))
	}

	return nil
}
