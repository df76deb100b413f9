package bundler

import (
	"encoding/json"
	"errors"
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

// Metafile is the subset of the esbuild metafile used for script ordering and analysis.
type Metafile struct {
	Inputs  map[string]InputInfo  `json:"inputs"`
	Outputs map[string]OutputInfo `json:"outputs"`
}

type InputInfo struct {
	Bytes int `json:"bytes"`
}

type OutputInfo struct {
	Bytes      int                     `json:"bytes"`
	EntryPoint string                  `json:"entryPoint"`
	Imports    []ImportInfo            `json:"imports"`
	Inputs     map[string]InputContrib `json:"inputs"`
}

type ImportInfo struct {
	Path     string `json:"path"`
	External bool   `json:"external,omitempty"`
}

type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

func parseMetafile(raw string) (*Metafile, error) {
	var m Metafile
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// merge folds other into m, used when entry points are built separately.
func (m *Metafile) merge(other *Metafile) {
	if m.Inputs == nil {
		m.Inputs = map[string]InputInfo{}
	}
	if m.Outputs == nil {
		m.Outputs = map[string]OutputInfo{}
	}
	maps.Copy(m.Inputs, other.Inputs)
	maps.Copy(m.Outputs, other.Outputs)
}

// LoadScripts returns the ordered output paths, relative to outdir, needed to run the
// given entry point: the entry output followed by its transitive imports.
func (m *Metafile) LoadScripts(entryPoint, outdir string) ([]string, error) {
	visited := make(map[string]bool)
	scripts := []string{}

	// deterministic iteration, map order would reorder script tags between builds
	for _, outputPath := range slices.Sorted(maps.Keys(m.Outputs)) {
		info := m.Outputs[outputPath]
		if info.EntryPoint != entryPoint || !strings.HasSuffix(outputPath, ".js") {
			continue
		}

		visited[outputPath] = true
		scripts = append(scripts, relativeTo(outdir, outputPath))
		m.addDependencies(info, outdir, &scripts, visited)
		return scripts, nil
	}

	return nil, errors.New("entrypoint not found in metadata")
}

func (m *Metafile) addDependencies(output OutputInfo, outdir string, scripts *[]string, visited map[string]bool) {
	for _, imp := range output.Imports {
		if imp.External || visited[imp.Path] {
			continue
		}
		visited[imp.Path] = true
		*scripts = append(*scripts, relativeTo(outdir, imp.Path))

		if chunkInfo, exists := m.Outputs[imp.Path]; exists {
			m.addDependencies(chunkInfo, outdir, scripts, visited)
		}
	}
}

func relativeTo(outdir, p string) string {
	if rel, err := filepath.Rel(outdir, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(p)
}
