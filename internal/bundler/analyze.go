package bundler

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/bundlecfg/internal/plugin"
)

// ErrUnsupportedAnalyzerMode indicates an analyzer mode other than static
var ErrUnsupportedAnalyzerMode = errors.New("unsupported analyzer mode")

var _ plugin.Analyzer = (*staticAnalyzer)(nil)

// OutputAnalysis summarises one emitted file.
type OutputAnalysis struct {
	Path       string
	Bytes      int
	FinalBytes int64
	Inputs     []InputAnalysis
}

// InputAnalysis is the contribution of a source file to an output.
type InputAnalysis struct {
	Path          string
	BytesInOutput int
	Percentage    float64
}

const reportPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Bundle report</title></head>
<body>
{{- range . }}
<h2>{{ .Path }} ({{ .FinalBytes }} bytes on disk, {{ .Bytes }} before minification)</h2>
<table>
<tr><th>input</th><th>bytes</th><th>%</th></tr>
{{- range .Inputs }}
<tr><td>{{ .Path }}</td><td>{{ .BytesInOutput }}</td><td>{{ printf "%.1f" .Percentage }}</td></tr>
{{- end }}
</table>
{{- end }}
</body>
</html>
`

var reportTemplate = template.Must(template.New("report").Parse(reportPage))

// staticAnalyzer writes an HTML size report next to the build output.
type staticAnalyzer struct {
	root   string
	outdir string
	logger zerolog.Logger
}

func (a *staticAnalyzer) Analyze(_ context.Context, cfg plugin.Analyze, raw json.RawMessage) (string, error) {
	if cfg.Mode != plugin.AnalyzerStatic {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAnalyzerMode, cfg.Mode)
	}

	var meta Metafile
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf("failed to parse metafile: %w", err)
	}

	outputs := analyzeOutputs(&meta, a.root)

	dest := filepath.Join(a.outdir, cfg.ReportFile)
	f, err := os.Create(dest) // #nosec G304 - report path is derived from the output directory
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	if err := reportTemplate.Execute(f, outputs); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	// the report is never opened, cfg.Open only exists for parity with the payload
	a.logger.Info().Str("report", dest).Bool("open", cfg.Open).Msg("Bundle report written")

	return dest, nil
}

func analyzeOutputs(meta *Metafile, root string) []OutputAnalysis {
	outputs := make([]OutputAnalysis, 0, len(meta.Outputs))

	for outPath, out := range meta.Outputs {
		oa := OutputAnalysis{Path: outPath, Bytes: out.Bytes}
		if info, err := os.Stat(filepath.Join(root, outPath)); err == nil {
			oa.FinalBytes = info.Size()
		}

		for inPath, contrib := range out.Inputs {
			ia := InputAnalysis{Path: inPath, BytesInOutput: contrib.BytesInOutput}
			if out.Bytes > 0 {
				ia.Percentage = float64(contrib.BytesInOutput) / float64(out.Bytes) * 100
			}
			oa.Inputs = append(oa.Inputs, ia)
		}

		slices.SortFunc(oa.Inputs, func(x, y InputAnalysis) int {
			return cmp.Or(cmp.Compare(y.BytesInOutput, x.BytesInOutput), cmp.Compare(x.Path, y.Path))
		})
		outputs = append(outputs, oa)
	}

	slices.SortFunc(outputs, func(x, y OutputAnalysis) int {
		return cmp.Compare(x.Path, y.Path)
	})

	return outputs
}
