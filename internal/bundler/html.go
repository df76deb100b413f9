package bundler

import (
	"bytes"
	"html/template"
	"os"
	"path"

	"github.com/wolfeidau/bundlecfg/internal/cdn"
)

const defaultPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{ .Title }}</title>
{{- range .Styles }}
<link rel="stylesheet" href="{{ . }}">
{{- end }}
</head>
<body>
<div id="app"></div>
{{- range .CDN }}
<script src="{{ . }}"></script>
{{- end }}
{{- range .Scripts }}
<script src="{{ . }}"></script>
{{- end }}
</body>
</html>
`

// PageData is passed to the HTML entry point template.
type PageData struct {
	Title   string
	Styles  []string
	CDN     []string
	Scripts []string
}

// page renders the HTML entry point with CDN assets and built scripts injected.
type page struct {
	tmpl *template.Template
	name string
}

func newPage(templatePath string) (*page, error) {
	if templatePath == "" {
		tmpl, err := template.New("index").Parse(defaultPage)
		if err != nil {
			return nil, err
		}
		return &page{tmpl: tmpl, name: "index"}, nil
	}

	name := path.Base(templatePath)
	tmpl, err := template.New(name).ParseFiles(templatePath)
	if err != nil {
		return nil, err
	}
	return &page{tmpl: tmpl, name: name}, nil
}

func (p *page) render(dest string, data PageData) error {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, p.name, data); err != nil {
		return err
	}
	return os.WriteFile(dest, buf.Bytes(), 0o600)
}

func pageData(title, publicPath string, assets []cdn.Entry, scripts []string) PageData {
	data := PageData{Title: title}
	for _, a := range assets {
		switch a.Kind {
		case cdn.Style:
			data.Styles = append(data.Styles, a.URL)
		default:
			data.CDN = append(data.CDN, a.URL)
		}
	}
	for _, s := range scripts {
		data.Scripts = append(data.Scripts, path.Join(publicPath, s))
	}
	return data
}
