// Package render produces the artifacts built from a session's texts.
package render

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/studybuddy/internal/session"
)

const separator = "\n\n---\n\n"

// Artifact formats the extracted and summary texts for download.
func Artifact(extracted, summary string, format session.Format) string {
	if format == session.FormatMD {
		return "# Extracted Notes\n\n" + extracted + separator + "# Summary\n\n" + summary + "\n"
	}
	return "Extracted Notes\n\n" + extracted + separator + "Summary\n\n" + summary
}

// Markdown formats a titled document body for export.
func Markdown(title, extracted, summary string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString("# " + title + "\n\n")
	}
	b.WriteString("## Extracted Notes\n\n")
	b.WriteString(extracted)
	b.WriteString(separator)
	b.WriteString("## Summary\n\n")
	b.WriteString(summary)
	b.WriteString("\n")
	return b.String()
}

// HTML converts markdown text to HTML using goldmark.
// On conversion failure the escaped source is returned.
func HTML(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

var documentTmpl = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<article>
{{.Body}}
</article>
<footer>Exported {{.Created}}</footer>
</body>
</html>
`))

// Document is an exported document as served to readers.
type Document struct {
	Title     string
	Extracted string
	Summary   string
	CreatedAt int64
}

// DocumentHTML renders d as a standalone HTML page.
func DocumentHTML(d Document) ([]byte, error) {
	title := d.Title
	if title == "" {
		title = "Untitled Notes"
	}
	var buf bytes.Buffer
	err := documentTmpl.Execute(&buf, struct {
		Title   string
		Body    template.HTML
		Created string
	}{
		Title:   title,
		Body:    HTML(Markdown(title, d.Extracted, d.Summary)),
		Created: time.Unix(d.CreatedAt, 0).UTC().Format("2006-01-02 15:04"),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
