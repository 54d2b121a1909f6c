package utils

import (
	"bytes"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// MarkdownToHTML renders a markdown fragment. Raw HTML in the source is dropped.
func MarkdownToHTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DocumentSection is one block of a printable document.
type DocumentSection struct {
	Lang string
	Dir  string
	Body string
}

// RenderPrintableDocument builds a standalone HTML page from markdown sections.
func RenderPrintableDocument(title string, sections ...DocumentSection) ([]byte, error) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	b.WriteString(htmlEscape(title))
	b.WriteString("</title>\n<style>body{font-family:sans-serif;margin:2em}section{margin-bottom:2em}section[dir=rtl]{text-align:right}</style>\n</head>\n<body>\n")
	for _, s := range sections {
		body, err := MarkdownToHTML(s.Body)
		if err != nil {
			return nil, err
		}
		dir := s.Dir
		if dir == "" {
			dir = "ltr"
		}
		b.WriteString("<section lang=\"" + htmlEscape(s.Lang) + "\" dir=\"" + htmlEscape(dir) + "\">\n")
		b.WriteString(body)
		b.WriteString("</section>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String()), nil
}

func htmlEscape(s string) string {
	return html.EscapeString(s)
}
