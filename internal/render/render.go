// Package render turns Fiverr order metadata into downloadable PDF and PNG
// documents.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"kitstudio/internal/blob"
)

// ErrNotConfigured is returned when no rasterizer backs the requested format.
var ErrNotConfigured = errors.New("renderer not configured")

// Format is an output document format.
type Format string

// Supported formats.
const (
	FormatPDF Format = "pdf"
	FormatPNG Format = "png"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "image/png"
}

// OrderDocument is the metadata printed on an order sheet.
type OrderDocument struct {
	Client       string    `json:"client"`
	OrderNumber  string    `json:"orderNumber"`
	PackageType  string    `json:"packageType"`
	RemakeType   string    `json:"remakeType"`
	DeliveryDate time.Time `json:"deliveryDate"`
	Key          string    `json:"key"`
	BPM          int       `json:"bpm"`
	Notes        string    `json:"notes"`
}

// Validate checks the fields used to build the file name.
func (d OrderDocument) Validate() error {
	if strings.TrimSpace(d.Client) == "" {
		return errors.New("client is required")
	}
	if strings.TrimSpace(d.OrderNumber) == "" {
		return errors.New("order number is required")
	}
	if d.BPM < 0 {
		return fmt.Errorf("bpm %d must not be negative", d.BPM)
	}
	return nil
}

// Filename returns "<client>-<order>.<ext>" with unsafe characters replaced.
func Filename(client, order string, f Format) string {
	return blob.SanitizeFilename(strings.TrimSpace(client)+"-"+strings.TrimSpace(order)) + "." + string(f)
}

var orderTemplate = template.Must(template.New("order").Funcs(template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "TBD"
		}
		return t.Format("January 2, 2006")
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Order {{.OrderNumber}}</title>
<style>
  @page { size: A4; margin: 18mm; }
  body { font-family: Helvetica, Arial, sans-serif; color: #1b1b1f; width: 760px; margin: 0 auto; }
  h1 { font-size: 28px; margin-bottom: 4px; }
  .sub { color: #6b6b76; margin-top: 0; }
  table { border-collapse: collapse; width: 100%; margin-top: 24px; }
  th, td { text-align: left; padding: 10px 12px; border-bottom: 1px solid #e4e4ea; }
  th { width: 34%; color: #6b6b76; font-weight: 600; }
  .notes { margin-top: 24px; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>{{.Client}}</h1>
<p class="sub">Order #{{.OrderNumber}}</p>
<table>
  <tr><th>Package</th><td>{{.PackageType}}</td></tr>
  {{- if .RemakeType}}
  <tr><th>Remake type</th><td>{{.RemakeType}}</td></tr>
  {{- end}}
  <tr><th>Delivery date</th><td>{{date .DeliveryDate}}</td></tr>
  <tr><th>Key</th><td>{{if .Key}}{{.Key}}{{else}}-{{end}}</td></tr>
  <tr><th>BPM</th><td>{{if .BPM}}{{.BPM}}{{else}}-{{end}}</td></tr>
</table>
{{- if .Notes}}
<div class="notes">{{.Notes}}</div>
{{- end}}
</body>
</html>
`))

// HTML renders the order sheet markup.
func HTML(doc OrderDocument) (string, error) {
	var buf bytes.Buffer
	if err := orderTemplate.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("render order template: %w", err)
	}
	return buf.String(), nil
}

// Rasterizer converts HTML into the requested binary format.
type Rasterizer interface {
	Rasterize(ctx context.Context, html string, format Format) ([]byte, error)
}

// Output is a rendered document ready to be served.
type Output struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Renderer routes each format to its rasterizer.
type Renderer struct {
	pdf   Rasterizer
	image Rasterizer
}

// NewRenderer wires rasterizers; either may be nil.
func NewRenderer(pdf, image Rasterizer) *Renderer {
	return &Renderer{pdf: pdf, image: image}
}

// Render validates doc, renders the template and rasterizes it.
func (r *Renderer) Render(ctx context.Context, doc OrderDocument, format Format) (Output, error) {
	if err := doc.Validate(); err != nil {
		return Output{}, err
	}
	var rz Rasterizer
	switch format {
	case FormatPDF:
		rz = r.pdf
	case FormatPNG:
		rz = r.image
	default:
		return Output{}, fmt.Errorf("unsupported format %q", format)
	}
	if rz == nil {
		return Output{}, fmt.Errorf("%s: %w", format, ErrNotConfigured)
	}
	markup, err := HTML(doc)
	if err != nil {
		return Output{}, err
	}
	data, err := rz.Rasterize(ctx, markup, format)
	if err != nil {
		return Output{}, fmt.Errorf("rasterize %s: %w", format, err)
	}
	return Output{Filename: Filename(doc.Client, doc.OrderNumber, format), ContentType: format.ContentType(), Data: data}, nil
}
