package report

import (
	"bytes"
	"context"
	"errors"
	"html/template"

	"github.com/solarquote/cotizador/web"
)

// PDFClient exposes the subset of the Gotenberg client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

var quotationTemplate = template.Must(template.ParseFS(web.Templates, "templates/reports/quotation_pdf.html"))

// RenderQuotationHTML executes the quotation template. It performs no I/O.
func RenderQuotationHTML(doc QuotationDocument) (string, error) {
	buf := &bytes.Buffer{}
	if err := quotationTemplate.Execute(buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// QuotationRenderer turns quotation documents into PDF bytes.
type QuotationRenderer struct {
	client PDFClient
}

// NewQuotationRenderer wires the PDF client.
func NewQuotationRenderer(client PDFClient) (*QuotationRenderer, error) {
	if client == nil {
		return nil, errors.New("quotation renderer: pdf client required")
	}
	return &QuotationRenderer{client: client}, nil
}

// Render executes the template and converts the HTML to PDF bytes.
func (r *QuotationRenderer) Render(ctx context.Context, doc QuotationDocument) ([]byte, error) {
	html, err := RenderQuotationHTML(doc)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}
