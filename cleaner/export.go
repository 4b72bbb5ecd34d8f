package cleaner

import (
	"context"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/webcleaner/dom"
	"github.com/hazyhaar/webcleaner/reconcile"
)

// Exporter renders a cleaned page as Markdown. Blurred subtrees are left
// out; the rest is sanitised before conversion.
type Exporter struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

// NewExporter returns an Exporter with the UGC sanitising policy.
func NewExporter() *Exporter {
	return &Exporter{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown converts doc. pageURL resolves relative links. doc is not
// modified.
func (e *Exporter) Markdown(doc *dom.Document, pageURL string) (string, error) {
	src, err := doc.Render()
	if err != nil {
		return "", fmt.Errorf("cleaner: export render: %w", err)
	}
	cp, err := dom.ParseString(src)
	if err != nil {
		return "", fmt.Errorf("cleaner: export parse: %w", err)
	}
	hidden, err := cp.QueryAll("." + reconcile.MarkerBlur)
	if err != nil {
		return "", err
	}
	for _, n := range hidden {
		cp.Remove(n)
	}
	cleaned, err := cp.Render()
	if err != nil {
		return "", fmt.Errorf("cleaner: export render: %w", err)
	}

	safe := e.policy.Sanitize(cleaned)
	md, err := e.conv.ConvertString(safe, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("cleaner: export convert: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// Export renders the session's page as Markdown.
func (s *Session) Export(ctx context.Context) (string, error) {
	var md string
	err := s.Do(ctx, func(_ context.Context, doc *dom.Document) error {
		var err error
		md, err = s.cleaner.exporter.Markdown(doc, s.pageURL)
		return err
	})
	return md, err
}
