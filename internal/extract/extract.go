// Package extract recovers plain text from PDF documents, either from the
// embedded text layer or by optical recognition of rendered pages.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"
)

// ErrNoText is returned when neither path produced any usable text.
var ErrNoText = errors.New("no text extracted from document")

// Document is a paginated PDF.
type Document interface {
	NumPage() int
	Text(page int) (string, error)
	RenderPNG(page int, dpi float64) ([]byte, error)
	Close() error
}

// Opener parses raw PDF bytes into a Document.
type Opener func(data []byte) (Document, error)

// Page is one rendered page handed to an OCR engine.
type Page struct {
	Index int
	PNG   []byte
}

// OCR recognises text on rendered pages. Recognize returns one string per
// input page, in input order; a page that could not be read is "".
type OCR interface {
	Name() string
	DPI() float64
	Recognize(ctx context.Context, pages []Page) []string
}

// Result is the outcome of extracting one document.
type Result struct {
	Text    string
	Scanned bool
	Pages   int
	Chars   int
}

// Options configures an Extractor.
type Options struct {
	ScannedThreshold int
	Workers          int
}

// Extractor routes documents through the digital or scanned path.
type Extractor struct {
	open      Opener
	ocr       OCR
	threshold int
	workers   int
}

// New creates an Extractor. ocr may be nil, in which case scanned documents
// produce no text.
func New(open Opener, ocr OCR, opts Options) *Extractor {
	if opts.ScannedThreshold <= 0 {
		opts.ScannedThreshold = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Extractor{
		open:      open,
		ocr:       ocr,
		threshold: opts.ScannedThreshold,
		workers:   opts.Workers,
	}
}

// IsScanned reports whether a document with count extractable characters
// lacks a usable text layer.
func IsScanned(count, threshold int) bool {
	return count < threshold
}

// Extract returns the cleaned text of a PDF.
func (e *Extractor) Extract(ctx context.Context, data []byte) (*Result, error) {
	doc, err := e.open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer doc.Close()

	pages := readTextLayer(doc)
	chars := 0
	for _, p := range pages {
		chars += utf8.RuneCountInString(p)
	}

	res := &Result{
		Pages:   doc.NumPage(),
		Chars:   chars,
		Scanned: IsScanned(chars, e.threshold),
	}

	var raw string
	if res.Scanned {
		log.Info("Scanned PDF detected, running OCR", "pages", res.Pages, "chars", chars)
		raw, err = e.recognize(ctx, doc)
		if err != nil {
			return nil, err
		}
	} else {
		log.Debug("Extracting text layer", "pages", res.Pages, "chars", chars)
		var sb strings.Builder
		for _, p := range pages {
			if p == "" {
				continue
			}
			sb.WriteString(p)
			sb.WriteString("\n\n")
		}
		raw = sb.String()
	}

	res.Text = Clean(raw)
	if res.Text == "" {
		return res, ErrNoText
	}
	return res, nil
}

// readTextLayer reads every page's text layer. Pages that fail are logged
// and contribute "".
func readTextLayer(doc Document) []string {
	n := doc.NumPage()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		text, err := doc.Text(i)
		if err != nil {
			log.Warn("Failed to read page text", "page", i+1, "error", err)
			continue
		}
		out[i] = text
	}
	return out
}

// recognize renders every page and runs OCR over the images.
func (e *Extractor) recognize(ctx context.Context, doc Document) (string, error) {
	if e.ocr == nil {
		log.Warn("Scanned PDF but no OCR engine configured")
		return "", nil
	}

	type rendered struct {
		page Page
		ok   bool
	}

	p := pool.NewWithResults[rendered]().WithContext(ctx).WithMaxGoroutines(e.workers)
	for i := 0; i < doc.NumPage(); i++ {
		p.Go(func(ctx context.Context) (rendered, error) {
			img, err := doc.RenderPNG(i, e.ocr.DPI())
			if err != nil {
				log.Warn("Failed to render page", "page", i+1, "error", err)
				return rendered{page: Page{Index: i}}, nil
			}
			return rendered{page: Page{Index: i, PNG: img}, ok: true}, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return "", fmt.Errorf("failed to render pages: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sort.Slice(results, func(a, b int) bool { return results[a].page.Index < results[b].page.Index })

	pages := make([]Page, 0, len(results))
	for _, r := range results {
		if r.ok {
			pages = append(pages, r.page)
		}
	}

	texts := e.ocr.Recognize(ctx, pages)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	byPage := make([]string, doc.NumPage())
	for i, pg := range pages {
		if i < len(texts) {
			byPage[pg.Index] = texts[i]
		}
	}

	var sb strings.Builder
	for _, text := range byPage {
		sb.WriteString("\n\n")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	log.Info("OCR finished", "engine", e.ocr.Name(), "pages", len(byPage))
	return sb.String(), nil
}
