package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocument is an in-memory Document.
type fakeDocument struct {
	pages     []string
	textErr   map[int]bool
	renderErr map[int]bool
	closed    bool
}

func (d *fakeDocument) NumPage() int { return len(d.pages) }

func (d *fakeDocument) Text(page int) (string, error) {
	if d.textErr[page] {
		return "", errors.New("broken text layer")
	}
	return d.pages[page], nil
}

func (d *fakeDocument) RenderPNG(page int, dpi float64) ([]byte, error) {
	if d.renderErr[page] {
		return nil, errors.New("render failed")
	}
	return []byte(fmt.Sprintf("image-%d@%.0f", page, dpi)), nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

func opener(doc *fakeDocument) Opener {
	return func([]byte) (Document, error) { return doc, nil }
}

// fakeOCR echoes page images back as text.
type fakeOCR struct {
	calls int
	fail  map[int]bool
}

func (o *fakeOCR) Name() string { return "fake" }
func (o *fakeOCR) DPI() float64 { return 150 }

func (o *fakeOCR) Recognize(_ context.Context, pages []Page) []string {
	o.calls++
	out := make([]string, len(pages))
	for i, p := range pages {
		if o.fail[p.Index] {
			continue
		}
		out[i] = "text of " + string(p.PNG)
	}
	return out
}

func TestIsScanned_Boundary(t *testing.T) {
	assert.True(t, IsScanned(0, 50))
	assert.True(t, IsScanned(49, 50))
	assert.False(t, IsScanned(50, 50))
	assert.False(t, IsScanned(51, 50))
}

func TestExtract_DigitalPath(t *testing.T) {
	doc := &fakeDocument{pages: []string{
		strings.Repeat("alpha ", 333),
		strings.Repeat("beta ", 400),
		strings.Repeat("gamma ", 333),
	}}
	ocr := &fakeOCR{}
	e := New(opener(doc), ocr, Options{ScannedThreshold: 50, Workers: 2})

	res, err := e.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)

	assert.False(t, res.Scanned)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 0, ocr.calls)
	assert.NotEmpty(t, res.Text)
	assert.True(t, strings.HasPrefix(res.Text, "alpha"))
	assert.Contains(t, res.Text, "alpha\n\nbeta")
	assert.True(t, doc.closed)
}

func TestExtract_ExactlyAtThresholdIsDigital(t *testing.T) {
	doc := &fakeDocument{pages: []string{strings.Repeat("x", 50)}}
	ocr := &fakeOCR{}
	e := New(opener(doc), ocr, Options{ScannedThreshold: 50})

	res, err := e.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Scanned)
	assert.Equal(t, 0, ocr.calls)
}

func TestExtract_DigitalSkipsBrokenPages(t *testing.T) {
	doc := &fakeDocument{
		pages:   []string{strings.Repeat("a", 60), "lost", strings.Repeat("c", 60)},
		textErr: map[int]bool{1: true},
	}
	e := New(opener(doc), nil, Options{})

	res, err := e.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.NotContains(t, res.Text, "lost")
	assert.Contains(t, res.Text, strings.Repeat("c", 60))
}

func TestExtract_ScannedPathKeepsPageOrder(t *testing.T) {
	doc := &fakeDocument{
		pages:     []string{"", "", "", ""},
		renderErr: map[int]bool{2: true},
	}
	ocr := &fakeOCR{fail: map[int]bool{1: true}}
	e := New(opener(doc), ocr, Options{ScannedThreshold: 50, Workers: 4})

	res, err := e.Extract(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, res.Scanned)
	assert.Equal(t, 1, ocr.calls)
	assert.Equal(t, "text of image-0@150\n\ntext of image-3@150", res.Text)
}

func TestExtract_ScannedWithoutOCR(t *testing.T) {
	doc := &fakeDocument{pages: []string{"tiny"}}
	e := New(opener(doc), nil, Options{})

	res, err := e.Extract(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoText)
	require.NotNil(t, res)
	assert.True(t, res.Scanned)
}

func TestExtract_OpenError(t *testing.T) {
	e := New(func([]byte) (Document, error) { return nil, errors.New("not a pdf") }, nil, Options{})

	_, err := e.Extract(context.Background(), []byte("hello"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open pdf")
}

// fakeDescriber records concurrency and fails on selected images.
type fakeDescriber struct {
	mu       sync.Mutex
	inFlight atomic.Int32
	peak     int32
	fail     string
}

func (f *fakeDescriber) DescribeImage(_ context.Context, prompt string, png []byte) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	f.mu.Lock()
	if n > f.peak {
		f.peak = n
	}
	f.mu.Unlock()

	if prompt != VisionPrompt {
		return "", errors.New("unexpected prompt")
	}
	if string(png) == f.fail {
		return "", errors.New("quota exceeded")
	}
	return "ocr:" + string(png), nil
}

func TestVisionOCR_BatchesAndFailures(t *testing.T) {
	model := &fakeDescriber{fail: "p3"}
	v := &VisionOCR{Model: model, BatchSize: 4, Concurrency: 2}

	var pages []Page
	for i := 0; i < 10; i++ {
		pages = append(pages, Page{Index: i, PNG: []byte(fmt.Sprintf("p%d", i))})
	}

	out := v.Recognize(context.Background(), pages)
	require.Len(t, out, 10)
	for i, text := range out {
		if i == 3 {
			assert.Empty(t, text)
			continue
		}
		assert.Equal(t, fmt.Sprintf("ocr:p%d", i), text)
	}
	assert.LessOrEqual(t, model.peak, int32(2))
}

func TestTesseractOCR_RunsProcessPerPage(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}

	bin := filepath.Join(t.TempDir(), "tesseract")
	script := "#!/bin/sh\nif [ \"$5\" = \"bad\" ]; then exit 1; fi\nprintf 'lang=%s ' \"$4\"\ncat\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	ocr := &TesseractOCR{Path: bin, Languages: "vie+eng", Resolution: 108, Workers: 2}
	out := ocr.Recognize(context.Background(), []Page{
		{Index: 0, PNG: []byte("first")},
		{Index: 1, PNG: []byte("second")},
	})

	assert.Equal(t, []string{"lang=vie+eng first", "lang=vie+eng second"}, out)
	assert.Equal(t, float64(108), ocr.DPI())
}

func TestTesseractOCR_MissingBinaryYieldsEmptyPages(t *testing.T) {
	ocr := &TesseractOCR{Path: filepath.Join(t.TempDir(), "missing"), Workers: 1}
	out := ocr.Recognize(context.Background(), []Page{{Index: 0, PNG: []byte("x")}})
	assert.Equal(t, []string{""}, out)
}
