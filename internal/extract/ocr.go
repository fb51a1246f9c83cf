package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"
)

// VisionPrompt is the instruction sent with every page image.
const VisionPrompt = `Extract all text content from this document image.

Rules:
- Extract text exactly as it appears in the image
- Preserve the original structure and formatting as much as possible
- Include headings, paragraphs, lists, and table content
- If text is unclear or partially visible, mark as [unclear text]
- Do not add any commentary or explanations
- Return only the extracted text content

Extract the text:`

// TesseractOCR runs the tesseract binary once per page. Each page is a
// separate OS process, so pages are recognised in parallel without sharing
// an address space.
type TesseractOCR struct {
	Path       string
	Languages  string
	Resolution float64
	Workers    int
}

// Name returns the engine name.
func (t *TesseractOCR) Name() string { return "tesseract" }

// DPI returns the render resolution the engine expects.
func (t *TesseractOCR) DPI() float64 { return t.Resolution }

// Recognize runs tesseract over every page on a bounded pool.
func (t *TesseractOCR) Recognize(ctx context.Context, pages []Page) []string {
	workers := t.Workers
	if workers <= 0 {
		workers = 1
	}

	out := make([]string, len(pages))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers)
	for i, page := range pages {
		p.Go(func(ctx context.Context) error {
			text, err := t.run(ctx, page.PNG)
			if err != nil {
				log.Warn("OCR failed for page", "page", page.Index+1, "error", err)
				return nil
			}
			// Each goroutine owns a distinct slot
			out[i] = text
			return nil
		})
	}
	_ = p.Wait()
	return out
}

func (t *TesseractOCR) run(ctx context.Context, png []byte) (string, error) {
	path := t.Path
	if path == "" {
		path = "tesseract"
	}
	args := []string{"stdin", "stdout"}
	if t.Languages != "" {
		args = append(args, "-l", t.Languages)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(png)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ImageDescriber is a vision-capable generation model.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, prompt string, png []byte) (string, error)
}

// VisionOCR delegates each page to a vision model. Pages are grouped into
// batches handled sequentially; only a few batches run at once so the
// provider's rate limits are respected.
type VisionOCR struct {
	Model       ImageDescriber
	Resolution  float64
	BatchSize   int
	Concurrency int
}

// Name returns the engine name.
func (v *VisionOCR) Name() string { return "vision" }

// DPI returns the render resolution.
func (v *VisionOCR) DPI() float64 { return v.Resolution }

// Recognize sends every page image to the model.
func (v *VisionOCR) Recognize(ctx context.Context, pages []Page) []string {
	size := v.BatchSize
	if size <= 0 {
		size = 4
	}
	conc := v.Concurrency
	if conc <= 0 {
		conc = 2
	}

	out := make([]string, len(pages))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(conc)
	for start := 0; start < len(pages); start += size {
		end := min(start+size, len(pages))
		p.Go(func(ctx context.Context) error {
			for i := start; i < end; i++ {
				if ctx.Err() != nil {
					return nil
				}
				text, err := v.Model.DescribeImage(ctx, VisionPrompt, pages[i].PNG)
				if err != nil {
					log.Warn("Vision extraction failed for page", "page", pages[i].Index+1, "error", err)
					continue
				}
				out[i] = text
			}
			return nil
		})
	}
	_ = p.Wait()
	return out
}
