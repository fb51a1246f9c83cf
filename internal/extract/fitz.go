package extract

import (
	"github.com/gen2brain/go-fitz"
)

// fitzDocument adapts a MuPDF document to Document.
type fitzDocument struct {
	doc *fitz.Document
}

// OpenFitz parses PDF bytes with MuPDF.
func OpenFitz(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return &fitzDocument{doc: doc}, nil
}

func (d *fitzDocument) NumPage() int { return d.doc.NumPage() }

func (d *fitzDocument) Text(page int) (string, error) { return d.doc.Text(page) }

func (d *fitzDocument) RenderPNG(page int, dpi float64) ([]byte, error) {
	return d.doc.ImagePNG(page, dpi)
}

func (d *fitzDocument) Close() error { return d.doc.Close() }
