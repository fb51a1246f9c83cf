package fs

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MIMEPDF is the only content type accepted for ingest.
const MIMEPDF = "application/pdf"

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether data starts like a PDF document. Some writers put a
// few bytes of junk before the header, so the first KB is searched.
func IsPDF(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, pdfMagic)
}

// SniffMIME returns the content type of data, preferring the PDF check over
// the generic sniffer.
func SniffMIME(data []byte) string {
	if IsPDF(data) {
		return MIMEPDF
	}
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// MIMEFromName guesses the content type from a filename extension.
// It returns "" when the extension is unknown.
func MIMEFromName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pdf" {
		return MIMEPDF
	}
	ct := mime.TypeByExtension(ext)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// DetectMIME sniffs the content type of the file at path.
func DetectMIME(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 1024)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return SniffMIME(buf[:n]), nil
}
