package server

import (
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename folds a client filename to a safe ASCII name: accents are
// stripped, directories dropped and anything outside [A-Za-z0-9_.-] becomes
// "-". An unusable result falls back to file_<8 hex>.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)

	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	if folded, _, err := transform.String(fold, name); err == nil {
		name = folded
	}
	name = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, name)
	name = unsafeFilenameChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")

	if name == "" || strings.Trim(name, ".") == "" {
		return "file_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return name
}
