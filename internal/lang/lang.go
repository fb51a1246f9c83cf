// Package lang guesses the natural language of a short text so prompts can
// ask for an answer in the same language.
package lang

import (
	"strings"
	"unicode"
)

// Language codes.
const (
	Vietnamese = "vi"
	English    = "en"
	Japanese   = "ja"
	Unknown    = ""
)

// names maps language codes to the names used in prompts.
var names = map[string]string{
	Vietnamese: "Vietnamese",
	English:    "English",
	Japanese:   "Japanese",
}

// vietnameseLetters are letters that do not occur in English and are rare
// outside Vietnamese.
const vietnameseLetters = "ăâđêôơư" +
	"ạảấầẩẫậắằẳẵặẹẻẽếềểễệỉịọỏốồổỗộớờởỡợụủứừửữựỳỵỷỹ"

// Detect returns the language code of text, or Unknown.
func Detect(text string) string {
	var kana, han, latin, vietnamese, letters int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		lower := unicode.ToLower(r)
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case strings.ContainsRune(vietnameseLetters, lower):
			vietnamese++
			latin++
		case lower < unicode.MaxASCII:
			latin++
		}
	}

	switch {
	case letters == 0:
		return Unknown
	case kana > 0 || (han > 0 && han*2 >= letters):
		// Kanji-only text could be Chinese; kana settles it, otherwise majority Han wins
		return Japanese
	case vietnamese > 0:
		return Vietnamese
	case latin*10 >= letters*9:
		return English
	default:
		return Unknown
	}
}

// Name returns the prompt name of a language code, or "" for Unknown.
func Name(code string) string {
	return names[code]
}

// Instruction tells a model which language to answer in.
func Instruction(code string) string {
	if name := Name(code); name != "" {
		return "Respond entirely in " + name + "."
	}
	return "Respond in the same language as the question."
}
