package artifacts

import (
	"fmt"
	"strings"
)

// Settings tunes a custom note or mindmap. Unknown values fall back to the
// defaults: moderate detail, auto language, general target.
type Settings struct {
	Target   string `json:"target"`
	Language string `json:"language"`
	Detail   string `json:"detail"`
}

const (
	DefaultTarget   = "general"
	DefaultLanguage = "auto"
	DefaultDetail   = "moderate"
)

type detailSetting struct {
	length    string
	focus     string
	structure string
}

type languageSetting struct {
	instruction string
	tone        string
	terminology string
}

type targetSetting struct {
	focus     string
	structure string
	extras    string
}

var detailSettings = map[string]detailSetting{
	"brief": {
		length:    "10-20% of original content",
		focus:     "Extract only the most essential points and key conclusions",
		structure: "Use minimal structure with main points only",
	},
	"moderate": {
		length:    "20-40% of original content",
		focus:     "Include main ideas, supporting details, and important examples",
		structure: "Use clear sections with subsections where needed",
	},
	"detailed": {
		length:    "40-60% of original content",
		focus:     "Preserve comprehensive information including examples, statistics, and detailed explanations",
		structure: "Use full hierarchical structure with multiple levels of detail",
	},
	"comprehensive": {
		length:    "60-80% of original content",
		focus:     "Maintain almost all important information while removing only redundancy",
		structure: "Use extensive structure with deep categorization",
	},
}

var languageSettings = map[string]languageSetting{
	"vietnamese": {
		instruction: "Tạo nội dung HOÀN TOÀN bằng tiếng Việt",
		tone:        "Sử dụng giọng văn tự nhiên, chuyên nghiệp của người Việt",
		terminology: "Ưu tiên thuật ngữ tiếng Việt, chỉ giữ nguyên thuật ngữ nước ngoài khi cần thiết",
	},
	"english": {
		instruction: "Write ENTIRELY in English",
		tone:        "Use natural, professional English tone",
		terminology: "Use appropriate English terminology and expressions",
	},
	"japanese": {
		instruction: "Write ENTIRELY in Japanese",
		tone:        "Use natural, professional Japanese tone",
		terminology: "Use appropriate Japanese terminology and expressions",
	},
	"auto": {
		instruction: "ALWAYS write in the EXACT same language as the source content",
		tone:        "Match the linguistic style and tone of the original content",
		terminology: "Preserve terminology conventions from the source language",
	},
}

var targetSettings = map[string]targetSetting{
	"study": {
		focus:     "Organize content for learning and retention",
		structure: "Use educational format with clear learning objectives",
		extras:    "Include key concepts, definitions, and examples for better understanding",
	},
	"work": {
		focus:     "Extract actionable insights and key business information",
		structure: "Use professional format suitable for workplace communication",
		extras:    "Highlight decisions, recommendations, and next steps",
	},
	"research": {
		focus:     "Preserve academic rigor and detailed analysis",
		structure: "Maintain scholarly structure with proper categorization",
		extras:    "Include methodology, findings, and implications",
	},
	"presentation": {
		focus:     "Create content suitable for oral presentation",
		structure: "Use clear, scannable format with strong visual hierarchy",
		extras:    "Emphasize key talking points and memorable insights",
	},
	"quick_reference": {
		focus:     "Create easily scannable reference material",
		structure: "Use concise format with clear categorization",
		extras:    "Focus on facts, figures, and quick lookup information",
	},
	"general": {
		focus:     "Provide balanced comprehensive overview",
		structure: "Use standard structure suitable for general consumption",
		extras:    "Include all major aspects without specific bias",
	},
}

// Options lists the accepted values of each setting.
func Options() map[string][]string {
	return map[string][]string{
		"target":   {"study", "work", "research", "presentation", "quick_reference", "general"},
		"language": {"vietnamese", "english", "japanese", "auto"},
		"detail":   {"brief", "moderate", "detailed", "comprehensive"},
	}
}

// Normalize lowercases every setting and replaces unknown values with defaults.
func (s Settings) Normalize() Settings {
	out := Settings{
		Target:   strings.ToLower(strings.TrimSpace(s.Target)),
		Language: strings.ToLower(strings.TrimSpace(s.Language)),
		Detail:   strings.ToLower(strings.TrimSpace(s.Detail)),
	}
	if _, ok := targetSettings[out.Target]; !ok {
		out.Target = DefaultTarget
	}
	if _, ok := languageSettings[out.Language]; !ok {
		out.Language = DefaultLanguage
	}
	if _, ok := detailSettings[out.Detail]; !ok {
		out.Detail = DefaultDetail
	}
	return out
}

// Validate rejects values outside Options. Empty values are allowed.
func (s Settings) Validate() error {
	check := func(name, v string, ok bool) error {
		if v != "" && !ok {
			return fmt.Errorf("unknown %s %q", name, v)
		}
		return nil
	}
	_, ok := targetSettings[strings.ToLower(s.Target)]
	if err := check("target", s.Target, ok); err != nil {
		return err
	}
	_, ok = languageSettings[strings.ToLower(s.Language)]
	if err := check("language", s.Language, ok); err != nil {
		return err
	}
	_, ok = detailSettings[strings.ToLower(s.Detail)]
	return check("detail", s.Detail, ok)
}

func (s Settings) lookup() (targetSetting, languageSetting, detailSetting) {
	n := s.Normalize()
	return targetSettings[n.Target], languageSettings[n.Language], detailSettings[n.Detail]
}
