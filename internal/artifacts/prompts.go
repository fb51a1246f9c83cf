package artifacts

import (
	"fmt"
	"strings"

	"github.com/nickcecere/docchat/internal/lang"
)

const markdownRules = `## Markdown rules
- Use "# Title" for the main title, "## Section" for major sections and "### Subsection" below that, always with a space after the hashes
- Use only "-" for bullet lists and "1." "2." "3." for ordered lists; indent nested items by exactly 2 spaces
- Use **bold** for key terms and *italic* for emphasis or foreign terms
- Leave exactly one blank line between sections and before and after every list
- Never use more than two consecutive blank lines
- Avoid the backtick character except around mathematical expressions`

const summaryTemplate = `You are an expert content summarization assistant that produces professional, well-structured Markdown documents.

## Language
- %s

%s

## Content
1. Identify and keep the most important concepts, arguments and conclusions
2. Remove repetition, filler and unnecessary elaboration
3. Preserve key statistics, names, dates, technical specifications and step-by-step processes
4. Organize information in a clear, logical sequence
5. Never alter facts or add meta-commentary about the summarization
6. Aim for 20-40%% of the original length and cover every major topic

Start with "# <Main Title>" and finish the whole summary.

Here is the content:

%s`

// SummaryPrompt builds the summary prompt in the language of content.
func SummaryPrompt(content string) string {
	return fmt.Sprintf(summaryTemplate, lang.Instruction(lang.Detect(content)), markdownRules, content)
}

const noteTemplate = `You are an expert content summarization assistant that produces professional, well-structured Markdown notes tailored to the user's requirements.

## Target purpose: %s
- Objective: %s
- Structure: %s
- Additional focus: %s

## Language: %s
- Instruction: %s
- Tone: %s
- Terminology: %s

## Detail level: %s
- Target length: %s
- Content focus: %s
- Structure guidance: %s

%s

## Content rules
- Always preserve statistics, dates, names and technical specifications
- Keep the logical connections between concepts
- Never alter facts or explain the summarization process
- Start with "# <Main Title>" and finish the whole note

CONTENT TO SUMMARIZE:
%s`

// NotePrompt builds the custom note prompt.
func NotePrompt(content string, s Settings) string {
	n := s.Normalize()
	t, l, d := s.lookup()
	return fmt.Sprintf(noteTemplate,
		strings.ToUpper(n.Target), t.focus, t.structure, t.extras,
		strings.ToUpper(n.Language), l.instruction, l.tone, l.terminology,
		strings.ToUpper(n.Detail), d.length, d.focus, d.structure,
		markdownRules, content)
}

const mindmapTemplate = `Your task is to analyze the input text and convert it into a JSON mindmap with a clear parent-child tree structure.

Requirements:
1. Detect the language of the input (English, Vietnamese or Japanese).
2. Return one nested JSON object.
3. Each key is the title of a branch in the mindmap.
4. A branch with children maps to a nested object of its sub-branches.
5. A leaf branch maps to a string description instead of an object.
6. Do NOT include explanations, markdown or any text outside the JSON.

User settings:
- Target: %s
- Structure style: %s
- Extra notes: %s
- Detail: %s | Length: %s
- Language: %s, %s

Expected JSON format:

{
  "Artificial Intelligence": {
    "Machine Learning": {
      "Supervised Learning": {
        "Classification": "Use labeled data to predict categories",
        "Regression": "Predict continuous values from labeled data"
      },
      "Unsupervised Learning": {
        "Clustering": "Group data points based on similarity"
      }
    }
  }
}

Below is the input content:

"""%s"""

Return only valid JSON.`

// MindmapPrompt builds the mindmap prompt.
func MindmapPrompt(content string, s Settings) string {
	t, l, d := s.lookup()
	return fmt.Sprintf(mindmapTemplate,
		t.focus, t.structure, t.extras,
		d.focus, d.length,
		l.instruction, l.tone,
		content)
}
