package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nickcecere/docchat/internal/llm"
)

var (
	// ErrMalformedMindmap is returned when the model's answer holds no
	// parsable JSON object.
	ErrMalformedMindmap = errors.New("malformed mindmap JSON")

	// ErrEmptyResponse is returned when generation produced no text.
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// GenOptions configures the generators.
type GenOptions struct {
	Completion llm.CompletionOptions
	Retry      llm.RetryPolicy
}

type generator struct {
	svc  llm.Service
	opts GenOptions
}

// generate streams one completion through the think filter, retrying on
// rate limits.
func (g generator) generate(ctx context.Context, prompt string) (string, error) {
	out, err := llm.Retry(ctx, g.opts.Retry, func(ctx context.Context) (string, error) {
		contentCh, errCh := g.svc.CompleteStream(ctx, []llm.Message{{Role: "user", Content: prompt}}, g.opts.Completion)
		return llm.Collect(contentCh, errCh)
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// Summarizer writes Markdown summaries of whole documents.
type Summarizer struct{ generator }

// NewSummarizer creates a Summarizer.
func NewSummarizer(svc llm.Service, opts GenOptions) *Summarizer {
	return &Summarizer{generator{svc: svc, opts: opts}}
}

// Summarize returns a Markdown summary in the language of content.
func (s *Summarizer) Summarize(ctx context.Context, content string) (string, error) {
	out, err := s.generate(ctx, SummaryPrompt(content))
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}
	return out, nil
}

// Notes writes custom Markdown notes.
type Notes struct{ generator }

// NewNotes creates a note generator.
func NewNotes(svc llm.Service, opts GenOptions) *Notes {
	return &Notes{generator{svc: svc, opts: opts}}
}

// Generate returns a Markdown note shaped by s.
func (n *Notes) Generate(ctx context.Context, content string, s Settings) (string, error) {
	out, err := n.generate(ctx, NotePrompt(content, s))
	if err != nil {
		return "", fmt.Errorf("failed to generate note: %w", err)
	}
	return out, nil
}

// Node is one branch of a mindmap tree.
type Node struct {
	Name     string  `json:"name"`
	Content  string  `json:"content,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Mindmap turns documents into mindmap trees.
type Mindmap struct{ generator }

// NewMindmap creates a mindmap generator.
func NewMindmap(svc llm.Service, opts GenOptions) *Mindmap {
	return &Mindmap{generator{svc: svc, opts: opts}}
}

// Generate asks the model for a mindmap of content and returns it as a tree.
func (m *Mindmap) Generate(ctx context.Context, content string, s Settings) (*Node, error) {
	out, err := m.generate(ctx, MindmapPrompt(content, s))
	if err != nil {
		return nil, fmt.Errorf("failed to generate mindmap: %w", err)
	}
	return ParseMindmap(out)
}

// ParseMindmap extracts the JSON object between the first '{' and the last
// '}' of raw and converts it with ToHierarchy. Key order is preserved.
func ParseMindmap(raw string) (*Node, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedMindmap)
	}

	body := raw[start : end+1]
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedMindmap)
	}
	return ToHierarchy(gjson.Parse(body)), nil
}

// ToHierarchy converts a nested mindmap object into a tree. An object with
// a single key names the root after that key; otherwise the root is "root".
func ToHierarchy(v gjson.Result) *Node {
	return toNode(v, "root")
}

func toNode(v gjson.Result, parent string) *Node {
	switch {
	case v.IsObject():
		var keys []gjson.Result
		var vals []gjson.Result
		v.ForEach(func(k, val gjson.Result) bool {
			keys = append(keys, k)
			vals = append(vals, val)
			return true
		})
		if len(keys) != 1 {
			root := &Node{Name: parent}
			for i := range keys {
				root.Children = append(root.Children, branch(keys[i].String(), vals[i]))
			}
			return root
		}
		return branch(keys[0].String(), vals[0])
	case v.Type == gjson.String:
		return &Node{Name: parent, Content: v.String()}
	default:
		return &Node{Name: v.String()}
	}
}

// branch builds the node for one key and its value.
func branch(name string, v gjson.Result) *Node {
	n := &Node{Name: name}
	switch {
	case v.IsObject():
		v.ForEach(func(k, child gjson.Result) bool {
			if child.Type == gjson.String {
				n.Children = append(n.Children, &Node{Name: k.String(), Content: child.String()})
			} else {
				n.Children = append(n.Children, branch(k.String(), child))
			}
			return true
		})
	case v.Type == gjson.String:
		n.Content = v.String()
	}
	return n
}
