package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/docchat/internal/llm"
)

// streamLLM replays fixed fragments on every streaming call.
type streamLLM struct {
	mu        sync.Mutex
	fragments []string
	errs      []error
	prompts   []string
}

func (f *streamLLM) Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (string, error) {
	return strings.Join(f.fragments, ""), nil
}

func (f *streamLLM) CompleteStream(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (<-chan string, <-chan error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()

	contentCh := make(chan string, len(f.fragments))
	errCh := make(chan error, 1)
	if err == nil {
		for _, s := range f.fragments {
			contentCh <- s
		}
	}
	close(contentCh)
	errCh <- err
	close(errCh)
	return contentCh, errCh
}

func (f *streamLLM) Provider() llm.Provider { return llm.ProviderGemini }
func (f *streamLLM) ModelName() string      { return "fake" }

func testGenOptions() GenOptions {
	return GenOptions{
		Completion: llm.DefaultCompletionOptions(),
		Retry: llm.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Second,
			Sleep:          func(ctx context.Context, d time.Duration) error { return nil },
		},
	}
}

func TestSummarize_StripsThinkingAcrossFragments(t *testing.T) {
	svc := &streamLLM{fragments: []string{"<thi", "nk>plan the summary</th", "ink># Title\n\n", "- point"}}
	s := NewSummarizer(svc, testGenOptions())

	out, err := s.Summarize(context.Background(), "Some English document about databases.")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\n- point", out)

	require.Len(t, svc.prompts, 1)
	assert.Contains(t, svc.prompts[0], "Respond entirely in English.")
	assert.Contains(t, svc.prompts[0], "Some English document about databases.")
}

func TestSummarize_RetriesRateLimits(t *testing.T) {
	svc := &streamLLM{
		fragments: []string{"summary"},
		errs:      []error{&llm.StatusError{Provider: "gemini", Code: 429, Body: "quota"}},
	}
	s := NewSummarizer(svc, testGenOptions())

	out, err := s.Summarize(context.Background(), "content")
	require.NoError(t, err)
	assert.Equal(t, "summary", out)
	assert.Len(t, svc.prompts, 2)
}

func TestSummarize_EmptyResponse(t *testing.T) {
	svc := &streamLLM{fragments: []string{"<think>only thinking</think>", "  "}}
	s := NewSummarizer(svc, testGenOptions())

	_, err := s.Summarize(context.Background(), "content")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNotes_PromptCarriesSettings(t *testing.T) {
	svc := &streamLLM{fragments: []string{"# Note"}}
	n := NewNotes(svc, testGenOptions())

	out, err := n.Generate(context.Background(), "the content", Settings{Target: "study", Language: "japanese", Detail: "brief"})
	require.NoError(t, err)
	assert.Equal(t, "# Note", out)

	prompt := svc.prompts[0]
	assert.Contains(t, prompt, "Target purpose: STUDY")
	assert.Contains(t, prompt, "Organize content for learning and retention")
	assert.Contains(t, prompt, "Write ENTIRELY in Japanese")
	assert.Contains(t, prompt, "10-20% of original content")
	assert.Contains(t, prompt, "the content")
}

func TestSettings_Normalize(t *testing.T) {
	assert.Equal(t, Settings{Target: "general", Language: "auto", Detail: "moderate"}, Settings{}.Normalize())
	assert.Equal(t, Settings{Target: "work", Language: "english", Detail: "detailed"},
		Settings{Target: " Work ", Language: "ENGLISH", Detail: "detailed"}.Normalize())
	assert.Equal(t, Settings{Target: "general", Language: "auto", Detail: "moderate"},
		Settings{Target: "party", Language: "klingon", Detail: "huge"}.Normalize())
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, Settings{}.Validate())
	assert.NoError(t, Settings{Target: "quick_reference", Language: "Vietnamese", Detail: "comprehensive"}.Validate())
	assert.ErrorContains(t, Settings{Target: "party"}.Validate(), "unknown target")
	assert.ErrorContains(t, Settings{Language: "klingon"}.Validate(), "unknown language")
	assert.ErrorContains(t, Settings{Detail: "huge"}.Validate(), "unknown detail")

	for _, values := range Options() {
		assert.NotEmpty(t, values)
	}
}

func TestParseMindmap_SingleRoot(t *testing.T) {
	raw := "Here you go:\n```json\n" + `{
  "AI": {
    "Machine Learning": {
      "Supervised": "Labeled data",
      "Unsupervised": {"Clustering": "Group similar points"}
    },
    "History": "Since 1956"
  }
}` + "\n```"

	root, err := ParseMindmap(raw)
	require.NoError(t, err)

	assert.Equal(t, "AI", root.Name)
	require.Len(t, root.Children, 2)

	ml := root.Children[0]
	assert.Equal(t, "Machine Learning", ml.Name)
	require.Len(t, ml.Children, 2)
	assert.Equal(t, &Node{Name: "Supervised", Content: "Labeled data"}, ml.Children[0])
	assert.Equal(t, "Unsupervised", ml.Children[1].Name)
	assert.Equal(t, []*Node{{Name: "Clustering", Content: "Group similar points"}}, ml.Children[1].Children)

	assert.Equal(t, &Node{Name: "History", Content: "Since 1956"}, root.Children[1])
}

func TestParseMindmap_MultipleTopLevelKeys(t *testing.T) {
	root, err := ParseMindmap(`{"B": "second letter", "A": {"x": "y"}}`)
	require.NoError(t, err)

	assert.Equal(t, "root", root.Name)
	require.Len(t, root.Children, 2)
	// Document order is kept
	assert.Equal(t, &Node{Name: "B", Content: "second letter"}, root.Children[0])
	assert.Equal(t, "A", root.Children[1].Name)
}

func TestParseMindmap_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"no json here",
		"} backwards {",
		`{"a": {"b": }`,
		`{"a": "unterminated}`,
	} {
		_, err := ParseMindmap(raw)
		assert.ErrorIs(t, err, ErrMalformedMindmap, "input %q", raw)
	}
}

func TestNode_JSON(t *testing.T) {
	root, err := ParseMindmap(`{"Root": {"Leaf": "text", "Empty": {}}}`)
	require.NoError(t, err)

	data, err := json.Marshal(root)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Root","children":[{"name":"Leaf","content":"text"},{"name":"Empty"}]}`, string(data))
}

func TestMindmap_Generate(t *testing.T) {
	svc := &streamLLM{fragments: []string{"<think>x</think>", `{"Topic": `, `{"Point": "detail"}}`}}
	m := NewMindmap(svc, testGenOptions())

	root, err := m.Generate(context.Background(), "content", Settings{Detail: "comprehensive"})
	require.NoError(t, err)
	assert.Equal(t, "Topic", root.Name)
	assert.Contains(t, svc.prompts[0], "60-80% of original content")
}

func TestMindmap_GenerateMalformed(t *testing.T) {
	svc := &streamLLM{fragments: []string{"I cannot build a mindmap for this."}}
	m := NewMindmap(svc, testGenOptions())

	_, err := m.Generate(context.Background(), "content", Settings{})
	assert.ErrorIs(t, err, ErrMalformedMindmap)
}

func TestMindmap_GenerationError(t *testing.T) {
	svc := &streamLLM{errs: []error{errors.New("boom")}}
	m := NewMindmap(svc, testGenOptions())

	_, err := m.Generate(context.Background(), "content", Settings{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedMindmap)
	assert.Contains(t, err.Error(), "failed to generate mindmap")
}

func TestNoteName(t *testing.T) {
	assert.Equal(t, "report", NoteName("report.pdf"))
	assert.Equal(t, "report", NoteName("report.PDF"))
	assert.Equal(t, "notes.txt", NoteName("notes.txt"))
}
