// Package search answers questions over a conversation's documents: it embeds
// the query, retrieves the nearest chunks and asks the LLM to compose an answer
// from them.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/embeddings"
	"github.com/nickcecere/docchat/internal/lang"
	"github.com/nickcecere/docchat/internal/llm"
	"github.com/nickcecere/docchat/internal/metrics"
	"github.com/nickcecere/docchat/internal/store"
)

// State is a step of answering one query.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateEmbedded     State = "EMBEDDED"
	StateSearched     State = "SEARCHED"
	StateNoResults    State = "NO_RESULTS"
	StateContextBuilt State = "CONTEXT_BUILT"
	StateAnswered     State = "ANSWERED"
	StateFailed       State = "FAILED"
)

// NoResultsAnswer is returned without calling the LLM when nothing matched.
const NoResultsAnswer = "⚠️ No relevant documents found in the uploaded files."

// RetrievalFailedAnswer is returned when the query could not be embedded or searched.
const RetrievalFailedAnswer = "❌ Failed to search the uploaded files."

// FailureAnswer is returned when generation fails.
func FailureAnswer(attempts int) string {
	return fmt.Sprintf("❌ Failed to generate response after %d attempts.", attempts)
}

// Request is one question against a conversation.
type Request struct {
	Namespace string   `json:"-"`
	Query     string   `json:"query"`
	K         int      `json:"k,omitempty"`
	FileIDs   []string `json:"file_ids,omitempty"`
}

// SourceChunk is one retrieved chunk.
type SourceChunk struct {
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// FileSources groups the retrieved chunks of one file.
type FileSources struct {
	Filename string        `json:"filename"`
	Chunks   []SourceChunk `json:"chunks"`
}

// SearchedFiles lists the files a query was restricted to. An empty list
// means every file and is encoded as "all".
type SearchedFiles []string

// MarshalJSON implements json.Marshaler.
func (s SearchedFiles) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return json.Marshal("all")
	}
	return json.Marshal([]string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SearchedFiles) UnmarshalJSON(data []byte) error {
	var all string
	if err := json.Unmarshal(data, &all); err == nil {
		*s = nil
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = ids
	return nil
}

// String implements fmt.Stringer.
func (s SearchedFiles) String() string {
	if len(s) == 0 {
		return "all"
	}
	return strings.Join(s, ", ")
}

// Answer is the result of a query.
type Answer struct {
	Answer        string                  `json:"answer"`
	SourcesByFile map[string]*FileSources `json:"sources_by_file"`
	FileOrder     []string                `json:"file_order"` // file ids by best rank
	Query         string                  `json:"query"`
	SearchedFiles SearchedFiles           `json:"searched_files"`
	State         State                   `json:"state"`
}

// Options tunes the composer.
type Options struct {
	K               int
	MaxContextChars int
	Completion      llm.CompletionOptions
	Retry           llm.RetryPolicy
}

// OptionsFromConfig reads composer options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		K:               cfg.Retrieval.K,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		Completion:      llm.OptionsFromConfig(cfg),
		Retry:           llm.RetryPolicyFromConfig(cfg),
	}
}

// Composer runs the query state machine.
type Composer struct {
	index    store.Index
	embedder embeddings.Service
	llm      llm.Service
	opts     Options
	hook     func(ctx context.Context, req Request, state State)
}

// NewComposer creates a composer. Zero options take the defaults.
func NewComposer(index store.Index, embedder embeddings.Service, gen llm.Service, opts Options) *Composer {
	if opts.K <= 0 {
		opts.K = config.DefaultTopK
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = config.DefaultMaxContextChars
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = llm.DefaultRetryPolicy()
	}
	if opts.Completion.MaxTokens <= 0 {
		opts.Completion = llm.DefaultCompletionOptions()
	}
	return &Composer{index: index, embedder: embedder, llm: gen, opts: opts}
}

// OnTransition registers a hook called on every state change.
func (c *Composer) OnTransition(fn func(ctx context.Context, req Request, state State)) {
	c.hook = fn
}

func (c *Composer) enter(ctx context.Context, req Request, ans *Answer, state State) {
	ans.State = state
	metrics.QueryStatesTotal.WithLabelValues(string(state)).Inc()
	log.Debug("Query state", "namespace", req.Namespace, "state", state)
	if c.hook != nil {
		c.hook(ctx, req, state)
	}
}

// Query answers req. Retrieval and generation failures are reported in the
// answer text; an error is returned only for invalid requests or when ctx
// ends.
func (c *Composer) Query(ctx context.Context, req Request) (*Answer, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if req.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if req.K <= 0 {
		req.K = c.opts.K
	}

	ans := &Answer{
		Query:         req.Query,
		SearchedFiles: SearchedFiles(req.FileIDs),
		SourcesByFile: map[string]*FileSources{},
	}
	c.enter(ctx, req, ans, StateReceived)

	coll, err := c.index.Open(ctx, req.Namespace)
	if err != nil {
		return c.fail(ctx, req, ans, RetrievalFailedAnswer, fmt.Errorf("failed to open collection: %w", err))
	}
	if coll == nil {
		// Nothing was ever ingested here
		return c.noResults(ctx, req, ans), nil
	}

	vector, err := c.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return c.fail(ctx, req, ans, RetrievalFailedAnswer, fmt.Errorf("failed to embed query: %w", err))
	}
	c.enter(ctx, req, ans, StateEmbedded)

	hits, err := coll.Search(ctx, vector, req.K, req.FileIDs)
	if err != nil {
		return c.fail(ctx, req, ans, RetrievalFailedAnswer, fmt.Errorf("failed to search: %w", err))
	}
	c.enter(ctx, req, ans, StateSearched)

	if len(hits) == 0 {
		return c.noResults(ctx, req, ans), nil
	}

	ans.SourcesByFile, ans.FileOrder = GroupByFile(hits)
	prompt := BuildPrompt(req.Query, BuildContext(hits, c.opts.MaxContextChars))
	c.enter(ctx, req, ans, StateContextBuilt)

	text, err := llm.Retry(ctx, c.opts.Retry, func(ctx context.Context) (string, error) {
		return llm.Generate(ctx, c.llm, prompt, c.opts.Completion)
	})
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(string(c.llm.Provider()), "error").Inc()
		return c.fail(ctx, req, ans, FailureAnswer(c.opts.Retry.MaxAttempts), fmt.Errorf("failed to generate answer: %w", err))
	}
	metrics.GenerationRequestsTotal.WithLabelValues(string(c.llm.Provider()), "ok").Inc()

	ans.Answer = text
	c.enter(ctx, req, ans, StateAnswered)
	return ans, nil
}

func (c *Composer) noResults(ctx context.Context, req Request, ans *Answer) *Answer {
	ans.Answer = NoResultsAnswer
	ans.SourcesByFile = map[string]*FileSources{}
	ans.FileOrder = nil
	c.enter(ctx, req, ans, StateNoResults)
	return ans
}

// fail records a failed query. Context cancellation is returned to the caller
// instead of being folded into the answer.
func (c *Composer) fail(ctx context.Context, req Request, ans *Answer, text string, err error) (*Answer, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	log.Error("Query failed", "namespace", req.Namespace, "error", err)
	ans.Answer = text
	c.enter(ctx, req, ans, StateFailed)
	return ans, nil
}

// GroupByFile groups hits by file id, keeping files in the order of their
// best-ranked chunk.
func GroupByFile(hits []store.Hit) (map[string]*FileSources, []string) {
	groups := make(map[string]*FileSources)
	var order []string
	for _, h := range hits {
		g, ok := groups[h.Chunk.FileID]
		if !ok {
			g = &FileSources{Filename: h.Chunk.Filename}
			groups[h.Chunk.FileID] = g
			order = append(order, h.Chunk.FileID)
		}
		g.Chunks = append(g.Chunks, SourceChunk{
			Content:    h.Chunk.Content,
			ChunkIndex: h.Chunk.ChunkIndex,
			Score:      h.Score,
		})
	}
	return groups, order
}

// BuildContext renders hits as "[From <filename>]: <text>" blocks and cuts the
// result at maxChars runes.
func BuildContext(hits []store.Hit, maxChars int) string {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		blocks[i] = fmt.Sprintf("[From %s]: %s", h.Chunk.Filename, h.Chunk.Content)
	}
	return truncateRunes(strings.Join(blocks, "\n\n"), maxChars)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

const promptTemplate = `You are a helpful assistant. Use the context from the uploaded documents to answer the question as accurately and concisely as possible.

- %s
- Use clear language and keep technical details precise.
- Do not invent information that is not in the context. If the context does not contain the answer, say so.

---

Context:
%s

Question:
%s

Answer:`

// BuildPrompt builds the answer prompt in the language of the question.
func BuildPrompt(query, context string) string {
	return fmt.Sprintf(promptTemplate, lang.Instruction(lang.Detect(query)), context, query)
}
