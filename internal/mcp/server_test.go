package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/manifest"
	"github.com/nickcecere/docchat/internal/search"
)

type fakeDocs struct {
	files     map[string][]manifest.Entry
	ingested  []string
	removed   []string
	ingestErr error
}

func (f *fakeDocs) IngestFile(_ context.Context, userID, conversationID, path string) (*indexer.Receipt, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	f.ingested = append(f.ingested, conversationID+":"+path)
	return &indexer.Receipt{FileID: "f9", Filename: "new.pdf", Pages: 2, Chunks: 5}, nil
}

func (f *fakeDocs) Files(_ context.Context, userID, conversationID string) ([]manifest.Entry, error) {
	return f.files[conversationID], nil
}

func (f *fakeDocs) Remove(_ context.Context, userID, conversationID, fileID string) (bool, error) {
	f.removed = append(f.removed, conversationID+":"+fileID)
	return fileID == "f1", nil
}

type fakeQuerier struct {
	last   search.Request
	answer *search.Answer
	err    error
}

func (f *fakeQuerier) Query(_ context.Context, req search.Request) (*search.Answer, error) {
	f.last = req
	return f.answer, f.err
}

// run feeds lines to a server and returns the decoded responses.
func run(t *testing.T, docs Documents, q Querier, lines ...string) []Response {
	t.Helper()

	var out bytes.Buffer
	srv := NewServer(docs, q, Options{
		UserID:         "u1",
		ConversationID: "default",
		Version:        "test",
		In:             strings.NewReader(strings.Join(lines, "\n")),
		Out:            &out,
	})
	require.NoError(t, srv.Run(context.Background()))

	var resps []Response
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		resps = append(resps, r)
	}
	return resps
}

// toolText extracts the text and error flag of a tools/call result.
func toolText(t *testing.T, r Response) (string, bool) {
	t.Helper()
	require.Nil(t, r.Error)

	raw, err := json.Marshal(r.Result)
	require.NoError(t, err)
	var res CallToolResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.Len(t, res.Content, 1)
	return res.Content[0].Text, res.IsError
}

func TestInitializeAndListTools(t *testing.T) {
	resps := run(t, &fakeDocs{}, &fakeQuerier{},
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"agent"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	)
	require.Len(t, resps, 3, "notifications get no response")

	initRes := resps[0].Result.(map[string]any)
	assert.Equal(t, MCPVersion, initRes["protocolVersion"])
	assert.Equal(t, "docchat", initRes["serverInfo"].(map[string]any)["name"])
	assert.Equal(t, "test", initRes["serverInfo"].(map[string]any)["version"])

	var names []string
	for _, tool := range resps[1].Result.(map[string]any)["tools"].([]any) {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{"ask_documents", "list_files", "ingest_document", "remove_file"}, names)
}

func TestProtocolErrors(t *testing.T) {
	resps := run(t, &fakeDocs{}, &fakeQuerier{},
		`not json`,
		`{"jsonrpc":"1.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":"oops"}`,
	)
	require.Len(t, resps, 4)

	assert.Equal(t, ErrorCodeParse, resps[0].Error.Code)
	assert.Equal(t, ErrorCodeInvalidRequest, resps[1].Error.Code)
	assert.Equal(t, ErrorCodeMethodNotFound, resps[2].Error.Code)
	assert.Equal(t, ErrorCodeInvalidParams, resps[3].Error.Code)
}

func TestAskDocuments(t *testing.T) {
	q := &fakeQuerier{answer: &search.Answer{
		Answer: "Revenue grew 12%.",
		SourcesByFile: map[string]*search.FileSources{
			"f1": {Filename: "report.pdf", Chunks: []search.SourceChunk{{ChunkIndex: 3}, {ChunkIndex: 7}}},
		},
		FileOrder: []string{"f1"},
		State:     search.StateAnswered,
	}}

	resps := run(t, &fakeDocs{}, q,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ask_documents","arguments":{"question":"revenue?","file_ids":["f1"],"k":3,"conversation":"finance"}}}`,
	)
	require.Len(t, resps, 1)

	text, isErr := toolText(t, resps[0])
	assert.False(t, isErr)
	assert.Contains(t, text, "Revenue grew 12%.")
	assert.Contains(t, text, "[1] report.pdf (file_id f1, chunks #3, #7)")

	assert.Equal(t, "revenue?", q.last.Query)
	assert.Equal(t, []string{"f1"}, q.last.FileIDs)
	assert.Equal(t, 3, q.last.K)
	assert.Equal(t, indexer.Namespace("u1", "finance"), q.last.Namespace)
}

func TestAskDocumentsFailures(t *testing.T) {
	tests := []struct {
		name string
		q    *fakeQuerier
		args string
		want string
	}{
		{"missing question", &fakeQuerier{}, `{}`, "question is required"},
		{"query error", &fakeQuerier{err: errors.New("boom")}, `{"question":"x"}`, "query failed: boom"},
		{"failed state", &fakeQuerier{answer: &search.Answer{Answer: search.RetrievalFailedAnswer, State: search.StateFailed}}, `{"question":"x"}`, search.RetrievalFailedAnswer},
		{"bad arguments", &fakeQuerier{}, `{"question":42}`, "invalid arguments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resps := run(t, &fakeDocs{}, tt.q,
				`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ask_documents","arguments":`+tt.args+`}}`,
			)
			text, isErr := toolText(t, resps[0])
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestAskUsesDefaultConversation(t *testing.T) {
	q := &fakeQuerier{answer: &search.Answer{Answer: "ok", State: search.StateAnswered}}
	run(t, &fakeDocs{}, q,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ask_documents","arguments":{"question":"x"}}}`,
	)
	assert.Equal(t, indexer.Namespace("u1", "default"), q.last.Namespace)
}

func TestListIngestRemove(t *testing.T) {
	docs := &fakeDocs{files: map[string][]manifest.Entry{
		"default": {{FileID: "f1", Filename: "report.pdf", ChunkCount: 4}},
	}}

	resps := run(t, docs, &fakeQuerier{},
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_files"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_files","arguments":{"conversation":"empty"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"ingest_document","arguments":{"path":"/tmp/new.pdf"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"remove_file","arguments":{"file_id":"f1"}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"remove_file","arguments":{"file_id":"nope"}}}`,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"remove_file","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"grep"}}`,
	)
	require.Len(t, resps, 7)

	text, isErr := toolText(t, resps[0])
	assert.False(t, isErr)
	assert.Contains(t, text, "- report.pdf (file_id f1, 4 chunks)")

	text, _ = toolText(t, resps[1])
	assert.Contains(t, text, `No documents in conversation "empty"`)

	text, isErr = toolText(t, resps[2])
	assert.False(t, isErr)
	assert.Equal(t, "Ingested new.pdf as file_id f9: 2 pages, 5 chunks", text)
	assert.Equal(t, []string{"default:/tmp/new.pdf"}, docs.ingested)

	text, _ = toolText(t, resps[3])
	assert.Equal(t, "Removed file_id f1.", text)
	text, isErr = toolText(t, resps[4])
	assert.False(t, isErr)
	assert.Contains(t, text, "No chunks found")
	assert.Equal(t, []string{"default:f1", "default:nope"}, docs.removed)

	_, isErr = toolText(t, resps[5])
	assert.True(t, isErr)
	text, isErr = toolText(t, resps[6])
	assert.True(t, isErr)
	assert.Equal(t, "Unknown tool: grep", text)
}

func TestIngestFailure(t *testing.T) {
	docs := &fakeDocs{ingestErr: indexer.ErrUnsupportedType}
	resps := run(t, docs, &fakeQuerier{},
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ingest_document","arguments":{"path":"notes.txt"}}}`,
	)
	text, isErr := toolText(t, resps[0])
	assert.True(t, isErr)
	assert.Contains(t, text, "failed to ingest notes.txt")
}
