package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/docchat/internal/artifacts"
	"github.com/nickcecere/docchat/internal/auth"
	"github.com/nickcecere/docchat/internal/extract"
	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/manifest"
	"github.com/nickcecere/docchat/internal/search"
	"github.com/nickcecere/docchat/internal/store"
	"github.com/nickcecere/docchat/internal/tasks"
)

var testSecret = []byte("server-test-secret")

type fakeIngester struct {
	mu      sync.Mutex
	uploads []indexer.Upload
	err     error
	files   map[string]manifest.Entry // key user/conv/file
	removed bool
}

func (f *fakeIngester) Ingest(ctx context.Context, u indexer.Upload) (*indexer.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, u)
	if f.err != nil {
		return nil, f.err
	}
	return &indexer.Receipt{FileID: u.FileID, Filename: u.Filename, FileType: "application/pdf", Chunks: 2}, nil
}

func (f *fakeIngester) Remove(ctx context.Context, userID, conversationID, fileID string) (bool, error) {
	return f.removed, nil
}

func (f *fakeIngester) Files(ctx context.Context, userID, conversationID string) ([]manifest.Entry, error) {
	var out []manifest.Entry
	prefix := userID + "/" + conversationID + "/"
	for k, e := range f.files {
		if strings.HasPrefix(k, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeIngester) File(ctx context.Context, userID, conversationID, fileID string) (*manifest.Entry, error) {
	e, ok := f.files[userID+"/"+conversationID+"/"+fileID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeIngester) Stats(ctx context.Context, userID, conversationID string) (*manifest.Stats, error) {
	files, _ := f.Files(ctx, userID, conversationID)
	return &manifest.Stats{TotalFiles: len(files)}, nil
}

type fakeQuerier struct {
	got search.Request
}

func (f *fakeQuerier) Query(ctx context.Context, req search.Request) (*search.Answer, error) {
	f.got = req
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("query cannot be empty")
	}
	return &search.Answer{Answer: "42", Query: req.Query, State: search.StateAnswered}, nil
}

type fakeTasks struct {
	tasks []tasks.Task
}

func (f *fakeTasks) Get(id string) *tasks.Task {
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			t := f.tasks[i]
			return &t
		}
	}
	return nil
}

func (f *fakeTasks) List() []tasks.Task { return f.tasks }

// memSink keeps files and artifacts in memory.
type memSink struct {
	artifacts.Sink
	files     map[string]*artifacts.File
	artifacts []artifacts.Artifact
}

func (m *memSink) File(ctx context.Context, userID, conversationID, fileID string) (*artifacts.File, error) {
	return m.files[userID+"/"+conversationID+"/"+fileID], nil
}

func (m *memSink) SaveArtifact(ctx context.Context, a *artifacts.Artifact) error {
	a.ID = fmt.Sprintf("a%d", len(m.artifacts)+1)
	a.CreatedAt = time.Now()
	m.artifacts = append(m.artifacts, *a)
	return nil
}

func (m *memSink) Artifacts(ctx context.Context, userID, conversationID string) ([]artifacts.Artifact, error) {
	var out []artifacts.Artifact
	for _, a := range m.artifacts {
		if a.UserID == userID && a.ConversationID == conversationID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeMindmap struct {
	content  string
	settings artifacts.Settings
	err      error
}

func (f *fakeMindmap) Generate(ctx context.Context, content string, s artifacts.Settings) (*artifacts.Node, error) {
	f.content, f.settings = content, s
	if f.err != nil {
		return nil, f.err
	}
	return &artifacts.Node{Name: "Topic", Children: []*artifacts.Node{{Name: "Point", Content: "detail"}}}, nil
}

type fakeNotes struct {
	content string
}

func (f *fakeNotes) Generate(ctx context.Context, content string, s artifacts.Settings) (string, error) {
	f.content = content
	return "# Note for " + s.Target, nil
}

type testServer struct {
	srv      *httptest.Server
	ingester *fakeIngester
	querier  *fakeQuerier
	sink     *memSink
	mindmap  *fakeMindmap
	notes    *fakeNotes
}

func setupServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()

	index, err := store.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	coll, err := index.Create(context.Background(), indexer.Namespace("alice", "c1"), 2)
	require.NoError(t, err)
	require.NoError(t, coll.Upsert(context.Background(),
		[]store.Chunk{{FileID: "f2", Filename: "raw.pdf", ChunkIndex: 0, Content: "chunk text only"}},
		[][]float32{{1, 0}}))

	ts := &testServer{
		ingester: &fakeIngester{
			removed: true,
			files: map[string]manifest.Entry{
				"alice/c1/f1": {FileID: "f1", Filename: "report.pdf", ChunkCount: 3},
				"alice/c1/f2": {FileID: "f2", Filename: "raw.pdf", ChunkCount: 1},
				"bob/c1/f9":   {FileID: "f9", Filename: "bobs.pdf", ChunkCount: 1},
			},
		},
		querier: &fakeQuerier{},
		sink: &memSink{files: map[string]*artifacts.File{
			"alice/c1/f1": {UserID: "alice", ConversationID: "c1", FileID: "f1", Content: "derived text", Summary: "# Summary"},
		}},
		mindmap: &fakeMindmap{},
		notes:   &fakeNotes{},
	}

	s := New(Deps{
		Indexer: ts.ingester,
		Search:  ts.querier,
		Index:   index,
		Sink:    ts.sink,
		Tasks: &fakeTasks{tasks: []tasks.Task{
			{ID: "t1", Name: indexer.DeriveTask, Meta: map[string]string{"user_id": "alice"}, Status: tasks.StatusSucceeded},
			{ID: "t2", Name: indexer.DeriveTask, Meta: map[string]string{"user_id": "bob"}, Status: tasks.StatusRunning},
		}},
		Mindmap: ts.mindmap,
		Notes:   ts.notes,
	}, Options{JWTSecret: testSecret, MaxUploadBytes: maxUpload})

	ts.srv = httptest.NewServer(s.Routes())
	t.Cleanup(ts.srv.Close)
	return ts
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := auth.GenerateToken(user, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, user string, body *bytes.Buffer, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	ts := setupServer(t, 0)

	resp, body := ts.do(t, "GET", "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = ts.do(t, "GET", "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	ts := setupServer(t, 0)

	resp, body := ts.do(t, "GET", "/v1/conversations/c1/files", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])

	req, _ := http.NewRequest("GET", ts.srv.URL+"/v1/conversations/c1/files", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
}

func TestUpload(t *testing.T) {
	ts := setupServer(t, 1024)

	body, ct := multipartBody(t, "Báo cáo tài chính.pdf", "application/pdf", []byte("%PDF-1.4 data"))
	resp, out := ts.do(t, "POST", "/v1/conversations/c1/files", "alice", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Bao-cao-tai-chinh.pdf", out["filename"])

	require.Len(t, ts.ingester.uploads, 1)
	u := ts.ingester.uploads[0]
	assert.Equal(t, "alice", u.UserID)
	assert.Equal(t, "c1", u.ConversationID)
	assert.Equal(t, "application/pdf", u.MIMEType)
	assert.Len(t, u.FileID, 36)
	assert.Equal(t, []byte("%PDF-1.4 data"), u.Data)
}

func TestUpload_MissingFile(t *testing.T) {
	ts := setupServer(t, 1024)

	resp, out := ts.do(t, "POST", "/v1/conversations/c1/files", "alice", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", out["code"])
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w (got %q)", indexer.ErrUnsupportedType, "text/plain"), http.StatusUnsupportedMediaType, "unsupported_type"},
		{indexer.ErrTooLarge, http.StatusRequestEntityTooLarge, "too_large"},
		{indexer.ErrEmptyFile, http.StatusUnprocessableEntity, "empty_file"},
		{fmt.Errorf("failed to extract text: %w", extract.ErrNoText), http.StatusUnprocessableEntity, "no_text"},
		{indexer.ErrNoChunks, http.StatusUnprocessableEntity, "no_chunks"},
		{fmt.Errorf("%w: %w", indexer.ErrEmbedding, errors.New("down")), http.StatusBadGateway, "embedding_failed"},
		{errors.New("disk full"), http.StatusInternalServerError, "ingest_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ts := setupServer(t, 1024)
			ts.ingester.err = tt.err

			body, ct := multipartBody(t, "a.pdf", "application/pdf", []byte("%PDF-1.4"))
			resp, out := ts.do(t, "POST", "/v1/conversations/c1/files", "alice", body, ct)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, out["code"])
			assert.NotEmpty(t, out["message"])
		})
	}
}

func TestUpload_BodyTooLarge(t *testing.T) {
	ts := setupServer(t, 10)

	body, ct := multipartBody(t, "big.pdf", "application/pdf", bytes.Repeat([]byte("x"), 1<<20+64<<10))
	resp, out := ts.do(t, "POST", "/v1/conversations/c1/files", "alice", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "too_large", out["code"])
	assert.Empty(t, ts.ingester.uploads)
}

func TestListFilesIsScopedToUser(t *testing.T) {
	ts := setupServer(t, 0)

	resp, out := ts.do(t, "GET", "/v1/conversations/c1/files", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["files"], 2)

	resp, out = ts.do(t, "GET", "/v1/conversations/c1/files", "carol", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, out["files"])

	resp, out = ts.do(t, "GET", "/v1/conversations/c1/stats", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out["total_files"])
}

func TestRemove(t *testing.T) {
	ts := setupServer(t, 0)

	resp, out := ts.do(t, "DELETE", "/v1/conversations/c1/files/f1", "alice", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["removed"])

	ts.ingester.removed = false
	resp, _ = ts.do(t, "DELETE", "/v1/conversations/c1/files/f1", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuery(t *testing.T) {
	ts := setupServer(t, 0)

	body := bytes.NewBufferString(`{"query": "what is it?", "k": 3, "file_ids": ["f1"]}`)
	resp, out := ts.do(t, "POST", "/v1/conversations/c1/query", "alice", body, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "42", out["answer"])

	assert.Equal(t, indexer.Namespace("alice", "c1"), ts.querier.got.Namespace)
	assert.Equal(t, 3, ts.querier.got.K)
	assert.Equal(t, []string{"f1"}, ts.querier.got.FileIDs)

	resp, _ = ts.do(t, "POST", "/v1/conversations/c1/query", "alice", bytes.NewBufferString(`{"query": "  "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/v1/conversations/c1/query", "alice", bytes.NewBufferString(`not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummary(t *testing.T) {
	ts := setupServer(t, 0)

	resp, out := ts.do(t, "GET", "/v1/conversations/c1/files/f1/summary", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# Summary", out["summary"])
	assert.Equal(t, "report.pdf", out["filename"])

	// Known file, not yet derived
	resp, out = ts.do(t, "GET", "/v1/conversations/c1/files/f2/summary", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_ready", out["code"])

	// Someone else's file
	resp, out = ts.do(t, "GET", "/v1/conversations/c1/files/f1/summary", "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", out["code"])
}

func TestMindmap(t *testing.T) {
	ts := setupServer(t, 0)

	body := bytes.NewBufferString(`{"target": "study", "detail": "brief"}`)
	resp, out := ts.do(t, "POST", "/v1/conversations/c1/files/f1/mindmap", "alice", body, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "derived text", ts.mindmap.content)
	assert.Equal(t, artifacts.Settings{Target: "study", Language: "auto", Detail: "brief"}, ts.mindmap.settings)
	assert.Equal(t, "Topic", out["mindmap"].(map[string]any)["name"])
	assert.Equal(t, "a1", out["artifact_id"])

	require.Len(t, ts.sink.artifacts, 1)
	assert.Equal(t, artifacts.TypeMindmap, ts.sink.artifacts[0].Type)
	assert.JSONEq(t, `{"name":"Topic","children":[{"name":"Point","content":"detail"}]}`, ts.sink.artifacts[0].Payload)
}

func TestMindmap_FallsBackToChunks(t *testing.T) {
	ts := setupServer(t, 0)

	resp, _ := ts.do(t, "POST", "/v1/conversations/c1/files/f2/mindmap", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chunk text only", ts.mindmap.content)
}

func TestMindmap_Errors(t *testing.T) {
	ts := setupServer(t, 0)

	resp, _ := ts.do(t, "POST", "/v1/conversations/c1/files/f1/mindmap", "alice", bytes.NewBufferString(`{"detail": "huge"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/v1/conversations/c1/files/nope/mindmap", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ts.mindmap.err = artifacts.ErrMalformedMindmap
	resp, out := ts.do(t, "POST", "/v1/conversations/c1/files/f1/mindmap", "alice", nil, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "generation_failed", out["code"])
	assert.Empty(t, ts.sink.artifacts)
}

func TestNoteAndArtifacts(t *testing.T) {
	ts := setupServer(t, 0)

	resp, out := ts.do(t, "POST", "/v1/conversations/c1/files/f1/note", "alice", bytes.NewBufferString(`{"target": "work"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# Note for work", out["note"])
	assert.Equal(t, "derived text", ts.notes.content)

	require.Len(t, ts.sink.artifacts, 1)
	assert.Equal(t, "alice", ts.sink.artifacts[0].UserID)

	// Another user's artifact under the same conversation id
	ts.sink.artifacts = append(ts.sink.artifacts, artifacts.Artifact{ID: "x", UserID: "bob", ConversationID: "c1", FileID: "f1", Type: artifacts.TypeNote})

	resp, out = ts.do(t, "GET", "/v1/conversations/c1/artifacts", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := out["artifacts"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "report", list[0].(map[string]any)["name"])
}

func TestArtifactOptions(t *testing.T) {
	ts := setupServer(t, 0)

	resp, out := ts.do(t, "GET", "/v1/artifact-options", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, out, "detail")
}

func TestTasksAreScopedToUser(t *testing.T) {
	ts := setupServer(t, 0)

	resp, out := ts.do(t, "GET", "/v1/tasks", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := out["tasks"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "t1", list[0].(map[string]any)["id"])

	resp, out = ts.do(t, "GET", "/v1/tasks/t1", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "succeeded", out["status"])

	resp, _ = ts.do(t, "GET", "/v1/tasks/t2", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":                "report.pdf",
		"Báo cáo.pdf":               "Bao-cao.pdf",
		"../../etc/passwd":          "passwd",
		`C:\Users\me\Résumé v2.pdf`: "Resume-v2.pdf",
		"データ.pdf":                   ".pdf",
		"my_file-1.pdf":             "my_file-1.pdf",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}

	for _, in := range []string{"", "...", "データ", "/"} {
		got := SanitizeFilename(in)
		assert.Regexp(t, `^file_[0-9a-f]{8}$`, got, "input %q", in)
	}
}
