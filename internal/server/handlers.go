package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nickcecere/docchat/internal/artifacts"
	"github.com/nickcecere/docchat/internal/auth"
	"github.com/nickcecere/docchat/internal/extract"
	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/manifest"
	"github.com/nickcecere/docchat/internal/search"
	"github.com/nickcecere/docchat/internal/tasks"
)

// multipartOverhead is allowed on top of the file size for form framing.
const multipartOverhead = 1 << 20

// ingestError maps an ingest failure to a status, code and reason.
func ingestError(err error) (int, string, string) {
	switch {
	case errors.Is(err, indexer.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "unsupported_type", "Only PDF files are accepted."
	case errors.Is(err, indexer.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large", "File exceeds the upload size limit."
	case errors.Is(err, indexer.ErrEmptyFile):
		return http.StatusUnprocessableEntity, "empty_file", "The uploaded file is empty."
	case errors.Is(err, extract.ErrNoText):
		return http.StatusUnprocessableEntity, "no_text", "No text could be extracted from the document."
	case errors.Is(err, indexer.ErrNoChunks):
		return http.StatusUnprocessableEntity, "no_chunks", "The document produced no searchable content."
	case errors.Is(err, indexer.ErrEmbedding):
		return http.StatusBadGateway, "embedding_failed", "The embedding service failed."
	default:
		return http.StatusInternalServerError, "ingest_failed", "Failed to ingest the document."
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	conv := chi.URLParam(r, "conversationID")

	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartOverhead)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "File exceeds the upload size limit.")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "No filename provided")
		return
	}

	var data []byte
	if s.opts.MaxUploadBytes > 0 {
		data, err = io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	} else {
		data, err = io.ReadAll(file)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read upload")
		return
	}

	upload := indexer.Upload{
		UserID:         user,
		ConversationID: conv,
		FileID:         uuid.NewString(),
		Filename:       SanitizeFilename(header.Filename),
		MIMEType:       header.Header.Get("Content-Type"),
		Data:           data,
	}
	receipt, err := s.deps.Indexer.Ingest(r.Context(), upload)
	if err != nil {
		status, code, reason := ingestError(err)
		writeError(w, status, code, reason)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Indexer.Files(r.Context(), auth.UserFrom(r.Context()), chi.URLParam(r, "conversationID"))
	if err != nil {
		log.Error("Failed to list files", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list files")
		return
	}
	if files == nil {
		files = []manifest.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Indexer.Stats(r.Context(), auth.UserFrom(r.Context()), chi.URLParam(r, "conversationID"))
	if err != nil {
		log.Error("Failed to read stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	removed, err := s.deps.Indexer.Remove(r.Context(), auth.UserFrom(r.Context()), chi.URLParam(r, "conversationID"), fileID)
	if err != nil {
		log.Error("Failed to remove file", "file_id", fileID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to remove file")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file_id": fileID, "removed": true})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	req.Namespace = indexer.Namespace(auth.UserFrom(r.Context()), chi.URLParam(r, "conversationID"))

	ans, err := s.deps.Search.Query(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// fileFor resolves a file the caller owns, writing 404 when it is unknown.
func (s *Server) fileFor(w http.ResponseWriter, r *http.Request) (*manifest.Entry, bool) {
	entry, err := s.deps.Indexer.File(r.Context(), auth.UserFrom(r.Context()), chi.URLParam(r, "conversationID"), chi.URLParam(r, "fileID"))
	if err != nil {
		log.Error("Failed to look up file", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to look up file")
		return nil, false
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return nil, false
	}
	return entry, true
}

// contentFor prefers derived content and falls back to the stored chunks.
func (s *Server) contentFor(r *http.Request, fileID string) (string, error) {
	user := auth.UserFrom(r.Context())
	conv := chi.URLParam(r, "conversationID")
	if s.deps.Sink != nil {
		f, err := s.deps.Sink.File(r.Context(), user, conv, fileID)
		if err != nil {
			log.Warn("Failed to read derived content", "file_id", fileID, "error", err)
		} else if f != nil && f.Content != "" {
			return f.Content, nil
		}
	}
	ns := indexer.Namespace(user, conv)
	return artifacts.Content(r.Context(), s.deps.Index, ns, fileID)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sink == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "artifact storage is not configured")
		return
	}
	entry, ok := s.fileFor(w, r)
	if !ok {
		return
	}

	f, err := s.deps.Sink.File(r.Context(), auth.UserFrom(r.Context()), chi.URLParam(r, "conversationID"), entry.FileID)
	if err != nil {
		log.Error("Failed to read summary", "file_id", entry.FileID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read summary")
		return
	}
	if f == nil || f.Summary == "" {
		writeError(w, http.StatusNotFound, "not_ready", "summary is not available yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":    entry.FileID,
		"filename":   entry.Filename,
		"summary":    f.Summary,
		"updated_at": f.UpdatedAt,
	})
}

// decodeSettings reads optional generation settings from the body.
func decodeSettings(r *http.Request) (artifacts.Settings, error) {
	var s artifacts.Settings
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return s, err
		}
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s.Normalize(), nil
}

// prepareGeneration validates the request and loads the file text.
func (s *Server) prepareGeneration(w http.ResponseWriter, r *http.Request) (*manifest.Entry, string, artifacts.Settings, bool) {
	settings, err := decodeSettings(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, "", settings, false
	}
	entry, ok := s.fileFor(w, r)
	if !ok {
		return nil, "", settings, false
	}
	content, err := s.contentFor(r, entry.FileID)
	if err != nil {
		log.Error("Failed to load content", "file_id", entry.FileID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load file content")
		return nil, "", settings, false
	}
	if content == "" {
		writeError(w, http.StatusNotFound, "not_found", "no stored content for file")
		return nil, "", settings, false
	}
	return entry, content, settings, true
}

func (s *Server) saveArtifact(r *http.Request, a *artifacts.Artifact) {
	if s.deps.Sink == nil {
		return
	}
	if err := s.deps.Sink.SaveArtifact(r.Context(), a); err != nil {
		log.Warn("Failed to save artifact", "type", a.Type, "file_id", a.FileID, "error", err)
	}
}

func (s *Server) handleMindmap(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mindmap == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "mindmap generation is not configured")
		return
	}
	entry, content, settings, ok := s.prepareGeneration(w, r)
	if !ok {
		return
	}

	root, err := s.deps.Mindmap.Generate(r.Context(), content, settings)
	if err != nil {
		log.Error("Mindmap generation failed", "file_id", entry.FileID, "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed", "Failed to generate mindmap.")
		return
	}

	payload, err := json.Marshal(root)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to encode mindmap")
		return
	}
	a := &artifacts.Artifact{
		UserID:         auth.UserFrom(r.Context()),
		ConversationID: chi.URLParam(r, "conversationID"),
		FileID:         entry.FileID,
		Type:           artifacts.TypeMindmap,
		Name:           root.Name,
		Payload:        string(payload),
	}
	s.saveArtifact(r, a)

	writeJSON(w, http.StatusOK, map[string]any{
		"artifact_id": a.ID,
		"file_id":     entry.FileID,
		"settings":    settings,
		"mindmap":     root,
	})
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notes == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "note generation is not configured")
		return
	}
	entry, content, settings, ok := s.prepareGeneration(w, r)
	if !ok {
		return
	}

	note, err := s.deps.Notes.Generate(r.Context(), content, settings)
	if err != nil {
		log.Error("Note generation failed", "file_id", entry.FileID, "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed", "Failed to generate note.")
		return
	}

	a := &artifacts.Artifact{
		UserID:         auth.UserFrom(r.Context()),
		ConversationID: chi.URLParam(r, "conversationID"),
		FileID:         entry.FileID,
		Type:           artifacts.TypeNote,
		Name:           artifacts.NoteName(entry.Filename),
		Payload:        note,
	}
	s.saveArtifact(r, a)

	writeJSON(w, http.StatusOK, map[string]any{
		"artifact_id": a.ID,
		"file_id":     entry.FileID,
		"settings":    settings,
		"note":        note,
	})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sink == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "artifact storage is not configured")
		return
	}
	list, err := s.deps.Sink.Artifacts(r.Context(), auth.UserFrom(r.Context()), chi.URLParam(r, "conversationID"))
	if err != nil {
		log.Error("Failed to list artifacts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list artifacts")
		return
	}
	if list == nil {
		list = []artifacts.Artifact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": list})
}

func (s *Server) handleArtifactOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, artifacts.Options())
}

func ownsTask(t *tasks.Task, user string) bool {
	return t.Meta["user_id"] == user
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tasks": []tasks.Task{}})
		return
	}
	user := auth.UserFrom(r.Context())

	out := []tasks.Task{}
	for _, t := range s.deps.Tasks.List() {
		if ownsTask(&t, user) {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	t := s.deps.Tasks.Get(chi.URLParam(r, "taskID"))
	if t == nil || !ownsTask(t, auth.UserFrom(r.Context())) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
