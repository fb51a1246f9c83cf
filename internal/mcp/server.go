package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/manifest"
	"github.com/nickcecere/docchat/internal/search"
)

const (
	// MCPVersion is the protocol version we support.
	MCPVersion = "2024-11-05"

	// ServerName is the name of this MCP server.
	ServerName = "docchat"
)

// Documents is the document store the tools operate on.
type Documents interface {
	IngestFile(ctx context.Context, userID, conversationID, path string) (*indexer.Receipt, error)
	Files(ctx context.Context, userID, conversationID string) ([]manifest.Entry, error)
	Remove(ctx context.Context, userID, conversationID, fileID string) (bool, error)
}

// Querier answers questions.
type Querier interface {
	Query(ctx context.Context, req search.Request) (*search.Answer, error)
}

// Options configures a Server.
type Options struct {
	UserID string

	// ConversationID is used when a tool call does not name one.
	ConversationID string

	Version string

	// In and Out default to stdin and stdout.
	In  io.Reader
	Out io.Writer
}

// Server is the MCP server for docchat.
type Server struct {
	docs    Documents
	querier Querier
	opts    Options

	reader *bufio.Reader
	writer io.Writer

	initialized bool
}

// NewServer creates a new MCP server.
func NewServer(docs Documents, q Querier, opts Options) *Server {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		docs:    docs,
		querier: q,
		opts:    opts,
		reader:  bufio.NewReader(opts.In),
		writer:  opts.Out,
	}
}

// Run processes requests until the input ends or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Info("MCP server starting", "conversation", s.opts.ConversationID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				log.Info("MCP server received EOF, shutting down")
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.sendError(nil, ErrorCodeParse, "Parse error", err.Error())
			continue
		}
		if req.JSONRPC != "2.0" {
			s.sendError(req.ID, ErrorCodeInvalidRequest, "Invalid request", "jsonrpc must be 2.0")
			continue
		}

		s.handleRequest(ctx, req)
	}
}

// handleRequest processes a single MCP request.
func (s *Server) handleRequest(ctx context.Context, req Request) {
	log.Debug("Received request", "method", req.Method, "id", req.ID)

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized":
		s.initialized = true
		log.Info("MCP server initialized")
		return
	case "tools/list":
		result = &ListToolsResult{Tools: tools()}
	case "tools/call":
		result, err = s.handleCallTool(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		if req.ID == nil {
			// Unknown notifications are ignored
			return
		}
		s.sendError(req.ID, ErrorCodeMethodNotFound, "Method not found", req.Method)
		return
	}

	if err != nil {
		s.sendError(req.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
		return
	}

	s.sendResult(req.ID, result)
}

// handleInitialize handles the initialize request.
func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, error) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	log.Info("Initializing MCP server",
		"clientName", p.ClientInfo.Name,
		"clientVersion", p.ClientInfo.Version,
		"protocolVersion", p.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: s.opts.Version,
		},
		Instructions: "Use ask_documents to answer questions from the user's PDF documents. " +
			"Call list_files first to learn which documents and file ids exist.",
	}, nil
}

// tools returns the fixed tool list.
func tools() []Tool {
	conversation := Property{
		Type:        "string",
		Description: "Conversation to use (default: the one the server was started with)",
	}

	return []Tool{
		{
			Name:        "ask_documents",
			Description: "Answer a question from the ingested PDF documents, citing the files used.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"question": {
						Type:        "string",
						Description: "The question in natural language",
					},
					"file_ids": {
						Type:        "array",
						Description: "Restrict the search to these file ids",
						Items:       &Property{Type: "string"},
					},
					"k": {
						Type:        "number",
						Description: "Number of chunks to retrieve",
					},
					"conversation": conversation,
				},
				Required: []string{"question"},
			},
		},
		{
			Name:        "list_files",
			Description: "List the documents in a conversation with their file ids.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"conversation": conversation,
				},
			},
		},
		{
			Name:        "ingest_document",
			Description: "Ingest a local PDF so it can be asked about.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"path": {
						Type:        "string",
						Description: "Path of the PDF file",
					},
					"conversation": conversation,
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        "remove_file",
			Description: "Remove a document and everything derived from it.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"file_id": {
						Type:        "string",
						Description: "The file id as shown by list_files",
					},
					"conversation": conversation,
				},
				Required: []string{"file_id"},
			},
		},
	}
}

type askArgs struct {
	Question     string   `json:"question"`
	FileIDs      []string `json:"file_ids"`
	K            int      `json:"k"`
	Conversation string   `json:"conversation"`
}

type listArgs struct {
	Conversation string `json:"conversation"`
}

type ingestArgs struct {
	Path         string `json:"path"`
	Conversation string `json:"conversation"`
}

type removeArgs struct {
	FileID       string `json:"file_id"`
	Conversation string `json:"conversation"`
}

// handleCallTool executes a tool. Unknown tools and tool failures are
// reported in the result; only undecodable params are protocol errors.
func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if len(p.Arguments) == 0 {
		p.Arguments = json.RawMessage("{}")
	}

	log.Debug("Calling tool", "name", p.Name, "arguments", string(p.Arguments))

	switch p.Name {
	case "ask_documents":
		var args askArgs
		if err := json.Unmarshal(p.Arguments, &args); err != nil {
			return textResult("Error: invalid arguments: "+err.Error(), true), nil
		}
		return s.toolAsk(ctx, args), nil
	case "list_files":
		var args listArgs
		if err := json.Unmarshal(p.Arguments, &args); err != nil {
			return textResult("Error: invalid arguments: "+err.Error(), true), nil
		}
		return s.toolList(ctx, args), nil
	case "ingest_document":
		var args ingestArgs
		if err := json.Unmarshal(p.Arguments, &args); err != nil {
			return textResult("Error: invalid arguments: "+err.Error(), true), nil
		}
		return s.toolIngest(ctx, args), nil
	case "remove_file":
		var args removeArgs
		if err := json.Unmarshal(p.Arguments, &args); err != nil {
			return textResult("Error: invalid arguments: "+err.Error(), true), nil
		}
		return s.toolRemove(ctx, args), nil
	default:
		return textResult(fmt.Sprintf("Unknown tool: %s", p.Name), true), nil
	}
}

func (s *Server) conversation(name string) string {
	if name != "" {
		return name
	}
	return s.opts.ConversationID
}

// toolAsk answers a question with its sources.
func (s *Server) toolAsk(ctx context.Context, args askArgs) *CallToolResult {
	if strings.TrimSpace(args.Question) == "" {
		return textResult("Error: question is required", true)
	}

	answer, err := s.querier.Query(ctx, search.Request{
		Namespace: indexer.Namespace(s.opts.UserID, s.conversation(args.Conversation)),
		Query:     args.Question,
		K:         args.K,
		FileIDs:   args.FileIDs,
	})
	if err != nil {
		return textResult(fmt.Sprintf("Error: query failed: %v", err), true)
	}

	var sb strings.Builder
	sb.WriteString(answer.Answer)

	if len(answer.FileOrder) > 0 {
		sb.WriteString("\n\nSources:\n")
		for i, fileID := range answer.FileOrder {
			src := answer.SourcesByFile[fileID]
			if src == nil {
				continue
			}
			chunks := make([]string, len(src.Chunks))
			for j, c := range src.Chunks {
				chunks[j] = fmt.Sprintf("#%d", c.ChunkIndex)
			}
			fmt.Fprintf(&sb, "[%d] %s (file_id %s, chunks %s)\n",
				i+1, src.Filename, fileID, strings.Join(chunks, ", "))
		}
	}

	return textResult(sb.String(), answer.State == search.StateFailed)
}

// toolList lists the documents of a conversation.
func (s *Server) toolList(ctx context.Context, args listArgs) *CallToolResult {
	conv := s.conversation(args.Conversation)
	entries, err := s.docs.Files(ctx, s.opts.UserID, conv)
	if err != nil {
		return textResult(fmt.Sprintf("Error: failed to list files: %v", err), true)
	}
	if len(entries) == 0 {
		return textResult(fmt.Sprintf("No documents in conversation %q.", conv), false)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d documents in conversation %q:\n\n", len(entries), conv)
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s (file_id %s, %d chunks)\n", e.Filename, e.FileID, e.ChunkCount)
	}
	return textResult(sb.String(), false)
}

// toolIngest ingests a local PDF.
func (s *Server) toolIngest(ctx context.Context, args ingestArgs) *CallToolResult {
	if args.Path == "" {
		return textResult("Error: path is required", true)
	}

	receipt, err := s.docs.IngestFile(ctx, s.opts.UserID, s.conversation(args.Conversation), args.Path)
	if err != nil {
		return textResult(fmt.Sprintf("Error: failed to ingest %s: %v", args.Path, err), true)
	}

	return textResult(fmt.Sprintf("Ingested %s as file_id %s: %d pages, %d chunks",
		receipt.Filename, receipt.FileID, receipt.Pages, receipt.Chunks), false)
}

// toolRemove removes a document.
func (s *Server) toolRemove(ctx context.Context, args removeArgs) *CallToolResult {
	if args.FileID == "" {
		return textResult("Error: file_id is required", true)
	}

	removed, err := s.docs.Remove(ctx, s.opts.UserID, s.conversation(args.Conversation), args.FileID)
	if err != nil {
		return textResult(fmt.Sprintf("Error: failed to remove file: %v", err), true)
	}
	if !removed {
		return textResult(fmt.Sprintf("No chunks found for file_id %s.", args.FileID), false)
	}
	return textResult(fmt.Sprintf("Removed file_id %s.", args.FileID), false)
}

// sendResult sends a successful response.
func (s *Server) sendResult(id any, result any) {
	s.send(Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// sendError sends an error response.
func (s *Server) sendError(id any, code int, message, data string) {
	s.send(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

// send writes one response line.
func (s *Server) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to marshal response", "error", err)
		return
	}
	fmt.Fprintln(s.writer, string(data))
}
