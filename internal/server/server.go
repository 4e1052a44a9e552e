// Package server exposes the HTTP/SSE API surface of spec.md §4.F over
// this module's conversation/dispatch/agentloop stack. Grounded on
// Dhanuzh-dcode's internal/server/server.go (route table, SSE framing,
// CORS middleware), adapted from its *session.Store/*tool.Registry
// singleton pair onto a server-owned map of *conversation.Conversation
// and the new registry.Registry/dispatch.Harness types.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/core/internal/agentloop"
	"github.com/agentcore/core/internal/compactor"
	"github.com/agentcore/core/internal/config"
	"github.com/agentcore/core/internal/conversation"
	"github.com/agentcore/core/internal/dispatch"
	"github.com/agentcore/core/internal/logging"
	"github.com/agentcore/core/internal/modelclient"
	"github.com/agentcore/core/internal/provider"
	"github.com/agentcore/core/internal/registry"
)

// noopAppState satisfies permission.AppState for server-driven turns,
// which have no interactive input-substitution surface.
type noopAppState struct{}

func (noopAppState) InputSubstitution(string, map[string]any) (map[string]any, bool) {
	return nil, false
}

// sessionEntry bundles a conversation with the agent loop driving it.
type sessionEntry struct {
	conv *conversation.Conversation
	loop *agentloop.Loop
}

// Server is the HTTP API server of §4.F, fronting one registry.Registry
// and dispatch.Harness shared across every session it serves.
type Server struct {
	config   *config.Config
	log      logging.Logger
	reg      *registry.Registry
	harness  *dispatch.Harness
	workDir  string

	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	mux    *http.ServeMux
	server *http.Server
}

// New creates a new API server wired against reg/harness, shared by
// every conversation it creates.
func New(cfg *config.Config, log logging.Logger, reg *registry.Registry, harness *dispatch.Harness, workDir string) *Server {
	s := &Server{
		config:   cfg,
		log:      log,
		reg:      reg,
		harness:  harness,
		workDir:  workDir,
		sessions: make(map[string]*sessionEntry),
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	port := s.config.Server.Port
	if port == 0 {
		port = 4096
	}
	hostname := s.config.Server.Hostname
	if hostname == "" {
		hostname = "localhost"
	}

	addr := fmt.Sprintf("%s:%d", hostname, port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.corsMiddleware(s.mux),
	}

	s.log.Info().Str("addr", addr).Msg("api server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /info", s.handleInfo)

	s.mux.HandleFunc("GET /session", s.handleListSessions)
	s.mux.HandleFunc("POST /session", s.handleCreateSession)
	s.mux.HandleFunc("GET /session/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /session/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /session/{id}/messages", s.handleGetMessages)
	s.mux.HandleFunc("POST /session/{id}/prompt", s.handlePrompt)

	s.mux.HandleFunc("GET /tool", s.handleListTools)
	s.mux.HandleFunc("GET /provider", s.handleListProviders)
	s.mux.HandleFunc("GET /config", s.handleGetConfig)
	s.mux.HandleFunc("GET /events", s.handleSSE)
	s.mux.HandleFunc("GET /project", s.handleProjectInfo)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"provider": s.config.Provider,
		"model":    s.config.GetDefaultModel(s.config.Provider),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]map[string]any, 0, len(s.sessions))
	for id, e := range s.sessions {
		summaries = append(summaries, map[string]any{
			"id":         id,
			"title":      e.conv.Title(),
			"model":      e.conv.Model(),
			"state":      e.conv.State(),
			"tokens":     e.conv.TokenCount(),
			"created_at": e.conv.CreatedAt(),
		})
	}
	writeJSON(w, summaries)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string `json:"model"`
		Provider string `json:"provider"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Provider == "" {
		req.Provider = s.config.Provider
	}
	if req.Model == "" {
		req.Model = s.config.GetDefaultModel(req.Provider)
	}

	entry, err := s.newSession(req.Provider, req.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.sessions[entry.conv.ID()] = entry
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"id": entry.conv.ID(), "model": entry.conv.Model()})
}

func (s *Server) newSession(providerName, model string) (*sessionEntry, error) {
	apiKey, err := config.GetAPIKeyWithFallback(providerName, s.config)
	if err != nil {
		return nil, err
	}
	prov, err := provider.CreateProvider(providerName, apiKey)
	if err != nil {
		return nil, err
	}
	conv := conversation.New(model)
	client := modelclient.New(prov, s.config.MaxTokens, "")
	loop := agentloop.New(conv, client, s.harness, compactor.DefaultConfig(), noopSink{})
	loop.ProviderName = providerName
	loop.TitleHook = titleHook(prov, s.config, conv)
	return &sessionEntry{conv: conv, loop: loop}, nil
}

// titleHook builds agentloop's optional post-turn title generator,
// grounded on Dhanuzh-dcode's session/prompt.go generateTitle: a single
// small-model call summarising the opening exchange into 4-6 words. Runs
// in its own goroutine so it never blocks handlePrompt's SSE response.
func titleHook(prov provider.Provider, cfg *config.Config, conv *conversation.Conversation) func(userInput, assistantText string) {
	return func(userInput, assistantText string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			exchange := fmt.Sprintf("User: %s\n\nAssistant: %s", userInput, assistantText)
			if len(exchange) > 1000 {
				exchange = exchange[:1000] + "..."
			}
			req := &provider.MessageRequest{
				Model:       cfg.GetSmallModel(),
				Messages:    []provider.Message{{Role: "user", Content: exchange}},
				MaxTokens:   20,
				Temperature: 0.5,
				System:      "Summarise the following conversation in 4-6 words as a session title. Reply with ONLY the title, no punctuation.",
			}
			resp, err := prov.CreateMessage(ctx, req)
			if err != nil {
				return
			}
			title := extractText(resp.Content)
			title = strings.Trim(strings.TrimSpace(title), `"'`)
			if len(title) > 60 {
				title = title[:57] + "..."
			}
			if title != "" {
				conv.SetTitle(title)
			}
		}()
	}
}

func extractText(blocks []provider.ContentBlock) string {
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (s *Server) getSession(id string) (*sessionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := s.getSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	writeJSON(w, map[string]any{"id": id, "title": e.conv.Title(), "model": e.conv.Model(), "state": e.conv.State()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := s.getSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	writeJSON(w, e.conv.Messages())
}

// sseSink streams agentloop events to an SSE connection, grounded on
// the teacher's OnStream callback wired to an http.Flusher.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      *sync.Mutex
}

func (s sseSink) TextDelta(text string) {
	s.write(map[string]any{"type": "text_delta", "text": text})
}
func (s sseSink) ToolProgress(toolUseID string, data map[string]any) {
	s.write(map[string]any{"type": "tool_progress", "tool_use_id": toolUseID, "data": data})
}
func (s sseSink) TurnComplete() {
	s.write(map[string]any{"type": "done"})
}

func (s sseSink) write(event map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(event)
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
}

type noopSink struct{}

func (noopSink) TextDelta(string)                    {}
func (noopSink) ToolProgress(string, map[string]any) {}
func (noopSink) TurnComplete()                       {}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	e, ok := s.getSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sink := sseSink{w: w, flusher: flusher, mu: &sync.Mutex{}}
	e.loop.Sink = sink
	defer func() { e.loop.Sink = noopSink{} }()

	ec := registry.ExecContext{SessionID: id, WorkDir: s.workDir, ToolContext: r.Context()}
	if err := e.loop.RunTurn(r.Context(), req.Message, ec, noopAppState{}, s.reg.DescribeAll(), e.conv.Model()); err != nil {
		sink.write(map[string]any{"type": "error", "message": err.Error()})
	}
	s.log.Debug().
		Str("session", id).
		Int("input_tokens", e.loop.LastStepTokens.InputTokens).
		Int("output_tokens", e.loop.LastStepTokens.OutputTokens).
		Float64("estimated_cost_usd", e.loop.LastStepTokens.EstimatedCostUSD).
		Msg("turn token usage")
	sink.write(map[string]any{"type": "done"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.reg.DescribeAll())
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.config.ListAvailableProviders())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"provider": s.config.Provider,
		"model":    s.config.GetDefaultModel(s.config.Provider),
	})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleProjectInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"directory": s.workDir})
}

// Helper functions

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
