package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/comigor/shelli-go/internal/conversation"
	"github.com/comigor/shelli-go/internal/logger"
	"github.com/comigor/shelli-go/internal/pipeline"
)

// DefaultSession is the session used when a request names none.
const DefaultSession = "default"

// Server is the thin HTTP front end: it relays streamed text to the
// client and never participates in telemetry itself.
type Server struct {
	pipe *pipeline.Pipeline
}

func New(pipe *pipeline.Pipeline) *Server {
	return &Server{pipe: pipe}
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("POST /reset", s.handleReset)
	return mux
}

func sessionOf(r *http.Request) string {
	if session := r.URL.Query().Get("session"); session != "" {
		return session
	}
	return DefaultSession
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, conversation.ErrInvalidRole):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	history, err := s.pipe.History(sessionOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"chat_history": history}); err != nil {
		logger.L.Error("encode history", "error", err)
	}
}

type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.pipe.SubmitUserMessage(sessionOf(r), req.Message, req.Model); err != nil {
		logger.L.Error("submit user message", "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"success":true}`)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// The request context withdraws interest when the client
	// disconnects, cancelling the pipeline.
	out, err := s.pipe.StartStream(r.Context(), sessionOf(r))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for fragment := range out {
		if fragment.Err != nil {
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", fragment.Err.Error())
			flusher.Flush()
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", fragment.Text)
		flusher.Flush()
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.Reset(sessionOf(r)); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"success":true}`)
}
