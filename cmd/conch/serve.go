package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/conchlabs/conch/backend/quickjs"
	"github.com/conchlabs/conch/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for session-based code execution",
	Long: `Start an HTTP server exposing sessions over REST.

Endpoints:
  POST   /execute                   Execute code (throwaway session)
  POST   /sessions                  Create session, returns {"session_id":"..."}
  GET    /sessions/{id}             Session state and prompt
  POST   /sessions/{id}/exec        Execute in session (state persists)
  POST   /sessions/{id}/interrupt   Interrupt the session
  GET    /sessions/{id}/complete    Completion candidates (?prefix=)
  DELETE /sessions/{id}             Close session
  GET    /health                    Health check`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "Default execution timeout")
	serveCmd.Flags().Duration("session-ttl", 15*time.Minute, "Idle session lifetime")
	rootCmd.AddCommand(serveCmd)
}

type sessionManager struct {
	eng    *quickjs.Engine
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*serverSession
	ttl      time.Duration
	stop     chan struct{}
}

type serverSession struct {
	sess     *session.Session
	lastUsed time.Time
}

func newSessionManager(eng *quickjs.Engine, ttl time.Duration, logger *slog.Logger) *sessionManager {
	sm := &sessionManager{
		eng:      eng,
		logger:   logger,
		sessions: make(map[string]*serverSession),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go sm.cleanup()
	return sm
}

func (sm *sessionManager) create(ctx context.Context, opts ...session.Option) (string, error) {
	sess := session.New(quickjs.New(sm.eng), opts...)
	if err := sess.Init(ctx); err != nil {
		sess.Close()
		return "", err
	}

	sm.mu.Lock()
	sm.sessions[sess.ID()] = &serverSession{
		sess:     sess,
		lastUsed: time.Now(),
	}
	sm.mu.Unlock()

	sm.logger.Info("session created", "session", sess.ID(), "backend", sess.Backend())
	return sess.ID(), nil
}

func (sm *sessionManager) get(id string) (*session.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ss, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	ss.lastUsed = time.Now()
	return ss.sess, true
}

func (sm *sessionManager) close(id string) bool {
	sm.mu.Lock()
	ss, ok := sm.sessions[id]
	if ok {
		ss.sess.Close()
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if ok {
		sm.logger.Info("session closed", "session", id)
	}
	return ok
}

func (sm *sessionManager) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
			sm.mu.Lock()
			now := time.Now()
			for id, ss := range sm.sessions {
				if now.Sub(ss.lastUsed) > sm.ttl {
					ss.sess.Close()
					delete(sm.sessions, id)
					sm.logger.Info("session expired", "session", id)
				}
			}
			sm.mu.Unlock()
		}
	}
}

func (sm *sessionManager) closeAll() {
	close(sm.stop)
	sm.mu.Lock()
	for id, ss := range sm.sessions {
		ss.sess.Close()
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
}

type execRequest struct {
	Code    string `json:"code"`
	Timeout string `json:"timeout,omitempty"`
}

type execResponse struct {
	Output     string `json:"output"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type sessionStateResponse struct {
	State  string `json:"state"`
	Prompt string `json:"prompt"`
}

type completionsResponse struct {
	Candidates []string `json:"candidates"`
}

type server struct {
	sessions *sessionManager
	timeout  time.Duration
	logger   *slog.Logger
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		id, err := s.sessions.create(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, createSessionResponse{SessionID: id})
	})

	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.get(r.PathValue("id"))
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, sessionStateResponse{
			State:  sess.State().String(),
			Prompt: sess.Prompt(),
		})
	})

	mux.HandleFunc("POST /sessions/{id}/exec", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.get(r.PathValue("id"))
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		req, ok := decodeExec(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.execTimeout(req))
		defer cancel()

		cycle, err := sess.Run(req.Code)
		if err != nil {
			if err == session.ErrSessionBusy {
				http.Error(w, "session busy", http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		result, err := cycle.Wait(ctx)
		if err != nil {
			sess.Interrupt()
			result = cycle.Result()
			result.Err = err
		}
		writeJSON(w, toExecResponse(result))
	})

	mux.HandleFunc("POST /sessions/{id}/interrupt", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.get(r.PathValue("id"))
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		sess.Interrupt()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /sessions/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.get(r.PathValue("id"))
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		cands, err := sess.Completions(r.Context(), r.URL.Query().Get("prefix"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, completionsResponse{Candidates: cands})
	})

	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if s.sessions.close(r.PathValue("id")) {
			w.WriteHeader(http.StatusNoContent)
		} else {
			http.Error(w, "session not found", http.StatusNotFound)
		}
	})

	mux.HandleFunc("POST /execute", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeExec(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.execTimeout(req))
		defer cancel()

		sess := session.New(quickjs.New(s.sessions.eng))
		defer sess.Close()

		if err := sess.Init(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		cycle, err := sess.Run(req.Code)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		result, err := cycle.Wait(ctx)
		if err != nil {
			result = cycle.Result()
			result.Err = err
		}
		writeJSON(w, toExecResponse(result))
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

func (s *server) execTimeout(req execRequest) time.Duration {
	if req.Timeout != "" {
		if d, err := time.ParseDuration(req.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return s.timeout
}

func decodeExec(w http.ResponseWriter, r *http.Request) (execRequest, bool) {
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return req, false
	}
	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func toExecResponse(result session.Result) execResponse {
	resp := execResponse{
		Output:     result.Output,
		ExitCode:   result.ExitCode,
		DurationMs: result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func runServe(cmd *cobra.Command, args []string) {
	port, _ := cmd.Flags().GetInt("port")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ttl, _ := cmd.Flags().GetDuration("session-ttl")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	eng, err := newEngine(cmd)
	if err != nil {
		fatalf("%v", err)
	}
	defer eng.Close()

	sessions := newSessionManager(eng, ttl, logger)
	defer sessions.closeAll()

	srv := &server{
		sessions: sessions,
		timeout:  timeout,
		logger:   logger,
	}

	addr := fmt.Sprintf(":%d", port)
	logger.Info("conch server listening", "addr", addr)
	if err := http.ListenAndServe(addr, srv.handler()); err != nil {
		fatalf("%v", err)
	}
}
