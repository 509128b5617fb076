package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
)

// keepAliveInterval is how often the event stream emits an SSE comment so
// proxies and clients do not drop an idle connection.
const keepAliveInterval = 15 * time.Second

// Server exposes the watched report over HTTP: a JSON snapshot endpoint
// and a server-sent-events stream of change notifications.
type Server struct {
	watcher *Watcher
	logger  hclog.Logger
}

// NewServer wraps a started watcher. A nil logger disables logging.
func NewServer(watcher *Watcher, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{watcher: watcher, logger: logger}
}

// Handler returns the route table for the viewer API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/report", s.handleReport)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

// ListenAndServe runs the server until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving report viewer", "addr", addr, "report", s.watcher.Path())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type reportPayload struct {
	Path    string `json:"path"`
	Exists  bool   `json:"exists"`
	Content string `json:"content"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	payload := reportPayload{Path: s.watcher.Path()}
	data, err := os.ReadFile(s.watcher.Path())
	switch {
	case err == nil:
		payload.Exists = true
		payload.Content = string(data)
	case errors.Is(err, os.ErrNotExist):
		// Report not generated yet; serve the empty payload.
	default:
		s.logger.Error("reading report", "error", err)
		http.Error(w, "could not read report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("writing report payload", "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.watcher.Subscribe()
	defer cancel()

	s.logger.Debug("viewer connected", "remote", r.RemoteAddr)
	defer s.logger.Debug("viewer disconnected", "remote", r.RemoteAddr)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encoding event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
