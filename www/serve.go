// Package www serves the credential and transcription endpoints the
// listener talks to, so provider keys stay out of the client.
package www

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"node.town/murmur/stt"
)

type Config struct {
	Addr             string
	CompletionAPIKey string
	DeepgramAPIKey   string
	DeepgramBaseURL  string
	DeepgramModel    string
	HTTPClient       *http.Client

	// MaxUploadBytes caps a recording posted to /api/deepgram.
	MaxUploadBytes int64
}

const DefaultMaxUploadBytes = 64 << 20

type Server struct {
	cfg    Config
	logger *log.Logger
	router *chi.Mux
}

func NewServer(cfg Config, logger *log.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logAdapter{logger},
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoutes)
	r.Route("/api", func(r chi.Router) {
		r.Get("/groq", s.handleCompletionKey)
		r.Post("/deepgram", s.handleTranscribe)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listen", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	err := chi.Walk(
		s.router,
		func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			_, err := fmt.Fprintf(w, "%-6s %s\n", method, route)
			return err
		},
	)
	if err != nil {
		s.logger.Error("walk routes", "error", err)
	}
}

// handleCompletionKey hands the completion provider key to the listener.
// Keys may rotate, so the response must not be cached.
func (s *Server) handleCompletionKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	if s.cfg.CompletionAPIKey == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "completion key not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"apiKey": s.cfg.CompletionAPIKey})
}

// handleTranscribe relays a recording to Deepgram's prerecorded endpoint and
// returns the provider response unchanged.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DeepgramAPIKey == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "deepgram key not configured")
		return
	}

	model := r.URL.Query().Get("model")
	if model == "" {
		model = s.cfg.DeepgramModel
	}
	client := &stt.BatchClient{
		URL:        stt.DeepgramBatchURL(s.cfg.DeepgramBaseURL, model),
		Token:      s.cfg.DeepgramAPIKey,
		HTTPClient: s.cfg.HTTPClient,
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if r.ContentLength > s.cfg.MaxUploadBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "recording too large")
		return
	}
	recording, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "recording too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := client.Transcribe(r.Context(), bytes.NewReader(recording), contentType)
	if err != nil {
		s.logger.Error("transcribe", "error", err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.logger.Debug("transcribed", "text", result.Transcript())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Raw)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// logAdapter lets chi's request logger print through charmbracelet/log.
type logAdapter struct {
	logger *log.Logger
}

func (a logAdapter) Print(v ...interface{}) {
	a.logger.Info(strings.TrimSpace(fmt.Sprint(v...)))
}
