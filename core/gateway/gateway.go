// Package gateway is the HTTP surface over the lifecycle manager: format
// listing, download requests and file serving by session id.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cordum/mediadrop/core/artifact"
	"github.com/cordum/mediadrop/core/infra/logging"
	"github.com/cordum/mediadrop/core/infra/metrics"
	"github.com/cordum/mediadrop/core/lifecycle"
)

const (
	maxRequestBytes = 16 << 10
	shutdownTimeout = 10 * time.Second
)

// Service is the part of the lifecycle manager the gateway calls.
type Service interface {
	Fetch(ctx context.Context, source, format string) (lifecycle.Result, error)
	Metadata(ctx context.Context, source string) (artifact.Metadata, error)
	ServeLink(ctx context.Context, id string) (lifecycle.Link, error)
}

type Server struct {
	svc     Service
	metrics metrics.GatewayMetrics
	now     func() time.Time
}

func New(svc Service, m metrics.GatewayMetrics) *Server {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Server{svc: svc, metrics: m, now: time.Now}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /api/v1/formats", s.instrumented("/api/v1/formats", s.handleFormats))
	mux.HandleFunc("POST /api/v1/download", s.instrumented("/api/v1/download", s.handleDownload))
	mux.HandleFunc("GET /files/{id}", s.instrumented("/files/{id}", s.handleFile))
	return mux
}

type formatsRequest struct {
	URL string `json:"url"`
}

type downloadRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

type downloadResponse struct {
	SessionID   string    `json:"session_id"`
	Filename    string    `json:"filename"`
	Storage     string    `json:"storage"`
	DownloadURL string    `json:"download_url"`
	Cached      bool      `json:"cached"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int64     `json:"expires_in"`
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	var req formatsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		http.Error(w, "url required", http.StatusBadRequest)
		return
	}
	md, err := s.svc.Metadata(r.Context(), req.URL)
	if err != nil {
		logging.Error("gateway", "format listing failed", "url", req.URL, "error", err)
		http.Error(w, "failed to fetch formats", http.StatusBadGateway)
		return
	}
	if len(md.Formats) == 0 {
		http.Error(w, "no formats found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	req.Format = strings.TrimSpace(req.Format)
	if req.URL == "" || req.Format == "" {
		http.Error(w, "url and format required", http.StatusBadRequest)
		return
	}
	res, err := s.svc.Fetch(r.Context(), req.URL, req.Format)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, lifecycle.ErrDraining):
			status = http.StatusServiceUnavailable
		case errors.Is(err, lifecycle.ErrDownload):
			status = http.StatusBadGateway
		}
		logging.Error("gateway", "download failed", "url", req.URL, "format", req.Format, "error", err)
		http.Error(w, "download failed", status)
		return
	}
	expiresIn := int64(res.ExpiresAt.Sub(s.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	writeJSON(w, http.StatusOK, downloadResponse{
		SessionID:   res.SessionID,
		Filename:    res.Descriptor.Filename,
		Storage:     string(res.Descriptor.Kind),
		DownloadURL: "/files/" + res.SessionID,
		Cached:      res.Cached,
		ExpiresAt:   res.ExpiresAt,
		ExpiresIn:   expiresIn,
	})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if !lifecycle.ValidID(id) {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	link, err := s.svc.ServeLink(r.Context(), id)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) || errors.Is(err, lifecycle.ErrUnavailable) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		logging.Error("gateway", "serve file failed", "session", id, "error", err)
		http.Error(w, "failed to serve file", http.StatusInternalServerError)
		return
	}
	if link.RedirectURL != "" {
		http.Redirect(w, r, link.RedirectURL, http.StatusFound)
		return
	}
	f, err := os.Open(link.FilePath)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		logging.Error("gateway", "stat file failed", "session", id, "error", err)
		http.Error(w, "failed to serve file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": link.Filename}))
	http.ServeContent(w, r, link.Filename, info.ModTime(), f)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// the server down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway", "http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
