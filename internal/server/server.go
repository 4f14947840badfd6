// Package server exposes the demo verification backend over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/andresmejia3/idgate/internal/audit"
	"github.com/andresmejia3/idgate/internal/auth"
	"github.com/andresmejia3/idgate/internal/jobs"
	"github.com/andresmejia3/idgate/internal/signedurl"
	"github.com/andresmejia3/idgate/internal/utils"
)

// Options wires the server's collaborators.
type Options struct {
	Auth           *auth.Issuer
	Signer         *signedurl.Signer
	Audit          audit.Log
	Queue          *jobs.Queue
	Jobs           *jobs.Verification
	Logger         *slog.Logger
	MaxUploadBytes int64
	AllowedOrigins []string
	VerifyLatency  time.Duration // simulated inference time
	Now            func() time.Time
}

type Server struct {
	opts   Options
	router *mux.Router
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = utils.DiscardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	s := &Server{opts: opts, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/token", s.handleToken).Methods("GET")
	api.HandleFunc("/upload", s.handleUpload).Methods("PUT")

	protect := s.opts.Auth.Middleware
	api.Handle("/verify", protect(http.HandlerFunc(s.handleVerify))).Methods("POST")
	api.Handle("/upload-url", protect(http.HandlerFunc(s.handleUploadURL))).Methods("GET")
	api.Handle("/audit", protect(http.HandlerFunc(s.handleAudit))).Methods("GET")
}

// Handler returns the router behind the CORS policy.
func (s *Server) Handler() http.Handler {
	return cors(s.opts.AllowedOrigins, s.router)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// cors allows the listed origins, answering preflight requests itself.
func cors(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
					h.Set("Access-Control-Allow-Headers", req)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
