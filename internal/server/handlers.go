package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/andresmejia3/idgate/internal/audit"
	"github.com/andresmejia3/idgate/internal/auth"
	"github.com/andresmejia3/idgate/internal/signedurl"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "Missing user")
		return
	}
	tok, err := s.opts.Auth.Issue(user)
	if err != nil {
		s.opts.Logger.Error("token issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// Fields is the demo identity payload.
type Fields struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	DateOfBirth    string `json:"dateOfBirth"`
	Expires        string `json:"expires"`
	DocumentNumber string `json:"documentNumber"`
}

// Liveness flags of the demo result.
type Liveness struct {
	GlareDetected         bool   `json:"glareDetected"`
	IsScreenshotSuspected bool   `json:"isScreenshotSuspected"`
	FrameQuality          string `json:"frameQuality"`
}

// VerifyResult is the mock verification response.
type VerifyResult struct {
	DocumentType string    `json:"documentType"`
	Country      string    `json:"country"`
	Fields       Fields    `json:"fields"`
	Liveness     Liveness  `json:"liveness"`
	Confidence   float64   `json:"confidence"`
	ProcessedAt  time.Time `json:"processedAt"`
}

// DemoResult derives a deterministic mock result from the upload size.
func DemoResult(size int64, now time.Time) VerifyResult {
	kb := size / 1024
	conf := min(max(0.78+float64(kb%11)*0.01, 0.78), 0.95)
	quality := "good"
	if kb%5 == 0 {
		quality = "medium"
	}
	return VerifyResult{
		DocumentType: "ID",
		Country:      "RS",
		Fields: Fields{
			FirstName:      "Miljan",
			LastName:       "Janković",
			DateOfBirth:    "1990-06-12",
			Expires:        "2030-06-12",
			DocumentNumber: fmt.Sprintf("RS-%d", 100000+kb%900000),
		},
		Liveness: Liveness{
			GlareDetected:         kb%3 == 0,
			IsScreenshotSuspected: kb%7 == 0,
			FrameQuality:          quality,
		},
		Confidence:  conf,
		ProcessedAt: now.UTC(),
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Expected multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil || header.Size == 0 {
		writeError(w, http.StatusBadRequest, "Missing image file (field name 'image')")
		return
	}
	file.Close()

	if d := s.opts.VerifyLatency; d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	result := DemoResult(header.Size, s.opts.Now())
	id := result.Fields.DocumentNumber

	if s.opts.Queue != nil && s.opts.Jobs != nil {
		if err := s.opts.Queue.Enqueue(s.opts.Jobs.Reverify(id)); err != nil {
			s.opts.Logger.Warn("reverify not queued", "doc", id, "error", err)
		}
	}

	e := audit.NewEvent(auth.User(r.Context()), "Verify", "doc="+id)
	ms := float64(time.Since(start).Microseconds()) / 1000
	e.DurationMs = &ms
	s.opts.Audit.Write(e)

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if p := r.Header.Get("X-Forwarded-Proto"); p == "https" {
		scheme = p
	}
	g, err := s.opts.Signer.Issue(scheme + "://" + r.Host + "/api/upload")
	if err != nil {
		s.opts.Logger.Error("upload url failed", "error", err)
		writeError(w, http.StatusInternalServerError, "upload url failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": g.URL, "method": g.Method, "expiresAt": g.ExpiresAt})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	err := s.opts.Signer.Verify(key, q.Get("exp"), q.Get("sig"))
	switch {
	case errors.Is(err, signedurl.ErrMissingParams), errors.Is(err, signedurl.ErrInvalidExpiry):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, signedurl.ErrExpired):
		w.WriteHeader(http.StatusGone)
		return
	case err != nil:
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	n, err := io.Copy(io.Discard, http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
		return
	}
	s.opts.Logger.Info("received upload", "key", key, "bytes", n)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stored": false, "bytes": n})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	take := 100
	if v := r.URL.Query().Get("take"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid take")
			return
		}
		take = n
	}
	take = min(max(take, 1), 500)
	writeJSON(w, http.StatusOK, map[string]any{
		"count": s.opts.Audit.Count(),
		"items": s.opts.Audit.Read(take),
	})
}
