// Package server exposes a metastore backend over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/metastore/pkg/diff"
	"github.com/odvcencio/metastore/pkg/logging"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/metrics"
)

// DefaultMaxBodySize caps request bodies.
const DefaultMaxBodySize = 10 << 20

// Server serves the object API.
type Server struct {
	backend     metastore.Backend
	maxBodySize int64
	version     string
}

// NewServer creates a server for b.
func NewServer(b metastore.Backend, version string) *Server {
	return &Server{backend: b, maxBodySize: DefaultMaxBodySize, version: version}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /objects", s.handleCreate)
	mux.HandleFunc("GET /objects/{id...}", s.handleFetch)
	mux.HandleFunc("PATCH /objects/{id...}", s.handleUpdate)
	mux.HandleFunc("DELETE /objects/{id...}", s.handleDelete)
	mux.HandleFunc("GET /diff/{id...}", s.handleDiff)

	return metrics.Middleware(logging.Middleware(mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	logging.L().Info("server listening", zap.String("addr", ln.Addr().String()), zap.String("backend", s.backend.Name()))
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type createRequest struct {
	ObjectID    string            `json:"objectId"`
	Metadata    json.RawMessage   `json:"metadata"`
	Author      *metastore.Author `json:"author,omitempty"`
	Message     string            `json:"message,omitempty"`
	Description string            `json:"description,omitempty"`
	ReadMe      *string           `json:"readme,omitempty"`
}

type updateRequest struct {
	Metadata json.RawMessage   `json:"metadata"`
	Author   *metastore.Author `json:"author,omitempty"`
	Branch   string            `json:"branch,omitempty"`
	Message  string            `json:"message,omitempty"`
	ReadMe   *string           `json:"readme,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": s.backend.Name(),
		"version": s.version,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := s.decode(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}
	md, err := decodeMetadata(req.Metadata)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	info, err := s.backend.Create(r.Context(), req.ObjectID, md, metastore.CreateOptions{
		Author:      req.Author,
		Message:     req.Message,
		Description: req.Description,
		ReadMe:      req.ReadMe,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, info)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	info, err := s.backend.Fetch(r.Context(), r.PathValue("id"), metastore.FetchOptions{
		Branch:      q.Get("branch"),
		RevisionRef: q.Get("revision"),
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := s.decode(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}
	md, err := decodeMetadata(req.Metadata)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	info, err := s.backend.Update(r.Context(), r.PathValue("id"), md, metastore.UpdateOptions{
		Author:  req.Author,
		Branch:  req.Branch,
		Message: req.Message,
		ReadMe:  req.ReadMe,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := metastore.DeleteOptions{
		Path:   q.Get("path"),
		Branch: q.Get("branch"),
	}
	if v := q.Get("resource"); v != "" {
		isResource, err := strconv.ParseBool(v)
		if err != nil {
			s.sendError(w, r, fmt.Errorf("%w: resource must be a boolean", metastore.ErrValidation))
			return
		}
		opts.IsResource = isResource
	}
	res, err := s.backend.Delete(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

type keyChange struct {
	Type   string          `json:"type"`
	Key    string          `json:"key"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

type diffResponse struct {
	ObjectID string      `json:"objectId"`
	From     string      `json:"from"`
	To       string      `json:"to"`
	Changes  []keyChange `json:"changes"`
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := diff.Revisions(r.Context(), s.backend, r.PathValue("id"), q.Get("from"), q.Get("to"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	resp := diffResponse{ObjectID: d.ObjectID, From: d.From, To: d.To, Changes: []keyChange{}}
	for _, c := range d.Changes {
		resp.Changes = append(resp.Changes, keyChange{
			Type:   c.Type.String(),
			Key:    c.Key,
			Before: c.Before,
			After:  c.After,
		})
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodySize+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", metastore.ErrValidation, err)
	}
	if int64(len(body)) > s.maxBodySize {
		return fmt.Errorf("%w: request body exceeds %d bytes", metastore.ErrValidation, s.maxBodySize)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decode body: %v", metastore.ErrValidation, err)
	}
	return nil
}

func decodeMetadata(raw json.RawMessage) (metastore.Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return metastore.Metadata{}, nil
	}
	md, err := metastore.DecodeMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", metastore.ErrValidation, err)
	}
	return md, nil
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, metastore.ErrValidation),
		errors.Is(err, metastore.ErrMalformedMetadata),
		errors.Is(err, metastore.ErrUnsupportedContentType):
		return http.StatusBadRequest
	case errors.Is(err, metastore.ErrNotFound),
		errors.Is(err, metastore.ErrRefNotFound),
		errors.Is(err, metastore.ErrMetadataNotFound):
		return http.StatusNotFound
	case errors.Is(err, metastore.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, metastore.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed", zap.Error(err))
	}
	s.sendJSON(w, code, errorResponse{Error: err.Error(), Code: code})
}
