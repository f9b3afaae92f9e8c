// Package server exposes the tool registry over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"allinone/internal/blobref"
	"allinone/internal/engine"
	"allinone/internal/intake"
	"allinone/internal/staged"
	"allinone/internal/tools"
	"allinone/internal/usage"
)

// formMemory is how much of a multipart body is kept in memory before
// spilling file parts to disk.
const formMemory = 32 << 20

type Options struct {
	Registry *tools.Registry
	Env      tools.Env
	Admit    intake.AdmitConfig
	// Jobs bounds the number of concurrently processing requests.
	Jobs    int64
	Locale  string
	Tracker staged.Tracker
	// Counter, when set, serves the usage endpoint.
	Counter *usage.Counter
	Log     zerolog.Logger
}

type Server struct {
	opts    Options
	handles *blobref.Registry
	slots   *semaphore.Weighted
	log     zerolog.Logger
}

func New(opts Options) *Server {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	return &Server{
		opts:    opts,
		handles: blobref.NewRegistry(),
		slots:   semaphore.NewWeighted(opts.Jobs),
		log:     opts.Log.With().Str("component", "server").Logger(),
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/tools", s.listTools)
	r.Post("/api/tools/{id}", s.runTool)

	if s.opts.Counter != nil {
		usage.Routes(r, s.opts.Counter, s.log)
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}

type toolInfo struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Category string         `json:"category"`
	Multiple bool           `json:"multiple"`
	Accept   []string       `json:"accept"`
	Options  []tools.Option `json:"options,omitempty"`
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	all := s.opts.Registry.All()
	out := make([]toolInfo, 0, len(all))
	for _, t := range all {
		info := toolInfo{ID: t.ID, Title: t.Title, Category: t.Category, Multiple: t.Multiple, Options: t.Options}
		for _, k := range t.Accept {
			info.Accept = append(info.Accept, k.MIME())
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) runTool(w http.ResponseWriter, r *http.Request) {
	tool, ok := s.opts.Registry.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "unknown tool"})
		return
	}

	admit := s.opts.Admit
	limit := admit.MaxFileSize*int64(max(admit.MaxFiles, 1)) + formMemory
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Code: string(intake.CodeFileTooLarge), Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Message: fmt.Sprintf("invalid multipart form: %v", err)})
		return
	}
	defer r.MultipartForm.RemoveAll()

	params := tools.Params{}
	for key, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	var sources []intake.Source
	for _, field := range []string{"file", "files"} {
		for _, h := range r.MultipartForm.File[field] {
			sources = append(sources, formSource{h})
		}
	}

	if err := s.slots.Acquire(r.Context(), 1); err != nil {
		return
	}
	defer s.slots.Release(1)

	session, err := tools.NewSession(tool, s.opts.Env, s.handles, tools.SessionConfig{
		Staged: staged.NoDelay(staged.Config{Stages: tool.Stages, Locale: s.opts.Locale, Tracker: s.opts.Tracker}),
		Admit:  admit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer session.Reset()

	if err := session.Admit(r.Context(), sources); err != nil {
		s.writeError(w, err)
		return
	}
	blob, err := session.Process(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", blob.Type)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.OutputName()))
	w.Header().Set("Content-Length", fmt.Sprint(len(blob.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}

type errorBody struct {
	Code     string `json:"code,omitempty"`
	Domain   string `json:"domain,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Message  string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, staged.ErrAborted) {
		// The client went away; nobody is listening for a body.
		return
	}
	e, ok := engine.AsError(err)
	if !ok {
		s.log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "internal error"})
		return
	}

	status := http.StatusUnprocessableEntity
	if e.Code == intake.CodeFileTooLarge {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, errorBody{
		Code:     string(e.Code),
		Domain:   string(e.Domain),
		FileName: e.FileName,
		Message:  e.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// formSource adapts an uploaded multipart file to an intake source.
type formSource struct {
	h *multipart.FileHeader
}

func (f formSource) Name() string { return f.h.Filename }
func (f formSource) Size() int64  { return f.h.Size }
func (f formSource) Open() (io.ReadCloser, error) {
	return f.h.Open()
}
