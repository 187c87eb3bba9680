// Copyright 2025 Stagecraft Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the staging pipeline over HTTP. The API
// surface is deliberately small: staged-edit CRUD, content resolution,
// preview rendering, commit, and the action dispatcher.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"stagecraft/internal/common"
	"stagecraft/internal/dispatch"
	"stagecraft/internal/overlay"
	"stagecraft/internal/publish"
	"stagecraft/internal/resolve"
	"stagecraft/internal/routes"
)

// CallerHeader identifies the caller on mutating requests. Requests
// without it are rejected before any state changes.
const CallerHeader = "X-Stagecraft-Caller"

// maxBodySize caps staged file content at 10 MiB.
const maxBodySize = 10 << 20

// Server routes HTTP requests to the pipeline components.
type Server struct {
	overlay    *overlay.Store
	resolver   *resolve.Resolver
	renderer   *routes.Renderer
	dispatcher *dispatch.Dispatcher
	engine     *publish.Engine
	filter     *overlay.ExcludeFilter
	router     chi.Router
}

// New builds a Server over the given components. filter may be nil.
func New(ov *overlay.Store, resolver *resolve.Resolver, renderer *routes.Renderer, d *dispatch.Dispatcher, engine *publish.Engine, filter *overlay.ExcludeFilter) *Server {
	s := &Server{
		overlay:    ov,
		resolver:   resolver,
		renderer:   renderer,
		dispatcher: d,
		engine:     engine,
		filter:     filter,
	}

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		api.Get("/staged", s.handleStagedList)
		api.Get("/files", s.handleFiles)
		api.Get("/resolve/*", s.handleResolve)
		api.Get("/status", s.handleStatus)

		api.Group(func(mut chi.Router) {
			mut.Use(requireCaller)
			mut.Put("/staged/*", s.handleStageWrite)
			mut.Delete("/staged/*", s.handleStageDelete)
			mut.Post("/preview", s.handlePreviewBuild)
			mut.Post("/commit", s.handleCommit)
			mut.Post("/actions", s.handleAction)
		})
	})
	r.Get("/preview/*", s.handlePreviewPage)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requireCaller rejects mutating requests that carry no caller identity.
func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(CallerHeader) == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{
				Kind:    "InvalidPayload",
				Message: "missing " + CallerHeader + " header",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("[Server] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, common.Status(err), errorBody{
		Kind:    common.Kind(err),
		Message: err.Error(),
	})
}

func (s *Server) handleStageWrite(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	content, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Kind:    "InvalidPayload",
				Message: "request body too large",
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{
			Kind:    "InvalidPayload",
			Message: "failed to read request body: " + err.Error(),
		})
		return
	}

	if err := s.overlay.Write(r.Context(), path, content); err != nil {
		writeError(w, err)
		return
	}
	entry, _, err := s.overlay.Get(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleStageDelete(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	// unstage=true discards the staged edit instead of staging a delete.
	if r.URL.Query().Get("unstage") == "true" {
		if err := s.overlay.Unstage(r.Context(), path); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.overlay.Delete(r.Context(), path); err != nil {
		writeError(w, err)
		return
	}
	entry, _, err := s.overlay.Get(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleStagedList(w http.ResponseWriter, r *http.Request) {
	index, err := s.overlay.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]overlay.IndexEntry, 0, len(index))
	for _, entry := range index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	writeJSON(w, http.StatusOK, map[string]any{"staged": entries})
}

// handleFiles serves the merged file set: the remote listing with the
// configured excludes dropped, plus live staged paths, minus tombstones.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.resolver.MergedListing(r.Context(), s.filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	res, err := s.resolver.Resolve(r.Context(), path, resolve.Options{})
	if err != nil {
		writeError(w, err)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Stagecraft-Source", res.Source)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Content)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	index, err := s.overlay.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]overlay.IndexEntry, 0, len(index))
	for _, entry := range index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	audit, err := s.overlay.Audit(r.Context(), 20)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"staged": entries,
		"audit":  audit,
	})
}

type previewRequest struct {
	Routes []string `json:"routes"`
	Files  []string `json:"files"`
	Zones  []string `json:"zones"`
}

func (s *Server) handlePreviewBuild(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Kind:    "InvalidPayload",
			Message: "malformed preview request: " + err.Error(),
		})
		return
	}
	previews := s.renderer.BuildPreview(req.Routes, req.Files, req.Zones)
	writeJSON(w, http.StatusOK, map[string]any{"previews": previews})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req publish.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Kind:    "InvalidPayload",
			Message: "malformed commit request: " + err.Error(),
		})
		return
	}

	result, err := s.engine.Commit(r.Context(), req)
	if err != nil {
		log.Warnf("[Server] commit finished %s: %v", result.Outcome, err)
		writeJSON(w, common.Status(err), map[string]any{
			"outcome": result.Outcome,
			"applied": result.Applied,
			"error": errorBody{
				Kind:    common.Kind(err),
				Message: err.Error(),
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var payload dispatch.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Kind:    "InvalidPayload",
			Message: "malformed action payload: " + err.Error(),
		})
		return
	}

	outcome, err := s.dispatcher.Dispatch(r.Context(), payload)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidPayload) {
			writeJSON(w, http.StatusBadRequest, errorBody{
				Kind:    "InvalidPayload",
				Message: err.Error(),
			})
			return
		}
		writeError(w, err)
		return
	}

	if outcome.Replayed {
		w.Header().Set("X-Stagecraft-Replayed", "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(outcome.Status)
	_, _ = w.Write(outcome.Body)
}

func (s *Server) handlePreviewPage(w http.ResponseWriter, r *http.Request) {
	route := "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	zones := r.URL.Query()["zone"]

	content, err := s.renderer.Render(r.Context(), route, zones)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Robots-Tag", "noindex")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
