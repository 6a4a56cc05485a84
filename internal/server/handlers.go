package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type collectionsResponse struct {
	Title       string       `json:"title"`
	Collections []Collection `json:"collections"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleCollections lists every collection with its load status.
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, collectionsResponse{
		Title:       s.cfg.Title,
		Collections: s.src.Collections(),
	})
}

// handleCollection returns one collection's snapshot and load status.
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	c, ok := s.src.Collection(chi.URLParam(r, "name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// handleAdd optimistically adds the entity in the request body.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.src.Collection(name); !ok {
		s.writeError(w, http.StatusNotFound, "collection not found")
		return
	}

	var item map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(&item); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.src.Add(r.Context(), name, item); err != nil {
		s.writeSourceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemove optimistically removes an entity.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.src.Collection(name); !ok {
		s.writeError(w, http.StatusNotFound, "collection not found")
		return
	}

	if err := s.src.Remove(r.Context(), name, chi.URLParam(r, "id")); err != nil {
		s.writeSourceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLookup fetches one entity from the backend.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.src.Collection(name); !ok {
		s.writeError(w, http.StatusNotFound, "collection not found")
		return
	}

	item, err := s.src.Lookup(r.Context(), name, chi.URLParam(r, "id"))
	if err != nil {
		s.writeSourceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

// handleRefresh reloads a collection and returns its new state.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.src.Collection(name); !ok {
		s.writeError(w, http.StatusNotFound, "collection not found")
		return
	}

	if err := s.src.Refresh(r.Context(), name); err != nil {
		s.writeSourceError(w, err)
		return
	}
	c, _ := s.src.Collection(name)
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) writeSourceError(w http.ResponseWriter, err error) {
	s.writeError(w, s.cfg.StatusOf(err), err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
