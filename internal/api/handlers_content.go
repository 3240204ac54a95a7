package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/org/sitepanel/internal/content"
	"github.com/org/sitepanel/pkg/models"
)

// ContentHandler handles GET /api/content and GET /api/admin/content
func (s *Server) ContentHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.content.Read(r.Context())})
}

// SectionReadHandler handles GET /api/admin/content/{section}
func (s *Server) SectionReadHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "section")
	if !s.sections[name] {
		writeError(w, http.StatusNotFound, "unknown section")
		return
	}
	raw, ok := s.content.Section(r.Context(), name)
	if !ok {
		raw = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]any{"section": name, "data": raw})
}

// SectionWriteHandler handles PATCH /api/admin/content/{section}. The body is
// the complete new value of the section.
func (s *Server) SectionWriteHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "section")
	if !s.sections[name] {
		writeError(w, http.StatusNotFound, "unknown section")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	doc, err := s.content.WriteSection(ctx, name, body)
	if err != nil {
		if errors.Is(err, content.ErrInvalidSection) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("section", name).Msg("failed to write section")
		writeError(w, http.StatusInternalServerError, "failed to save content")
		return
	}

	contentWritesTotal.WithLabelValues(name).Inc()
	event := newEvent(r, models.ActionSectionWrite)
	event.Outcome = "success"
	event.Section = name
	s.auditor.LogEvent(ctx, event)
	writeJSON(w, http.StatusOK, map[string]any{"data": doc})
}

// SectionsHandler handles GET /api/admin/sections
func (s *Server) SectionsHandler(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	slices.Sort(names)
	writeJSON(w, http.StatusOK, map[string]any{"sections": names})
}
