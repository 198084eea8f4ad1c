package handlers

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/pebld/internal/logger"
	"github.com/marmos91/pebld/pkg/catalog"
	"github.com/marmos91/pebld/pkg/subject"
)

const (
	defaultEntryLimit = 100
	maxEntryLimit     = 10000
)

// SubjectsHandler serves the read-only subject endpoints. Subjects always
// come from the storage root; entries come from the catalog when one is
// configured and from the subject's journal otherwise.
type SubjectsHandler struct {
	store   *subject.Store
	catalog *catalog.Catalog
}

// NewSubjectsHandler creates a subjects handler. cat may be nil.
func NewSubjectsHandler(store *subject.Store, cat *catalog.Catalog) *SubjectsHandler {
	return &SubjectsHandler{store: store, catalog: cat}
}

// SubjectResponse describes one subject.
type SubjectResponse struct {
	subject.Summary

	// Set only when the catalog is enabled.
	Uploads   *int       `json:"uploads,omitempty"`
	FirstSeen *time.Time `json:"first_seen,omitempty"`
}

// EntryResponse is one stored slot, newest first in listings.
type EntryResponse struct {
	Subject string    `json:"subject"`
	Time    time.Time `json:"time"`
	File    string    `json:"file"`
	Address string    `json:"address"`

	// Set only when the catalog is enabled.
	Slot       *int    `json:"slot,omitempty"`
	Stored     string  `json:"stored,omitempty"`
	Bytes      *uint64 `json:"bytes,omitempty"`
	Terminator string  `json:"terminator,omitempty"`
}

// List handles GET /api/v1/subjects.
func (h *SubjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	sums, err := h.store.ListSubjects()
	if err != nil {
		logger.Error("List subjects failed", logger.Err(err))
		InternalServerError(w, "Failed to list subjects")
		return
	}

	out := make([]SubjectResponse, 0, len(sums))
	for _, s := range sums {
		out = append(out, h.enrich(r, s))
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// Get handles GET /api/v1/subjects/{code}.
func (h *SubjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	sum, err := h.store.Summarize(code)
	if errors.Is(err, subject.ErrNotFound) {
		NotFound(w, "Subject not found")
		return
	}
	if err != nil {
		logger.Error("Summarize subject failed", logger.Subject(code), logger.Err(err))
		InternalServerError(w, "Failed to read subject")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.enrich(r, sum)))
}

func (h *SubjectsHandler) enrich(r *http.Request, s subject.Summary) SubjectResponse {
	resp := SubjectResponse{Summary: s}
	if h.catalog == nil {
		return resp
	}
	cs, err := h.catalog.GetSubject(r.Context(), s.Code)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			logger.Warn("Catalog lookup failed", logger.Subject(s.Code), logger.Err(err))
		}
		return resp
	}
	resp.Uploads = &cs.Uploads
	resp.FirstSeen = &cs.FirstSeen
	return resp
}

// Entries handles GET /api/v1/subjects/{code}/entries?limit=N.
func (h *SubjectsHandler) Entries(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if _, err := h.store.Summarize(code); errors.Is(err, subject.ErrNotFound) {
		NotFound(w, "Subject not found")
		return
	}

	var out []EntryResponse
	if h.catalog != nil {
		out, err = h.catalogEntries(r, code, limit)
	} else {
		out, err = h.journalEntries(code, limit)
	}
	if err != nil {
		logger.Error("Read entries failed", logger.Subject(code), logger.Err(err))
		InternalServerError(w, "Failed to read entries")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

func (h *SubjectsHandler) catalogEntries(r *http.Request, code string, limit int) ([]EntryResponse, error) {
	recs, err := h.catalog.Records(r.Context(), code, limit)
	if err != nil {
		return nil, err
	}
	out := make([]EntryResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, EntryResponse{
			Subject:    rec.Subject,
			Time:       rec.Time,
			File:       rec.File,
			Address:    rec.Address,
			Slot:       &rec.Slot,
			Stored:     rec.Stored,
			Bytes:      &rec.Bytes,
			Terminator: rec.Terminator,
		})
	}
	return out, nil
}

func (h *SubjectsHandler) journalEntries(code string, limit int) ([]EntryResponse, error) {
	entries, err := h.store.ReadLog(code)
	if err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryResponse{
			Subject: e.Subject,
			Time:    e.Time,
			File:    e.File,
			Address: e.Address,
		})
	}
	return out, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultEntryLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxEntryLimit {
		return 0, errors.New("limit must be an integer between 1 and " + strconv.Itoa(maxEntryLimit))
	}
	return n, nil
}
