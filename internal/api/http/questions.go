package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/question"
)

// POST /admin/questions
func CreateQuestionHandler(store question.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in question.Input
		if err := decodeJSON(r, &in); err != nil {
			respondError(w, r, err)
			return
		}
		q, err := store.Create(r.Context(), in)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, q)
	}
}

// PUT /admin/questions/{questionID}
func UpdateQuestionHandler(store question.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in question.Input
		if err := decodeJSON(r, &in); err != nil {
			respondError(w, r, err)
			return
		}
		q, err := store.Update(r.Context(), chi.URLParam(r, "questionID"), in)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, q)
	}
}

// DELETE /admin/questions/{questionID}
func DeleteQuestionHandler(store question.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.Context(), chi.URLParam(r, "questionID")); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /admin/questions/{questionID}
func GetQuestionHandler(store question.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := store.Get(r.Context(), chi.URLParam(r, "questionID"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, q)
	}
}

// GET /admin/questions/random?count=N
// The response carries both counts; fewer items than requested is not an
// error.
func RandomQuestionsHandler(sel *question.Selector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := parseIntDefault(r.URL.Query().Get("count"), 0)
		items, err := sel.SampleRandom(r.Context(), n)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"requested": n,
			"count":     len(items),
			"items":     items,
		})
	}
}

// GET /admin/questions/search?keyword=&subject=&level=&page=&limit=
func SearchQuestionsHandler(sel *question.Selector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := question.Filter{
			Keyword: strings.TrimSpace(q.Get("keyword")),
			Subject: strings.TrimSpace(q.Get("subject")),
			Level:   question.Level(strings.TrimSpace(q.Get("level"))),
			Page:    parseIntDefault(q.Get("page"), 1),
			Limit:   parseIntDefault(q.Get("limit"), 20),
		}
		if f.Level != "" && !f.Level.Valid() {
			respondError(w, r, apperr.Validation("unknown level %q", f.Level))
			return
		}
		page, err := sel.Search(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, page)
	}
}

// GET /admin/questions/facets
func QuestionFacetsHandler(store question.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subjects, levels, err := store.Facets(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string][]string{"subjects": subjects, "levels": levels})
	}
}
