package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

type examSummary struct {
	ExamID          string `json:"exam_id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Code            string `json:"code"`
	DurationMinutes int    `json:"duration_minutes"`
	QuestionCount   int    `json:"question_count"`
}

// GET /exams/resolve?code=... and GET /exams/code/{code}. The query form
// carries any code, including ones with a slash.
func ResolveExamCodeHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := svc.ResolveCode(r.Context(), examCode(r))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, examSummary{
			ExamID:          e.ID,
			Title:           e.Title,
			Description:     e.Description,
			Code:            e.Code,
			DurationMinutes: e.DurationMinutes,
			QuestionCount:   len(e.QuestionIDs),
		})
	}
}

func examCode(r *http.Request) string {
	if code := r.URL.Query().Get("code"); code != "" {
		return code
	}
	raw := chi.URLParam(r, "code")
	// chi matches on RawPath when the path had escapes
	if code, err := url.PathUnescape(raw); err == nil {
		return code
	}
	return raw
}

// POST /admin/exams
func CreateExamHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in exam.Input
		if err := decodeJSON(r, &in); err != nil {
			respondError(w, r, err)
			return
		}
		e, err := svc.Create(r.Context(), in)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, e)
	}
}

// PUT /admin/exams/{examID}
func UpdateExamHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in exam.Input
		if err := decodeJSON(r, &in); err != nil {
			respondError(w, r, err)
			return
		}
		e, err := svc.Update(r.Context(), chi.URLParam(r, "examID"), in)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, e)
	}
}

// DELETE /admin/exams/{examID}
func DeleteExamHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "examID")); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /admin/exams/{examID}
func GetExamHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := svc.Get(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, e)
	}
}

// GET /admin/exams?q=&limit=&offset=
func ListExamsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context(), exam.ListOpts{
			Q:      strings.TrimSpace(r.URL.Query().Get("q")),
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}
