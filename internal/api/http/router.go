package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/attempt"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/question"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
	"github.com/mind-engage/mindengage-exams/internal/result"
	"github.com/mind-engage/mindengage-exams/internal/users"
)

type Deps struct {
	Auth      *auth.AuthService
	Users     *users.Directory
	Questions question.Store
	Selector  *question.Selector
	Exams     *exam.Service
	Attempts  *attempt.Service
	Results   result.Store
	Reports   *result.Aggregator

	AllowClaimFallback bool
	EnableLocalAuth    bool
}

// Mount registers the API on r. Everything except login sits behind the
// bearer token, the directory role lookup and a per-route permission.
func Mount(r chi.Router, d Deps) {
	if d.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(d.Auth, d.Users))
	}

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))
		pr.Use(auth.AttachRoleFromDirectory(d.Users, d.AllowClaimFallback))

		// exam taker flow
		pr.With(rbac.Require("exam:take")).
			Get("/exams/resolve", ResolveExamCodeHandler(d.Exams))
		pr.With(rbac.Require("exam:take")).
			Get("/exams/code/{code}", ResolveExamCodeHandler(d.Exams))
		pr.With(rbac.Require("exam:take")).
			Get("/exams/{examID}/attempt-view", AttemptViewHandler(d.Attempts))
		pr.With(rbac.Require("attempt:start")).
			Post("/attempts/open", OpenAttemptHandler(d.Attempts))
		pr.With(rbac.Require("attempt:start")).
			Post("/attempts", StartAttemptHandler(d.Attempts))
		pr.With(rbac.Require("attempt:view-own")).
			Get("/attempts/{attemptID}", GetAttemptHandler(d.Attempts))
		pr.With(rbac.Require("attempt:answer")).
			Put("/attempts/{attemptID}/answers/{questionID}", RecordAnswerHandler(d.Attempts))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", SubmitAttemptHandler(d.Attempts))

		pr.With(rbac.Require("result:view-own")).
			Get("/results/me", MyResultsHandler(d.Reports))
		pr.With(rbac.RequireAny("result:view-own", "result:view-all")).
			Get("/results/{resultID}", GetResultHandler(d.Results))

		pr.With(rbac.Require("user:change_password")).
			Post("/users/change-password", ChangePasswordHandler(d.Users))
		pr.Get("/users/me", MeHandler(d.Users))

		pr.Route("/admin", func(ar chi.Router) {
			ar.With(rbac.Require("exam:create")).Post("/exams", CreateExamHandler(d.Exams))
			ar.With(rbac.Require("exam:view")).Get("/exams", ListExamsHandler(d.Exams))
			ar.With(rbac.Require("exam:view")).Get("/exams/{examID}", GetExamHandler(d.Exams))
			ar.With(rbac.Require("exam:update")).Put("/exams/{examID}", UpdateExamHandler(d.Exams))
			ar.With(rbac.Require("exam:delete")).Delete("/exams/{examID}", DeleteExamHandler(d.Exams))

			ar.With(rbac.Require("question:sample")).Get("/questions/random", RandomQuestionsHandler(d.Selector))
			ar.With(rbac.Require("question:search")).Get("/questions/search", SearchQuestionsHandler(d.Selector))
			ar.With(rbac.Require("question:search")).Get("/questions/facets", QuestionFacetsHandler(d.Questions))
			ar.With(rbac.Require("question:create")).Post("/questions", CreateQuestionHandler(d.Questions))
			ar.With(rbac.Require("question:view")).Get("/questions/{questionID}", GetQuestionHandler(d.Questions))
			ar.With(rbac.Require("question:update")).Put("/questions/{questionID}", UpdateQuestionHandler(d.Questions))
			ar.With(rbac.Require("question:delete")).Delete("/questions/{questionID}", DeleteQuestionHandler(d.Questions))

			ar.With(rbac.Require("result:view-all")).Get("/results/exams", ExamSummariesHandler(d.Reports))
			ar.With(rbac.Require("result:view-all")).Get("/results/exams/{code}", ExamReportHandler(d.Reports))

			ar.With(rbac.Require("users:list")).Get("/users", ListUsersHandler(d.Users))
			ar.With(rbac.Require("users:create")).Post("/users", CreateUserHandler(d.Users))
			ar.With(rbac.Require("users:create")).Post("/users/bulk", BulkCreateUsersHandler(d.Users))
			ar.With(rbac.Require("users:update")).Patch("/users/{userID}/role", AdminUpdateUserRoleHandler(d.Users))
		})
	})
}
