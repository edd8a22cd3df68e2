package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbolis/fieldsync/app"
	"github.com/mbolis/fieldsync/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	api.Get("/health", Health)
	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	api.Group(func(r chi.Router) {
		r.Use(middlewares.Authenticated(app.TokenSecret, app.DB))

		r.Get("/me", Me(app))

		r.Get("/form-types", ListFormTypes(app))
		r.Get(`/form-types/{id:^\d+$}/active-schema`, GetActiveSchema(app))
		r.Get("/form-mappings", GetFormMapping(app))

		r.Post("/submissions", CreateSubmission(app))
		r.Get("/submissions", ListSubmissions(app))
		r.Get(`/submissions/{id:^\d+$}`, GetSubmission(app))
		r.Patch(`/submissions/{id:^\d+$}`, UpdateSubmission(app))
		r.Put(`/submissions/{id:^\d+$}/answers`, UpsertAnswers(app))
		r.Post(`/submissions/{id:^\d+$}/submit`, SubmitSubmission(app))

		r.Get("/my-submissions", MySubmissions(app))
	})

	return api
}
