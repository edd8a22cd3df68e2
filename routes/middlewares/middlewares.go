package middlewares

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"
	"github.com/mbolis/fieldsync/httpx"
	"github.com/mbolis/fieldsync/log"
	"github.com/mbolis/fieldsync/model"
)

type ctxKey int

const userKey ctxKey = iota

// Authenticated checks the bearer token and loads the caller into the request context.
func Authenticated(secret string, db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return chi.Chain(oauth.Authorize(secret, nil), currentUser(db)).Handler(next)
	}
}

func currentUser(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, _ := r.Context().Value(oauth.CredentialContext).(string)
			if username == "" {
				httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "auth.credential")
				return
			}

			user := model.User{}
			err := db.QueryRowContext(r.Context(), `
				SELECT id, username, name, role
				FROM user
				WHERE username = ?`,
				username,
			).Scan(&user.ID, &user.Username, &user.Name, &user.Role)
			if errors.Is(err, sql.ErrNoRows) {
				httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "auth.user_not_found")
				return
			}
			if err != nil {
				httpx.LogInternalError(w, "db.auth.get_user", err)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// User returns the caller loaded by Authenticated.
func User(r *http.Request) (model.User, bool) {
	user, ok := r.Context().Value(userKey).(model.User)
	return user, ok
}
