package routes

import (
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/mbolis/fieldsync/app"
	"github.com/mbolis/fieldsync/database"
	"github.com/mbolis/fieldsync/httpx"
	"github.com/mbolis/fieldsync/log"
	"github.com/mbolis/fieldsync/routes/middlewares"
)

var reRefresh = regexp.MustCompile(`(?i)^refresh\s+(.*)`)

// Login turns HTTP basic credentials into a password grant. A device sending X-Device-ID is
// recorded against the user once the grant succeeds.
func Login(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "login.basic_auth")
			return
		}

		body := url.Values{
			"grant_type": {"password"},
			"username":   {user},
			"password":   {pass},
		}
		r.Body = io.NopCloser(strings.NewReader(body.Encode()))
		r.Header.Set("content-type", "application/x-www-form-urlencoded")
		r.Header.Set("content-length", strconv.Itoa(len(body.Encode())))

		resp := httpx.NewResponseBuffer()
		app.UserCredentials(resp, r)

		if resp.Status() == http.StatusOK {
			if deviceID := strings.TrimSpace(r.Header.Get("X-Device-ID")); deviceID != "" {
				if err := database.TouchDevice(r.Context(), app.DB, user, deviceID); err != nil {
					log.Warnf("login.device: %s", err)
				}
			}
		} else {
			log.Debugf("login: %s refused with %d", user, resp.Status())
		}

		if err := resp.Flush(w); err != nil {
			log.Debugf("login.flush: %s", err)
		}
	}
}

func Refresh(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		match := reRefresh.FindStringSubmatch(r.Header.Get("authorization"))
		if len(match) == 0 {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "refresh.token")
			return
		}
		token := strings.TrimSpace(match[1])

		body := url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {token},
		}

		req, err := http.NewRequestWithContext(r.Context(), "POST", "/", strings.NewReader(body.Encode()))
		if err != nil {
			httpx.LogStatus(w, http.StatusInternalServerError, log.DebugLevel, "refresh.new_request")
			return
		}
		req.Header.Set("content-type", "application/x-www-form-urlencoded")
		req.Header.Set("content-length", strconv.Itoa(len(body.Encode())))

		resp := httpx.NewResponseBuffer()
		app.UserCredentials(resp, req)
		if err = resp.Flush(w); err != nil {
			log.Debugf("refresh.flush: %s", err)
		}
	}
}

// Me returns the caller. ?device_id= marks that device as seen.
func Me(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middlewares.User(r)
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "me.user")
			return
		}

		if deviceID := strings.TrimSpace(r.URL.Query().Get("device_id")); deviceID != "" {
			if err := database.TouchDevice(r.Context(), app.DB, user.Username, deviceID); err != nil {
				httpx.LogInternalError(w, "db.me.device", err)
				return
			}
		}

		render.JSON(w, r, user)
	}
}

func Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"ok": true})
}
