package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/mbolis/fieldsync/log"
)

// Will log an error, and send an HTTP response with status 500 and default text
func LogInternalError(w http.ResponseWriter, code string, err error) {
	log.Errorf("%s: %s", code, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Will log a debug message, and send an HTTP response with status 404 and default text
func LogNotFound(w http.ResponseWriter, code string, id any) {
	log.Debugf("%s: not found (%v)", code, id)
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}

// Will log an error code at the given level, and send
// an HTTP response with status and default text
func LogStatus(w http.ResponseWriter, status int, level log.Level, code string) {
	log.Log(level, code)
	http.Error(w, http.StatusText(status), status)
}

// Will log an error code and message at the given level,
// and send an HTTP response with the given status and formatted message
func LogStatusMsg(w http.ResponseWriter, status int, level log.Level, code string, msg string, args ...any) {
	errMsg := fmt.Sprintf(msg, args...)
	log.Log(level, code+":", errMsg)
	http.Error(w, errMsg, status)
}

// Will log an error code and message at the given level, and send a JSON body
// {"message": msg, ...details} with the given status
func LogStatusJSON(w http.ResponseWriter, r *http.Request, status int, level log.Level, code string, msg string, details map[string]any) {
	log.Log(level, code+":", msg)
	body := map[string]any{"message": msg}
	for k, v := range details {
		body[k] = v
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}

// Will answer 422 with the failing fields when err comes from the validator,
// and 400 otherwise
func LogValidationError(w http.ResponseWriter, r *http.Request, code string, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		LogStatus(w, http.StatusBadRequest, log.DebugLevel, code)
		return
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	LogStatusJSON(w, r, http.StatusUnprocessableEntity, log.DebugLevel, code, "validation failed", map[string]any{"errors": fields})
}
