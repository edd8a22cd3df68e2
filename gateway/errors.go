package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not-found"
	KindConflict   Kind = "conflict"
	KindServer     Kind = "server"
)

// Error is a failed call. Status is zero when no response was received.
type Error struct {
	Method  string
	URL     string
	Status  int
	Message string
	Body    []byte
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Kind() Kind {
	switch {
	case e.Status == 0:
		return KindNetwork
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden:
		return KindAuth
	case e.Status == http.StatusNotFound:
		return KindNotFound
	case e.Status == http.StatusConflict:
		return KindConflict
	case e.Status == http.StatusUnprocessableEntity, e.Status == http.StatusBadRequest:
		return KindValidation
	}
	return KindServer
}

// Missing returns the location fields a 422 response names, if any.
func (e *Error) Missing() []string {
	var body struct {
		Missing []string `json:"missing"`
	}
	if json.Unmarshal(e.Body, &body) != nil {
		return nil
	}
	return body.Missing
}

// KindOf classifies any error returned by the client; errors that are not *Error are network
// failures.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind()
	}
	return KindNetwork
}

func IsNotFound(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind() == KindNotFound
}

func newStatusError(method, url string, status int, body []byte) *Error {
	return &Error{
		Method:  method,
		URL:     url,
		Status:  status,
		Message: messageOf(status, body),
		Body:    body,
	}
}

func messageOf(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 {
		return text
	}
	return http.StatusText(status)
}
