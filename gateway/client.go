// Package gateway is the device's HTTP client for the survey server.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbolis/fieldsync/log"
	"github.com/pkg/errors"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenStore

	// sent as X-Device-ID on login when set
	DeviceID string
}

func New(baseURL string, tokens TokenStore) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Tokens:  tokens,
	}
}

type retryState int

const (
	stateInitial retryState = iota
	stateRefreshing
	stateRetried
)

// Do sends a JSON request with the stored bearer token and decodes the response into out.
// A 401 triggers exactly one token refresh and one retry.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return errors.Wrapf(err, "%s %s: encode body", method, path)
		}
	}

	state := stateInitial
	for {
		tokens, err := c.Tokens.Load(ctx)
		if err != nil {
			return err
		}

		auth := ""
		if tokens.AccessToken != "" {
			auth = "Bearer " + tokens.AccessToken
		}
		status, respBody, err := c.send(ctx, method, path, payload, auth)
		if err != nil {
			return err
		}

		if status == http.StatusUnauthorized && state == stateInitial && tokens.RefreshToken != "" {
			state = stateRefreshing
			log.Debugf("gateway: %s %s unauthorized, refreshing token", method, path)
			if _, err = c.Refresh(ctx); err != nil {
				return newStatusError(method, c.url(path), status, respBody)
			}
			state = stateRetried
			continue
		}

		if status >= 400 {
			return newStatusError(method, c.url(path), status, respBody)
		}
		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err = json.Unmarshal(respBody, out); err != nil {
			return &Error{Method: method, URL: c.url(path), Status: status, Message: "invalid response body", Body: respBody, Err: err}
		}
		return nil
	}
}

// Login exchanges a username and password for a token pair and stores it.
func (c *Client) Login(ctx context.Context, username, password string) (Tokens, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/login", nil)
	if err != nil {
		return Tokens{}, err
	}
	req.SetBasicAuth(username, password)
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}
	return c.exchange(ctx, req)
}

// Refresh trades the stored refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context) (Tokens, error) {
	tokens, err := c.Tokens.Load(ctx)
	if err != nil {
		return Tokens{}, err
	}
	if tokens.RefreshToken == "" {
		return Tokens{}, &Error{Method: http.MethodPost, URL: c.url("/api/refresh"), Status: http.StatusUnauthorized, Message: "no refresh token"}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/refresh", nil)
	if err != nil {
		return Tokens{}, err
	}
	req.Header.Set("Authorization", "Refresh "+tokens.RefreshToken)
	return c.exchange(ctx, req)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.Tokens.Clear(ctx)
}

func (c *Client) exchange(ctx context.Context, req *http.Request) (Tokens, error) {
	status, body, err := c.roundTrip(req)
	if err != nil {
		return Tokens{}, err
	}
	if status != http.StatusOK {
		return Tokens{}, newStatusError(req.Method, req.URL.String(), status, body)
	}

	var tokens Tokens
	if err = json.Unmarshal(body, &tokens); err != nil || tokens.AccessToken == "" {
		return Tokens{}, &Error{Method: req.Method, URL: req.URL.String(), Status: status, Message: "invalid token response", Body: body, Err: err}
	}
	if err = c.Tokens.Save(ctx, tokens); err != nil {
		return Tokens{}, err
	}
	return tokens, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, auth string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return c.roundTrip(req)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, &Error{Method: method, URL: c.url(path), Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) roundTrip(req *http.Request) (int, []byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, &Error{Method: req.Method, URL: req.URL.String(), Err: errors.Wrapf(err, "%s %s", req.Method, req.URL)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &Error{Method: req.Method, URL: req.URL.String(), Err: errors.Wrapf(err, "%s %s: read body", req.Method, req.URL)}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}
