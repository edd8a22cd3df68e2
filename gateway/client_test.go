package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mbolis/fieldsync/kv"
	"github.com/mbolis/fieldsync/model"
)

func newClient(t *testing.T, h http.Handler, tokens Tokens) (*Client, KVTokenStore) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := KVTokenStore{KV: kv.NewMemory()}
	if tokens.AccessToken != "" {
		if err := store.Save(context.Background(), tokens); err != nil {
			t.Fatal(err)
		}
	}
	return New(srv.URL, store), store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDoRefreshesOnceOn401(t *testing.T) {
	var refreshes int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		if r.Header.Get("Authorization") != "Refresh old-refresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, Tokens{AccessToken: "new-access", RefreshToken: "new-refresh", TokenType: "Bearer", ExpiresIn: 900})
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer new-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, model.User{ID: 1, Username: "ana"})
	})

	c, store := newClient(t, mux, Tokens{AccessToken: "old-access", RefreshToken: "old-refresh"})

	user, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Username != "ana" {
		t.Errorf("unexpected user %+v", user)
	}
	if n := atomic.LoadInt32(&refreshes); n != 1 {
		t.Errorf("expected one refresh, got %d", n)
	}
	saved, _ := store.Load(context.Background())
	if saved.AccessToken != "new-access" || saved.RefreshToken != "new-refresh" {
		t.Errorf("expected rotated tokens saved, got %+v", saved)
	}
}

func TestDoGivesUpAfterOneRetry(t *testing.T) {
	var refreshes, calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		writeJSON(w, http.StatusOK, Tokens{AccessToken: "still-bad", RefreshToken: "r2"})
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c, _ := newClient(t, mux, Tokens{AccessToken: "a", RefreshToken: "r"})

	_, err := c.Me(context.Background())
	if KindOf(err) != KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if refreshes != 1 || calls != 2 {
		t.Errorf("expected 1 refresh and 2 calls, got %d and %d", refreshes, calls)
	}
}

func TestDoFailedRefreshReturnsOriginal401(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c, _ := newClient(t, mux, Tokens{AccessToken: "a", RefreshToken: "r"})

	_, err := c.Me(context.Background())
	ge, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.HasSuffix(ge.URL, "/api/me") || ge.Method != http.MethodGet {
		t.Errorf("expected error about GET /api/me, got %s %s", ge.Method, ge.URL)
	}
}

func TestNetworkErrorCarriesMethodAndURL(t *testing.T) {
	c := New("http://127.0.0.1:1", KVTokenStore{KV: kv.NewMemory()})

	_, err := c.Submit(context.Background(), 42)
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	if !strings.Contains(err.Error(), "POST http://127.0.0.1:1/api/submissions/42/submit") {
		t.Errorf("expected method and url in %q", err.Error())
	}
}

func TestErrorKinds(t *testing.T) {
	cases := map[int]Kind{
		0:   KindNetwork,
		400: KindValidation,
		401: KindAuth,
		403: KindAuth,
		404: KindNotFound,
		409: KindConflict,
		422: KindValidation,
		500: KindServer,
		503: KindServer,
	}
	for status, want := range cases {
		if got := (&Error{Status: status}).Kind(); got != want {
			t.Errorf("%d: expected %s, got %s", status, want, got)
		}
	}
}

func TestValidationErrorExposesMissing(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "location required", "missing": []string{"brgy_name"}})
	})
	c, _ := newClient(t, h, Tokens{AccessToken: "a"})

	_, err := c.Submit(context.Background(), 1)
	ge, ok := err.(*Error)
	if !ok || ge.Kind() != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ge.Message != "location required" {
		t.Errorf("unexpected message %q", ge.Message)
	}
	if diff := cmp.Diff([]string{"brgy_name"}, ge.Missing()); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestLoginUsesBasicAuthAndStoresTokens(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ana" || pass != "secret" || r.URL.Path != "/api/login" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, Tokens{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresIn: 900})
	})
	c, store := newClient(t, h, Tokens{})

	if _, err := c.Login(context.Background(), "ana", "wrong"); KindOf(err) != KindAuth {
		t.Errorf("expected auth error, got %v", err)
	}

	tokens, err := c.Login(context.Background(), "ana", "secret")
	if err != nil {
		t.Fatal(err)
	}
	saved, _ := store.Load(context.Background())
	if diff := cmp.Diff(tokens, saved); diff != "" {
		t.Errorf("saved tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestLoginSendsDeviceID(t *testing.T) {
	var got string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Device-ID")
		writeJSON(w, http.StatusOK, Tokens{AccessToken: "a"})
	})
	c, _ := newClient(t, h, Tokens{})
	c.DeviceID = "dev-1"

	if _, err := c.Login(context.Background(), "ana", "secret"); err != nil {
		t.Fatal(err)
	}
	if got != "dev-1" {
		t.Errorf("expected device header, got %q", got)
	}
}

func TestMappingNotFoundIsNil(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("form_type_id") != "3" || r.URL.Query().Get("year") != "2024" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	c, _ := newClient(t, h, Tokens{AccessToken: "a"})

	m, err := c.Mapping(context.Background(), 3, 2024)
	if err != nil || m != nil {
		t.Errorf("expected nil mapping, got %v %v", m, err)
	}
}

func TestUpdateSubmissionSendsOnlySetFields(t *testing.T) {
	var got map[string]any
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, model.Submission{ID: 5, Status: model.StatusReviewed})
	})
	c, _ := newClient(t, h, Tokens{AccessToken: "a"})

	status := model.StatusReviewed
	_, err := c.UpdateSubmission(context.Background(), 5, model.UpdateSubmissionRequest{
		Status:   &status,
		Location: model.Location{BrgyName: model.Str("Real")},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"status": "reviewed", "brgy_name": "Real"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}
