package localapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

// localTestClient builds a Client whose loopback URL points at srv, which
// must be a TLS server on 127.0.0.1 (the lockfile endpoint serves a
// self-signed certificate, and the client skips verification).
func localTestClient(t *testing.T, srv *httptest.Server, password string) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return NewClient(Lockfile{Protocol: "https", Port: port, Password: password}, "na", "na")
}

func TestFetch_Local(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "riot" || pass != "sekrit" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/chat/v1/session" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"puuid": "self-id"})
	}))
	defer srv.Close()

	c := localTestClient(t, srv, "sekrit")

	var out struct {
		PUUID string `json:"puuid"`
	}
	if err := c.Fetch(context.Background(), DomainLocal, http.MethodGet, "/chat/v1/session", nil, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.PUUID != "self-id" {
		t.Errorf("puuid = %q, want self-id", out.PUUID)
	}
}

func TestFetch_BadPassword(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := localTestClient(t, srv, "wrong")

	err := c.Fetch(context.Background(), DomainLocal, http.MethodGet, "/chat/v1/session", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", se.Code)
	}
}

func TestFetch_RequestBody(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var got []string
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if len(got) != 2 || got[0] != "a" {
			t.Errorf("body = %v", got)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := localTestClient(t, srv, "pw")
	if err := c.Fetch(context.Background(), DomainLocal, http.MethodPut, "/names", []string{"a", "b"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetch_NilOutDiscardsBody(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"anything": true}`))
	}))
	defer srv.Close()

	c := localTestClient(t, srv, "pw")
	if err := c.Fetch(context.Background(), DomainLocal, http.MethodGet, "/x", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetch_MalformedJSON(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := localTestClient(t, srv, "pw")
	var out map[string]any
	if err := c.Fetch(context.Background(), DomainLocal, http.MethodGet, "/x", nil, &out); err == nil {
		t.Error("expected a decode error")
	}
}

// ///////////////////////////////////////////////
// Errors
// ///////////////////////////////////////////////

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"404", &StatusError{Code: 404, Path: "/p"}, true},
		{"500", &StatusError{Code: 500, Path: "/p"}, false},
		{"wrapped 404", errors.Join(errors.New("ctx"), &StatusError{Code: 404}), true},
		{"other error", errors.New("dial refused"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNotFound(tc.err); got != tc.want {
				t.Errorf("IsNotFound = %t, want %t", got, tc.want)
			}
		})
	}
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{Code: 404, Path: "/core-game/v1/players/x"}
	if err.Error() != "/core-game/v1/players/x returned status 404" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWebsocketURL(t *testing.T) {
	if got := websocketURL("https://127.0.0.1:53135"); got != "wss://127.0.0.1:53135" {
		t.Errorf("websocketURL = %q", got)
	}
}
