package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/worktrack/agent/internal/types"
)

type fakeTokens struct {
	mu      sync.Mutex
	auth    types.Auth
	cleared int
}

func (f *fakeTokens) Auth() (types.Auth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auth, nil
}

func (f *fakeTokens) ClearAuth() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = types.Auth{}
	f.cleared++
	return nil
}

func TestCallAPISendsBearerToken(t *testing.T) {
	var gotAuth, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewApiClient(server.URL, &fakeTokens{auth: types.Auth{Token: "tok-1"}})
	result, err := client.CallAPI(context.Background(), "/api/test", http.MethodPost, map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected json content type, got %q", gotContentType)
	}
	if ok, _ := result["ok"].(bool); !ok {
		t.Fatalf("unexpected response: %+v", result)
	}
}

func TestCallAPIUnauthorizedClearsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &fakeTokens{auth: types.Auth{Token: "stale"}}
	client := NewApiClient(server.URL, tokens)
	_, err := client.CallAPI(context.Background(), "/api/test", http.MethodGet, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if tokens.cleared != 1 {
		t.Fatalf("a 401 must clear the stored token once, cleared %d times", tokens.cleared)
	}
}

func TestCallAPINon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewApiClient(server.URL, &fakeTokens{})
	if _, err := client.CallAPI(context.Background(), "/api/test", http.MethodGet, nil); err == nil {
		t.Fatal("expected error for a 500 response")
	}
}

func TestCallAPIEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewApiClient(server.URL, &fakeTokens{})
	result, err := client.CallAPI(context.Background(), "/api/test", http.MethodDelete, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("expected empty map for empty body, got %+v", result)
	}
}

func TestUploadFilesMultipart(t *testing.T) {
	var gotFields map[string]string
	var gotFiles map[string][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFields = map[string]string{}
		for key := range r.MultipartForm.Value {
			gotFields[key] = r.FormValue(key)
		}
		gotFiles = map[string][]byte{}
		for field := range r.MultipartForm.File {
			file, _, err := r.FormFile(field)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			buf := make([]byte, 16)
			n, _ := file.Read(buf)
			gotFiles[field] = buf[:n]
			file.Close()
		}
		w.Write([]byte(`{"id":"up-1"}`))
	}))
	defer server.Close()

	client := NewApiClient(server.URL, &fakeTokens{auth: types.Auth{Token: "tok"}})
	result, err := client.UploadFiles(context.Background(), "/upload",
		[]FilePart{
			{Field: "file", FileName: "screenshot.png", Data: []byte("full")},
			{Field: "thumb", FileName: "thumb.png", Data: []byte("small")},
		},
		map[string]string{"timeSlotId": "slot-1"},
	)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result["id"] != "up-1" {
		t.Fatalf("unexpected response: %+v", result)
	}
	if gotFields["timeSlotId"] != "slot-1" {
		t.Fatalf("missing form field, got %+v", gotFields)
	}
	if string(gotFiles["file"]) != "full" || string(gotFiles["thumb"]) != "small" {
		t.Fatalf("file parts did not round trip: %+v", gotFiles)
	}
}

func TestPing(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer healthy.Close()

	client := NewApiClient(healthy.URL, &fakeTokens{})
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("expected healthy probe, got %v", err)
	}

	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	client = NewApiClient(sick.URL, &fakeTokens{})
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected probe failure for a 503")
	}

	client = NewApiClient("http://127.0.0.1:1", &fakeTokens{})
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected probe failure when nothing listens")
	}
}
