package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/seantiz/xxfunc/internal/engine"
	"github.com/seantiz/xxfunc/internal/executor"
	"github.com/seantiz/xxfunc/internal/launcher"
	"github.com/seantiz/xxfunc/internal/model"
	"github.com/seantiz/xxfunc/internal/store"
)

const testWorkers = 2

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	eng, err := engine.New(&executor.Process{}, engine.WithWorkers(testWorkers))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(eng.Close)

	cache, err := launcher.NewModuleCache(t.TempDir(), s)
	if err != nil {
		t.Fatalf("NewModuleCache: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	l := launcher.New(s, cache, eng, launcher.NewStatusBroker(), logger)
	t.Cleanup(l.Wait)

	return NewServer(":0", s, l, eng, logger, opts...)
}

// multipartBody builds an upload with one "module" part. An empty filename
// omits the filename attribute entirely.
func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	if filename != "" {
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	} else {
		h.Set("Content-Disposition", `form-data; name="`+field+`"`)
	}
	h.Set("Content-Type", "application/octet-stream")

	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, ts *httptest.Server, path, filename string, content []byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, "module", filename, content)
	resp, err := http.Post(ts.URL+path, contentType, body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// deployScript stores a started shell-script module directly in the store.
func deployScript(t *testing.T, srv *Server, name, body string) {
	t.Helper()
	ctx := context.Background()
	if _, err := srv.store.InsertModule(ctx, name, []byte("#!/bin/sh\n"+body+"\n")); err != nil {
		t.Fatalf("InsertModule: %v", err)
	}
	if err := srv.store.SetModuleState(ctx, name, model.StateStarted); err != nil {
		t.Fatalf("SetModuleState: %v", err)
	}
}

// waitForStatus polls until the execution reaches the wanted status.
func waitForStatus(t *testing.T, srv *Server, id, want string) *model.Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e, err := srv.store.GetExecution(context.Background(), id)
		if err == nil && e.Status == want {
			return e
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach status %q", id, want)
	return nil
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/v1/modules", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /v1/modules: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := newTestServer(t)
	srv.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReportsListenError(t *testing.T) {
	srv := newTestServer(t)
	srv.addr = "256.0.0.1:bad"

	if err := srv.Run(context.Background()); err == nil {
		t.Error("Run with invalid address returned nil")
	}
}
