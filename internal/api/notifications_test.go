package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/xxfunc/internal/model"
)

func TestNotifyDispatchesStartedModules(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	deployScript(t, srv, "ok", "exit 0")
	deployScript(t, srv, "bad", "exit 2")

	resp := postJSON(t, ts.URL+"/v1/notifications", `{"kind":"chain_committed","data":{"tip":5}}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %q)", resp.StatusCode, readBody(t, resp))
	}
	var body notifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	if body.NotificationID == "" {
		t.Error("notification id not assigned")
	}
	if len(body.Executions) != 2 {
		t.Fatalf("executions = %d, want 2", len(body.Executions))
	}

	byModule := map[string]string{}
	for _, e := range body.Executions {
		if e.NotificationID != body.NotificationID {
			t.Errorf("execution %s notification = %q, want %q", e.ID, e.NotificationID, body.NotificationID)
		}
		byModule[e.ModuleName] = e.ID
	}

	waitForStatus(t, srv, byModule["ok"], model.StatusCompleted)
	failed := waitForStatus(t, srv, byModule["bad"], model.StatusFailed)
	if failed.ExitCode == nil || *failed.ExitCode != 2 {
		t.Errorf("exit code = %v, want 2", failed.ExitCode)
	}
}

func TestNotifyNoStartedModules(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/notifications", `{"kind":"chain_reverted"}`)
	var body notifyResponse
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	if len(body.Executions) != 0 {
		t.Errorf("executions = %v, want none", body.Executions)
	}
}

func TestNotifyRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, body := range []string{`{`, `{"kind":""}`, `{"kind":"chain_exploded"}`} {
		resp := postJSON(t, ts.URL+"/v1/notifications", body)
		readBody(t, resp)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}
