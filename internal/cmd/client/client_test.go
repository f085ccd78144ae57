package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

type apiStub struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string][]byte
	status   int
}

func newAPIStub(t *testing.T) (*apiStub, BaseURLFunc) {
	t.Helper()
	stub := &apiStub{bodies: map[string][]byte{}, status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		stub.mu.Lock()
		key := r.Method + " " + r.URL.Path
		stub.requests = append(stub.requests, key)
		stub.bodies[key] = buf.Bytes()
		status := stub.status
		stub.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status >= 300 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"relay: closed"}`))
			return
		}
		switch key {
		case "POST /v1/logs":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"accepted":1}`))
		case "GET /v1/stats":
			_, _ = w.Write([]byte(`{"pending":2,"submitted":1,"identity":"relay-x"}`))
		case "GET /v1/config", "PUT /v1/config":
			_, _ = w.Write(buf.Bytes())
			if buf.Len() == 0 {
				_, _ = w.Write([]byte(`{"endpoint":"http://collector"}`))
			}
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(srv.Close)
	return stub, func() string { return srv.URL }
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestAppendSendsPayload(t *testing.T) {
	stub, base := newAPIStub(t)
	out, err := run(t, NewRoot(base), "append", "hello", "--level", "warn", "--context", `{"order":"o-1"}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "accepted: 1") {
		t.Fatalf("output: %s", out)
	}
	var sent map[string]any
	if err := json.Unmarshal(stub.bodies["POST /v1/logs"], &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent["message"] != "hello" || sent["level"] != "warn" || sent["logger"] != "cli" {
		t.Fatalf("sent %v", sent)
	}
	if diff := cmp.Diff(map[string]any{"order": "o-1"}, sent["context"]); diff != "" {
		t.Fatalf("context (-want +got):\n%s", diff)
	}
}

func TestAppendRejectsBadContext(t *testing.T) {
	_, base := newAPIStub(t)
	if _, err := run(t, NewRoot(base), "append", "x", "--context", "{"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSimpleCommands(t *testing.T) {
	stub, base := newAPIStub(t)
	for _, args := range [][]string{{"flush"}, {"reconcile"}, {"reset", "--confirm"}} {
		if _, err := run(t, NewRoot(base), args...); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
	want := []string{"POST /v1/flush", "POST /v1/reconcile", "POST /v1/reset"}
	if diff := cmp.Diff(want, stub.requests); diff != "" {
		t.Fatalf("requests (-want +got):\n%s", diff)
	}
}

func TestResetRequiresConfirm(t *testing.T) {
	stub, base := newAPIStub(t)
	if _, err := run(t, NewRoot(base), "reset"); err == nil {
		t.Fatalf("expected error")
	}
	if len(stub.requests) != 0 {
		t.Fatalf("reset sent without confirm: %v", stub.requests)
	}
}

func TestStatsPrintsJSON(t *testing.T) {
	_, base := newAPIStub(t)
	out, err := run(t, NewRoot(base), "stats")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, `"pending": 2`) || !strings.Contains(out, `"identity": "relay-x"`) {
		t.Fatalf("output: %s", out)
	}
}

func TestConfigSetAndGet(t *testing.T) {
	stub, base := newAPIStub(t)
	out, err := run(t, NewRoot(base), "config", "set", "--endpoint", "http://collector/logs", "--header", "X-Api-Key=abc", "--header", "X-Tenant: t1")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	var sent configBody
	_ = json.Unmarshal(stub.bodies["PUT /v1/config"], &sent)
	want := configBody{Endpoint: "http://collector/logs", Headers: map[string]string{"X-Api-Key": "abc", "X-Tenant": "t1"}}
	if diff := cmp.Diff(want, sent); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}
	if !strings.Contains(out, "http://collector/logs") {
		t.Fatalf("output: %s", out)
	}

	out, err = run(t, NewRoot(base), "config", "get")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, `"endpoint": "http://collector"`) {
		t.Fatalf("output: %s", out)
	}
}

func TestServerErrorsSurface(t *testing.T) {
	stub, base := newAPIStub(t)
	stub.mu.Lock()
	stub.status = http.StatusServiceUnavailable
	stub.mu.Unlock()
	_, err := run(t, NewRoot(base), "flush")
	if err == nil || !strings.Contains(err.Error(), "relay: closed") {
		t.Fatalf("got %v", err)
	}
}

func TestParseHeaders(t *testing.T) {
	got, err := parseHeaders([]string{"a=1", "b: 2", "c=x=y"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"a": "1", "b": "2", "c": "x=y"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if _, err := parseHeaders([]string{"novalue"}); err == nil {
		t.Fatalf("expected error")
	}
	if h, _ := parseHeaders(nil); h != nil {
		t.Fatalf("expected nil map")
	}
}
