package querygatectl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunAskCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sql":"SELECT 1","summary":"one"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"-session", "s-1",
		"-chart", "bar",
		"ask", "How many", "customers?",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/ask" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" {
		t.Fatalf("api key = %q", gotAPIKey)
	}
	if gotBody["question"] != "How many customers?" || gotBody["session_id"] != "s-1" || gotBody["chart"] != "bar" {
		t.Fatalf("body = %#v", gotBody)
	}
	if !strings.Contains(stdout.String(), `"summary": "one"`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunRoutesCommands(t *testing.T) {
	cases := []struct {
		args   []string
		method string
		uri    string
	}{
		{[]string{"metrics"}, http.MethodGet, "/v1/metrics/snapshot"},
		{[]string{"schema-refresh"}, http.MethodPost, "/v1/schema/refresh"},
		{[]string{"-n", "3", "turns", "s-9"}, http.MethodGet, "/v1/sessions/s-9/turns?n=3"},
		{[]string{"-session", "s-2", "close-session"}, http.MethodDelete, "/v1/sessions/s-2"},
		{[]string{"-n", "5", "patterns"}, http.MethodGet, "/v1/patterns?k=5"},
		{[]string{"lookup", "top", "products"}, http.MethodGet, "/v1/patterns/lookup?q=top+products"},
		{[]string{"-n", "2", "similar", "top", "products"}, http.MethodGet, "/v1/patterns/similar?q=top+products&k=2"},
	}
	for _, tc := range cases {
		var gotMethod, gotURI string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotURI = r.URL.RequestURI()
			_, _ = w.Write([]byte(`{}`))
		}))

		code := Run(context.Background(), append([]string{"-base-url", srv.URL}, tc.args...), Options{})
		srv.Close()
		if code != 0 {
			t.Fatalf("%v exit code = %d", tc.args, code)
		}
		if gotMethod != tc.method || gotURI != tc.uri {
			t.Fatalf("%v request = %s %s, want %s %s", tc.args, gotMethod, gotURI, tc.method, tc.uri)
		}
	}
}

func TestRunMissingArgument(t *testing.T) {
	for _, name := range []string{"ask", "validate", "turns", "lookup", "similar"} {
		var stderr bytes.Buffer
		code := Run(context.Background(), []string{name}, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("%s exit code = %d", name, code)
		}
		if !strings.Contains(stderr.String(), "requires") {
			t.Fatalf("%s stderr = %s", name, stderr.String())
		}
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error_code":"QUERY_REJECTED"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "validate", "DROP TABLE customers"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "QUERY_REJECTED") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}
