package querygatectl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querygatectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querygate API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	sessionID := fs.String("session", defaults.SessionID, "conversation id for ask and turns")
	chart := fs.String("chart", "", "chart preference for ask: auto, bar, line, pie or scatter")
	limit := fs.Int("n", 0, "number of turns or patterns to list (0 uses the server default)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	name := strings.TrimSpace(fs.Arg(0))
	rest := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	cmd, err := buildCommand(name, rest, *sessionID, *chart, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	code, responseBody, err := doRequest(ctx, client, cmd, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildCommand(name, arg, sessionID, chart string, limit int) (command, error) {
	needArg := func(what string) error {
		if arg == "" {
			return fmt.Errorf("%s requires %s", name, what)
		}
		return nil
	}

	switch name {
	case "health":
		return command{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return command{method: http.MethodGet, path: "/v1/ready"}, nil
	case "metrics":
		return command{method: http.MethodGet, path: "/v1/metrics/snapshot"}, nil
	case "schema":
		return command{method: http.MethodGet, path: "/v1/schema"}, nil
	case "schema-refresh":
		return command{method: http.MethodPost, path: "/v1/schema/refresh"}, nil
	case "ask":
		if err := needArg("a question"); err != nil {
			return command{}, err
		}
		body := map[string]any{"question": arg}
		if sessionID != "" {
			body["session_id"] = sessionID
		}
		if chart != "" {
			body["chart"] = chart
		}
		return command{method: http.MethodPost, path: "/v1/ask", body: body}, nil
	case "validate":
		if err := needArg("a SQL statement"); err != nil {
			return command{}, err
		}
		return command{method: http.MethodPost, path: "/v1/validate", body: map[string]any{"sql": arg}}, nil
	case "turns", "close-session":
		id := firstNonEmpty(arg, sessionID)
		if id == "" {
			return command{}, fmt.Errorf("%s requires a session id", name)
		}
		if name == "close-session" {
			return command{method: http.MethodDelete, path: "/v1/sessions/" + url.PathEscape(id)}, nil
		}
		path := "/v1/sessions/" + url.PathEscape(id) + "/turns"
		if limit > 0 {
			path += "?n=" + strconv.Itoa(limit)
		}
		return command{method: http.MethodGet, path: path}, nil
	case "patterns":
		path := "/v1/patterns"
		if limit > 0 {
			path += "?k=" + strconv.Itoa(limit)
		}
		return command{method: http.MethodGet, path: path}, nil
	case "lookup":
		if err := needArg("a question"); err != nil {
			return command{}, err
		}
		return command{method: http.MethodGet, path: "/v1/patterns/lookup?q=" + url.QueryEscape(arg)}, nil
	case "similar":
		if err := needArg("a question"); err != nil {
			return command{}, err
		}
		path := "/v1/patterns/similar?q=" + url.QueryEscape(arg)
		if limit > 0 {
			path += "&k=" + strconv.Itoa(limit)
		}
		return command{method: http.MethodGet, path: path}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", name)
	}
}

func doRequest(ctx context.Context, client *http.Client, cmd command, url, apiKey string) (int, []byte, error) {
	var body io.Reader
	if cmd.body != nil {
		raw, err := json.Marshal(cmd.body)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, cmd.method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querygatectl [flags] <command> [argument]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  metrics                GET /v1/metrics/snapshot")
	_, _ = fmt.Fprintln(w, "  ask <question>         POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  validate <sql>         POST /v1/validate")
	_, _ = fmt.Fprintln(w, "  schema                 GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  schema-refresh         POST /v1/schema/refresh")
	_, _ = fmt.Fprintln(w, "  turns [session]        GET /v1/sessions/{id}/turns")
	_, _ = fmt.Fprintln(w, "  close-session [session] DELETE /v1/sessions/{id}")
	_, _ = fmt.Fprintln(w, "  patterns               GET /v1/patterns")
	_, _ = fmt.Fprintln(w, "  lookup <question>      GET /v1/patterns/lookup")
	_, _ = fmt.Fprintln(w, "  similar <question>     GET /v1/patterns/similar")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
