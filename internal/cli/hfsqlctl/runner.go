package hfsqlctl

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
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   any
	// raw responses are copied to stdout as-is instead of pretty-printed.
	raw bool
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

	fs := flag.NewFlagSet("hfsqlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "hfsql API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

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

	command := strings.TrimSpace(fs.Arg(0))
	req, err := buildRequest(command, fs.Args()[1:])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req.method, endpoint, *apiKey, req.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if req.raw {
		_, _ = stdout.Write(responseBody)
		return 0
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

func buildRequest(command string, args []string) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "views":
		return request{method: http.MethodGet, path: "/v1/views"}, nil
	case "load-views":
		body := map[string]string{}
		if len(args) > 0 {
			target := strings.TrimSpace(args[0])
			if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
				body["url"] = target
			} else {
				body["dataset"] = target
			}
		}
		return request{method: http.MethodPost, path: "/v1/views/load", body: body}, nil
	case "query":
		sqlText := strings.TrimSpace(strings.Join(args, " "))
		if sqlText == "" {
			return request{}, fmt.Errorf("query requires a SQL statement")
		}
		return request{method: http.MethodPost, path: "/v1/query", body: map[string]string{"sql": sqlText}}, nil
	case "page":
		if len(args) != 1 {
			return request{}, fmt.Errorf("page requires a start row")
		}
		start, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil || start < 0 {
			return request{}, fmt.Errorf("invalid start row %q", args[0])
		}
		return request{method: http.MethodGet, path: "/v1/query/rows?start=" + strconv.Itoa(start)}, nil
	case "cancel":
		return request{method: http.MethodPost, path: "/v1/query/cancel"}, nil
	case "status":
		return request{method: http.MethodGet, path: "/v1/query/status"}, nil
	case "prefs":
		return request{method: http.MethodGet, path: "/v1/preferences"}, nil
	case "export":
		if len(args) != 1 {
			return request{}, fmt.Errorf("export requires a name")
		}
		return request{method: http.MethodPost, path: "/v1/exports", body: map[string]string{"name": strings.TrimSpace(args[0])}}, nil
	case "exports":
		return request{method: http.MethodGet, path: "/v1/exports"}, nil
	case "download":
		if len(args) != 1 {
			return request{}, fmt.Errorf("download requires an export key")
		}
		return request{method: http.MethodGet, path: exportPath(args[0]), raw: true}, nil
	case "delete-export":
		if len(args) != 1 {
			return request{}, fmt.Errorf("delete-export requires an export key")
		}
		return request{method: http.MethodDelete, path: exportPath(args[0])}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func exportPath(key string) string {
	segments := strings.Split(strings.Trim(strings.TrimSpace(key), "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return "/v1/exports/" + strings.Join(segments, "/")
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
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

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
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
	_, _ = fmt.Fprintln(w, "usage: hfsqlctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  views                  GET /v1/views")
	_, _ = fmt.Fprintln(w, "  load-views [dataset]   POST /v1/views/load")
	_, _ = fmt.Fprintln(w, "  query <sql>            POST /v1/query")
	_, _ = fmt.Fprintln(w, "  page <start>           GET /v1/query/rows")
	_, _ = fmt.Fprintln(w, "  cancel                 POST /v1/query/cancel")
	_, _ = fmt.Fprintln(w, "  status                 GET /v1/query/status")
	_, _ = fmt.Fprintln(w, "  prefs                  GET /v1/preferences")
	_, _ = fmt.Fprintln(w, "  export <name>          POST /v1/exports")
	_, _ = fmt.Fprintln(w, "  exports                GET /v1/exports")
	_, _ = fmt.Fprintln(w, "  download <key>         GET /v1/exports/<key>")
	_, _ = fmt.Fprintln(w, "  delete-export <key>    DELETE /v1/exports/<key>")
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
