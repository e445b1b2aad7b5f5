package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/registry"
	"github.com/awantoch/beemflow/templater"
)

// defaultClient is shared by every HTTP-backed adapter: bounded by a timeout
// and instrumented with otelhttp so adapter calls show up in traces.
var defaultClient = &http.Client{
	Timeout:   30 * time.Second,
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

// HTTPAdapter invokes a manifest-driven tool over HTTP. Endpoint, headers,
// and body templates expand against the manifest context (vars, env,
// secrets, event; no outputs) plus the rendered parameters, and $env:NAME
// substitutions resolve at invocation time.
type HTTPAdapter struct {
	AdapterID    string
	ToolManifest *registry.ToolManifest
	Templater    *templater.Templater
}

func (a *HTTPAdapter) ID() string { return a.AdapterID }

func (a *HTTPAdapter) Manifest() *registry.ToolManifest { return a.ToolManifest }

func (a *HTTPAdapter) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	m := a.ToolManifest
	if m == nil {
		return nil, errors.Validation("no manifest for tool %s", a.AdapterID)
	}
	// Manifest entries without an endpoint delegate to the generic adapter.
	if m.Endpoint == "" {
		fetch := HTTPFetchAdapter{}
		return fetch.Execute(ctx, inputs)
	}
	tctx, _ := inputs[ContextKey].(map[string]any)
	params := stripReserved(inputs)
	injectDefaults(m.Parameters, params)

	data := make(map[string]any, len(tctx)+1)
	for k, v := range tctx {
		data[k] = v
	}
	data["params"] = params

	tpl := a.Templater
	if tpl == nil {
		tpl = templater.New()
	}
	endpoint, err := tpl.Render(expandEnv(m.Endpoint), data)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(m.Method)
	if method == "" {
		method = http.MethodPost
	}
	headers := map[string]string{}
	for k, v := range m.Headers {
		rendered, err := tpl.Render(expandEnv(v), data)
		if err != nil {
			return nil, err
		}
		headers[k] = rendered
	}
	// Step-supplied headers win over manifest headers.
	if h, ok := params["headers"].(map[string]any); ok {
		delete(params, "headers")
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	var body any = params
	if m.Body != nil {
		body, err = tpl.EvalValue(m.Body, data)
		if err != nil {
			return nil, err
		}
	}
	return doJSON(ctx, method, endpoint, headers, body)
}

// injectDefaults merges schema property defaults into params for any missing
// fields.
func injectDefaults(schema map[string]any, params map[string]any) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if _, present := params[name]; !present {
			if def, has := prop["default"]; has {
				params[name] = def
			}
		}
	}
}

// expandEnv resolves $env:NAME substitutions against the process
// environment.
func expandEnv(s string) string {
	for {
		start := strings.Index(s, "$env:")
		if start == -1 {
			return s
		}
		end := start + len("$env:")
		for end < len(s) && (s[end] == '_' ||
			(s[end] >= 'A' && s[end] <= 'Z') ||
			(s[end] >= 'a' && s[end] <= 'z') ||
			(s[end] >= '0' && s[end] <= '9')) {
			end++
		}
		s = s[:start] + os.Getenv(s[start+len("$env:"):end]) + s[end:]
	}
}

// doJSON sends body as JSON and decodes the response. Object responses
// merge into the outputs map; arrays and primitives wrap under body.
func doJSON(ctx context.Context, method, endpoint string, headers map[string]string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil && method != http.MethodGet {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Adapter("%s %s: marshal body: %v", method, endpoint, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.Adapter("%s %s: %v", method, endpoint, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/*;q=0.9, */*;q=0.8")
	}
	resp, err := defaultClient.Do(req)
	if err != nil {
		return nil, errors.Adapter("%s %s: %v", method, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Adapter("%s %s: read response: %v", method, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Adapter("%s %s returned %d", method, endpoint, resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", truncateBody(raw))
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return map[string]any{"body": string(raw)}, nil
	}
	if obj, ok := parsed.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"body": parsed}, nil
}

func truncateBody(raw []byte) string {
	const max = 2048
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}

// HTTPFetchAdapter is the generic http tool: full request control with url,
// method, headers, query, and body.
type HTTPFetchAdapter struct{}

func (a *HTTPFetchAdapter) ID() string { return "http" }

func (a *HTTPFetchAdapter) Manifest() *registry.ToolManifest {
	return &registry.ToolManifest{
		Name:        a.ID(),
		Description: "Generic HTTP request",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"url"},
			"properties": map[string]any{
				"url":     map[string]any{"type": "string"},
				"method":  map[string]any{"type": "string"},
				"headers": map[string]any{"type": "object"},
				"query":   map[string]any{"type": "object"},
				"body":    map[string]any{},
			},
		},
	}
}

func (a *HTTPFetchAdapter) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	rawURL, ok := inputs["url"].(string)
	if !ok || rawURL == "" {
		return nil, errors.Validation("missing url")
	}
	method := http.MethodGet
	if m, ok := inputs["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, errors.Validation("unsupported method %s", method)
	}
	if q, ok := inputs["query"].(map[string]any); ok && len(q) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, errors.Validation("invalid url %s: %v", rawURL, err)
		}
		query := u.Query()
		for k, v := range q {
			query.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = query.Encode()
		rawURL = u.String()
	}
	headers := map[string]string{}
	if h, ok := inputs["headers"].(map[string]any); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	var body any
	if method != http.MethodGet {
		body = inputs["body"]
	}
	return doJSON(ctx, method, rawURL, headers, body)
}
