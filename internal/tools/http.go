package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Placeholder is replaced by the escaped argument in an HTTP tool URL.
const Placeholder = "{query}"

const defaultMaxBytes = 4096

type HTTPOptions struct {
	// Field is a dotted path into a JSON response. Empty returns the raw body.
	Field    string
	MaxBytes int
	Client   *http.Client
}

// HTTPTool looks up its argument with a GET request.
type HTTPTool struct {
	name, description string
	urlTemplate       string
	opts              HTTPOptions
}

func NewHTTPTool(name, description, urlTemplate string, opts HTTPOptions) (*HTTPTool, error) {
	if !strings.Contains(urlTemplate, Placeholder) {
		return nil, fmt.Errorf("tool %s: url %q has no %s placeholder", name, urlTemplate, Placeholder)
	}
	if _, err := url.Parse(strings.ReplaceAll(urlTemplate, Placeholder, "x")); err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTool{name: name, description: description, urlTemplate: urlTemplate, opts: opts}, nil
}

func (t *HTTPTool) Name() string        { return t.name }
func (t *HTTPTool) Description() string { return t.description }

func (t *HTTPTool) Call(ctx context.Context, arg string) (string, error) {
	target := strings.ReplaceAll(t.urlTemplate, Placeholder, url.QueryEscape(strings.TrimSpace(arg)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", t.name, err)
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9")

	resp, err := t.opts.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", t.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("tool %s: reading response: %w", t.name, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "Your search returned no hits, try again with a short identifier.", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("tool %s: HTTP %d: %s", t.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	text := string(body)
	if t.opts.Field != "" {
		if text, err = extractField(body, t.opts.Field); err != nil {
			return "", fmt.Errorf("tool %s: %w", t.name, err)
		}
	}
	text = strings.TrimSpace(text)
	if len(text) > t.opts.MaxBytes {
		text = strings.ToValidUTF8(text[:t.opts.MaxBytes], "")
	}
	return text, nil
}

func extractField(body []byte, path string) (string, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	for _, key := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return "", fmt.Errorf("field %q: %q is not an object", path, key)
		}
		if v, ok = m[key]; !ok {
			return "", fmt.Errorf("field %q: missing %q", path, key)
		}
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	out, err := json.Marshal(v)
	return string(out), err
}
