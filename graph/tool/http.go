package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, body)
}

// HTTPTool performs HTTP requests on behalf of tool nodes.
//
// Input parameters:
//   - url (string, required): target URL
//   - method (string, optional): GET (default) or POST
//   - query (map[string]interface{}, optional): query parameters, values
//     rendered with %v; empty strings are skipped
//   - headers (map[string]interface{}, optional): request headers
//   - body (string or map, optional): request body; maps are sent as JSON
//
// Output:
//   - status_code (int)
//   - headers (map[string]interface{})
//   - body (string): raw body
//   - json (interface{}): decoded body when the response is JSON
//
// Non-2xx responses return a *StatusError.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates an HTTPTool with the given request timeout. Zero means
// 30 seconds.
func NewHTTPTool(timeout time.Duration) *HTTPTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTool{client: &http.Client{Timeout: timeout}}
}

// NewHTTPToolWithClient creates an HTTPTool that uses client.
func NewHTTPToolWithClient(client *http.Client) *HTTPTool {
	return &HTTPTool{client: client}
}

// Name implements Tool.
func (h *HTTPTool) Name() string {
	return "http_request"
}

// Call implements Tool.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if params, ok := input["query"].(map[string]interface{}); ok {
		q := u.Query()
		for key, value := range params {
			s := fmt.Sprintf("%v", value)
			if value == nil || s == "" {
				continue
			}
			q.Set(key, s)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := ""
	switch b := input["body"].(type) {
	case string:
		if b != "" {
			body = bytes.NewBufferString(b)
		}
	case map[string]interface{}:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	respHeaders := make(map[string]interface{})
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	result := map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "json") && len(respBody) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode JSON response: %w", err)
		}
		result["json"] = decoded
	}

	return result, nil
}
