package modal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ServiceInvoker calls a named backend service method on behalf of a button.
type ServiceInvoker interface {
	Invoke(ctx context.Context, service string, method string, params map[string]any) (map[string]any, error)
}

type InvokerFunc func(ctx context.Context, service string, method string, params map[string]any) (map[string]any, error)

func (f InvokerFunc) Invoke(ctx context.Context, service string, method string, params map[string]any) (map[string]any, error) {
	return f(ctx, service, method, params)
}

// HTTPInvoker posts params as JSON to <endpoint>/<method>, one endpoint per service.
type HTTPInvoker struct {
	endpoints map[string]string
	client    *http.Client
}

func NewHTTPInvoker(endpoints map[string]string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPInvoker{endpoints: endpoints, client: client}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, service string, method string, params map[string]any) (map[string]any, error) {
	base, ok := h.endpoints[service]
	if !ok {
		return nil, fmt.Errorf("no endpoint configured for service %s", service)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	url := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(method, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("service %s.%s returned %d", service, method, resp.StatusCode)
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("service %s.%s returned invalid json: %w", service, method, err)
		}
	}
	return out, nil
}
