package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ProcessClient is a thin process-management client. It uses its own
// *http.Client rather than the worker core's engine connection. §9 calls
// these operations "straightforward
// request/response plumbing" deliberately excluded from the core's depth;
// this wrapper exists only so the SDK surface is complete, not to add
// behavior beyond plain JSON request/response.
type ProcessClient struct {
	httpClient *http.Client
	baseURL    string
	authHeader string
}

// NewProcessClient builds a ProcessClient. baseURL is used as given (no
// port composition) and authHeader is sent verbatim as the Authorization
// header; the caller supplies both. A nil httpClient means
// http.DefaultClient.
func NewProcessClient(baseURL, authHeader string, httpClient *http.Client) *ProcessClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ProcessClient{httpClient: httpClient, baseURL: baseURL, authHeader: authHeader}
}

// CreateProcess submits a new process definition.
func (p *ProcessClient) CreateProcess(ctx context.Context, definition map[string]interface{}) (map[string]interface{}, error) {
	return p.do(ctx, http.MethodPost, "api/processes", definition)
}

// RunProcess starts a new run of an existing process by name.
func (p *ProcessClient) RunProcess(ctx context.Context, name string, input map[string]interface{}) (map[string]interface{}, error) {
	return p.do(ctx, http.MethodPost, "api/processes/"+name+"/run", input)
}

// SearchProcesses looks up process runs matching query.
func (p *ProcessClient) SearchProcesses(ctx context.Context, query map[string]interface{}) (map[string]interface{}, error) {
	return p.do(ctx, http.MethodPost, "api/processes/search", query)
}

// DeleteProcess removes a process definition by name.
func (p *ProcessClient) DeleteProcess(ctx context.Context, name string) error {
	_, err := p.do(ctx, http.MethodDelete, "api/processes/"+name, nil)
	return err
}

func (p *ProcessClient) do(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("processclient: encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("processclient: build request: %w", err)
	}
	req.Header.Set("Authorization", p.authHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("processclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("processclient: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("processclient: %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("processclient: decode body: %w", err)
	}
	return out, nil
}
