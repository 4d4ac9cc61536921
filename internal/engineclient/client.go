// ============================================================================
// Engine Client - External Orchestration Engine Transport
// ============================================================================
//
// Package: internal/engineclient
// File: client.go
// Purpose: Registration, polling, and bulk result submission over plain
//   HTTP+JSON against the remote orchestration engine. The engine transport
//   itself is deliberately out of the core's depth; this package is the
//   thin, interface-bound edge the Polling Controller, Registration
//   Coordinator, and Response Submitter are built against.
//
// Auth:
//   Every request carries "Authorization: Bearer client.sdk.{client-id}.
//   {sha256-hex(auth-token)}".
//
// URL Composition:
//   base-url + (explicit port, if one isn't already present in base-url) +
//   the operation's fixed path suffix (register / poll / bulkResults).
package engineclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

// HandlerDescriptor names one (namespace, name) queue the host offers, for
// registration (§4.5, §6).
type HandlerDescriptor struct {
	Namespace string
	Name      string
}

// PollRequest asks the engine for up to Size work items for one handler.
type PollRequest struct {
	Namespace string
	Name      string
	Size      int
}

// SubmitResult is the outcome of one bulk submission attempt.
type SubmitResult struct {
	// Accepted is true on HTTP 2xx.
	Accepted bool
	// StatusCode is the HTTP status (0 on transport failure).
	StatusCode int
	// Body is the raw response body, used for permanent-error keyword
	// matching by the Response Submitter (§4.3).
	Body string
}

// EngineClient is everything the core needs from the remote engine. The
// Polling Controller, Registration Coordinator, and Response Submitter all
// depend on this interface rather than on net/http directly, so tests can
// substitute a fake.
type EngineClient interface {
	Register(ctx context.Context, handlers []HandlerDescriptor) error
	Poll(ctx context.Context, requests []PollRequest) ([]*types.WorkItem, error)
	SubmitBulk(ctx context.Context, responses []types.WorkResponse) (SubmitResult, error)
}

// HTTP is the concrete EngineClient talking to the real engine over
// HTTP+JSON (§6).
type HTTP struct {
	clientID  string
	authToken string
	baseURL   string
	hostName  string
	http      *http.Client
}

// New builds an HTTP engine client. baseURL and port are composed per §6's
// "Server URL composition" rule. timeout bounds every individual request.
func New(clientID, authToken, baseURL string, port int, timeout time.Duration) *HTTP {
	return &HTTP{
		clientID:  clientID,
		authToken: authToken,
		baseURL:   composeServerURL(baseURL, port),
		hostName:  resolveHostName(),
		http:      &http.Client{Timeout: timeout},
	}
}

// composeServerURL implements §6's rule: strip a trailing slash; if the
// base already starts with "https:", or already names a port in its
// authority, leave it alone; otherwise append ":{port}".
func composeServerURL(baseURL string, port int) string {
	base := strings.TrimSuffix(baseURL, "/")
	if strings.HasPrefix(base, "https:") {
		return base
	}
	if hasExplicitPort(base) {
		return base
	}
	return fmt.Sprintf("%s:%d", base, port)
}

// hasExplicitPort reports whether the authority component of base already
// contains ":<digits>".
func hasExplicitPort(base string) bool {
	rest := base
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	_, port, err := net.SplitHostPort(rest)
	return err == nil && port != ""
}

// resolveHostName implements §6's host-name resolution order:
// UNMESHED_HOST_NAME, HOSTNAME, COMPUTERNAME, os.Hostname(), finally "-".
func resolveHostName() string {
	for _, env := range []string{"UNMESHED_HOST_NAME", "HOSTNAME", "COMPUTERNAME"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "-"
}

// authHeader computes "Bearer client.sdk.{client-id}.{sha256-hex(auth-token)}"
// (§6, §8.8).
func authHeader(clientID, authToken string) string {
	sum := sha256.Sum256([]byte(authToken))
	return fmt.Sprintf("Bearer client.sdk.%s.%s", clientID, hex.EncodeToString(sum[:]))
}

func (c *HTTP) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("engineclient: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("engineclient: build request: %w", err)
	}
	req.Header.Set("Authorization", authHeader(c.clientID, c.authToken))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Register announces handlers via PUT api/clients/register (§4.5, §6).
func (c *HTTP) Register(ctx context.Context, handlers []HandlerDescriptor) error {
	entries := make([]registerEntry, len(handlers))
	for i, h := range handlers {
		entries[i] = registerEntry{ProcessID: 0, Namespace: h.Namespace, StepType: types.StepType, Name: h.Name}
	}
	req, err := c.newRequest(ctx, http.MethodPut, "api/clients/register", entries)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engineclient: register: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("engineclient: register: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Poll requests work via POST api/clients/poll, with the UNMESHED_HOST_NAME
// header (§6).
func (c *HTTP) Poll(ctx context.Context, requests []PollRequest) ([]*types.WorkItem, error) {
	entries := make([]pollRequestEntry, len(requests))
	for i, r := range requests {
		entries[i] = pollRequestEntry{
			StepQueueNameData: stepQueueNameData{OrgID: 1, Namespace: r.Namespace, StepType: types.StepType, Name: r.Name},
			Size:              r.Size,
		}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "api/clients/poll", entries)
	if err != nil {
		return nil, err
	}
	req.Header.Set("UNMESHED_HOST_NAME", c.hostName)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engineclient: poll: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("engineclient: poll: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engineclient: poll: status %d: %s", resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		return nil, nil
	}
	var wireItems []wireWorkItem
	if err := json.Unmarshal(body, &wireItems); err != nil {
		return nil, fmt.Errorf("engineclient: poll: decode body: %w", err)
	}
	items := make([]*types.WorkItem, len(wireItems))
	for i, w := range wireItems {
		items[i] = w.toDomain()
	}
	return items, nil
}

// SubmitBulk posts a batch of Work Responses via POST api/clients/bulkResults
// (§4.3, §6). It never returns a Go error for a non-2xx response; that is a
// classification decision the Response Submitter makes from SubmitResult.
func (c *HTTP) SubmitBulk(ctx context.Context, responses []types.WorkResponse) (SubmitResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "api/clients/bulkResults", responses)
	if err != nil {
		return SubmitResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("engineclient: submit: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return SubmitResult{
		Accepted:   resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}, nil
}
