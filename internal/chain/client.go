// Package chain reads vault and strategy-router state from a Movement
// (Aptos-compatible) full node through its REST view and resource endpoints.
//
// Reads never return errors to callers. A failed call yields a
// model.Reading with Available=false so renderers can show a stale or loading
// state. The reader does not retry; retry policy belongs to the refresh
// scheduler.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moveflow/vault-engine/internal/contract"
	"github.com/moveflow/vault-engine/internal/metrics"
)

// ErrNoEndpoints is returned when a client has no node URLs configured.
var ErrNoEndpoints = errors.New("chain: no node endpoints configured")

const maxResponseBytes = 4 << 20

// NodeError is a non-200 response from the node REST API.
type NodeError struct {
	Status      int    `json:"-"`
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
	VMErrorCode *int   `json:"vm_error_code,omitempty"`
}

func (e *NodeError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("node error %d (%s): %s", e.Status, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("node error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the node.
func IsNotFound(err error) bool {
	var ne *NodeError
	return errors.As(err, &ne) && ne.Status == http.StatusNotFound
}

// Client is a minimal REST client for view calls and resource reads.
type Client struct {
	urls       []string
	httpClient *http.Client
}

// NewClient creates a client with the given node URLs, e.g.
// https://testnet.movementnetwork.xyz/v1. The first URL is primary; others
// are fallbacks.
func NewClient(timeout time.Duration, urls ...string) *Client {
	clean := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			clean = append(clean, u)
		}
	}
	return &Client{
		urls: clean,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []string `json:"arguments"`
}

// View executes a view function and returns its raw return values.
func (c *Client) View(ctx context.Context, fn contract.Function, typeArgs []string, args ...string) ([]json.RawMessage, error) {
	req := viewRequest{
		Function:      fn.String(),
		TypeArguments: typeArgs,
		Arguments:     args,
	}
	if req.TypeArguments == nil {
		req.TypeArguments = []string{}
	}
	if req.Arguments == nil {
		req.Arguments = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal view request: %w", err)
	}

	start := time.Now()
	defer metrics.ObserveSince(metrics.ChainViewLatency.WithLabelValues(fn.Name), start)

	var out []json.RawMessage
	if err := c.each(ctx, func(base string) error {
		return c.do(ctx, http.MethodPost, base+"/view", body, &out)
	}); err != nil {
		return nil, fmt.Errorf("view %s: %w", fn, err)
	}
	return out, nil
}

// Resource reads the data of one account resource.
func (c *Client) Resource(ctx context.Context, address, resourceType string) (json.RawMessage, error) {
	path := "/accounts/" + address + "/resource/" + url.PathEscape(resourceType)

	var out struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := c.each(ctx, func(base string) error {
		return c.do(ctx, http.MethodGet, base+path, nil, &out)
	}); err != nil {
		return nil, fmt.Errorf("resource %s: %w", resourceType, err)
	}
	return out.Data, nil
}

// each tries fn against every endpoint until one succeeds. Client errors
// (4xx) are deterministic and returned without trying fallbacks.
func (c *Client) each(ctx context.Context, fn func(base string) error) error {
	if len(c.urls) == 0 {
		return ErrNoEndpoints
	}
	var lastErr error
	for _, base := range c.urls {
		err := fn(base)
		if err == nil {
			return nil
		}
		lastErr = err
		var ne *NodeError
		if errors.As(err, &ne) && ne.Status >= 400 && ne.Status < 500 {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("all endpoints failed: %w", lastErr)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		ne := &NodeError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, ne) != nil || ne.Message == "" {
			ne.Message = strings.TrimSpace(string(respBody))
		}
		return ne
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
