package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/signalsfoundry/satlink/internal/api"
	"github.com/signalsfoundry/satlink/internal/authority"
	"github.com/signalsfoundry/satlink/model"
)

// Client talks to a ground station.
type Client interface {
	Send(ctx context.Context, opcode string, params map[string]any, key string) (authority.Result, error)
	Status(ctx context.Context) (model.LinkState, error)
	History(ctx context.Context) ([]authority.HistoryEntry, error)
	Logs(ctx context.Context) ([]string, error)
}

// APIError is an error envelope returned by the ground station.
type APIError struct {
	StatusCode int
	Code       string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Details, e.StatusCode)
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details string          `json:"details"`
}

type httpClient struct {
	server string
	hc     *http.Client
}

func newHTTPClient(server string) Client {
	return &httpClient{
		server: strings.TrimRight(server, "/"),
		hc:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *httpClient) Send(ctx context.Context, opcode string, params map[string]any, key string) (authority.Result, error) {
	body, err := json.Marshal(api.CommandRequest{Opcode: opcode, Params: params})
	if err != nil {
		return authority.Result{}, err
	}
	var res authority.Result
	err = c.do(ctx, http.MethodPost, "/api/command", body, key, &res)
	return res, err
}

func (c *httpClient) Status(ctx context.Context) (model.LinkState, error) {
	var st model.LinkState
	err := c.do(ctx, http.MethodGet, "/api/ground_state", nil, "", &st)
	return st, err
}

func (c *httpClient) History(ctx context.Context) ([]authority.HistoryEntry, error) {
	var out struct {
		Commands []authority.HistoryEntry `json:"commands"`
	}
	err := c.do(ctx, http.MethodGet, "/api/commands", nil, "", &out)
	return out.Commands, err
}

func (c *httpClient) Logs(ctx context.Context) ([]string, error) {
	var out struct {
		Logs []string `json:"logs"`
	}
	err := c.do(ctx, http.MethodGet, "/api/logs", nil, "", &out)
	return out.Logs, err
}

func (c *httpClient) do(ctx context.Context, method, path string, body []byte, key string, into any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-Auth-Key", key)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if env.Status != "ok" {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Error, Details: env.Details}
	}
	if into == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, into)
}
