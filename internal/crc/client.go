// Package crc talks to CodeReady Containers: the daemon's HTTP API served on a
// local unix socket, and the crc command-line binary for the operations the
// daemon does not offer (setup, config set, launching the daemon itself).
//
// Daemon-reported strings are translated into the Preset and ClusterStatus
// types here, so the rest of the provider never compares raw status strings.
package crc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// baseURL is a placeholder host; every request is dialed to the unix socket.
const baseURL = "http://unix"

// Client is the CRC daemon API client.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient creates a client for the daemon listening on socketPath. The
// timeout bounds a whole request, so it must cover a cluster start.
func NewClient(socketPath string, timeout time.Duration) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		// A fresh connection per request keeps an EOF meaningful: it can only
		// come from the daemon closing this request's connection.
		DisableKeepAlives: true,
	}

	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// SocketPath returns the daemon socket this client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Version returns the daemon and bundle versions.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Status returns the current cluster status.
func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	var info StatusInfo
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Start starts the cluster and blocks until the daemon reports the outcome.
// A successful response without a body returns ErrEmptyResponse.
func (c *Client) Start(ctx context.Context) (*StartResult, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/start", nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyResponse
	}

	var result StartResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response of /api/start: %w", err)
	}
	return &result, nil
}

// Stop stops the cluster.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/stop", nil, nil)
}

// Delete deletes the cluster virtual machine.
func (c *Client) Delete(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/delete", nil, nil)
}

// ConfigGet returns the daemon's configuration.
func (c *Client) ConfigGet(ctx context.Context) (*Configuration, error) {
	var cfg Configuration
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PullSecretStore forwards the pull secret document verbatim.
func (c *Client) PullSecretStore(ctx context.Context, secret string) error {
	return c.do(ctx, http.MethodPost, "/api/pull-secret", strings.NewReader(secret), nil)
}

// Logs returns the daemon's buffered log messages, oldest first.
func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var resp logsResponse
	if err := c.do(ctx, http.MethodGet, "/api/logs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isDialError(err) {
			return fmt.Errorf("%w: %w", ErrDaemonUnavailable, err)
		}
		return fmt.Errorf("crc daemon %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response of %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", path, err)
	}
	return nil
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
