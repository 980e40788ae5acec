// Package client talks to a running hylord daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const DefaultBaseURL = "http://127.0.0.1:5580/api"

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("API error (%d): %s", e.Status, e.Message) }

// Client provides HTTP client functionality to communicate with the daemon
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	token    string
	username string
	password string
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	// CACert trusts a self-signed daemon certificate.
	CACert   string
	Insecure bool // Skip TLS verification
	// Token is sent as a bearer credential; Username/Password as basic auth
	// when no token is set.
	Token    string
	Username string
	Password string
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: 10 * time.Minute}
}

// New creates a new API client. Backups can take minutes so the default
// timeout is generous.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.CACert != "" || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL:  config.BaseURL,
		logger:   config.Logger,
		token:    config.Token,
		username: config.Username,
		password: config.Password,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

func (c *Client) Start(ctx context.Context) error   { return c.post(ctx, "/start", nil) }
func (c *Client) Stop(ctx context.Context) error    { return c.post(ctx, "/stop", nil) }
func (c *Client) Restart(ctx context.Context) error { return c.post(ctx, "/restart", nil) }

// Command sends a raw console command.
func (c *Client) Command(ctx context.Context, text string) error {
	return c.post(ctx, "/command", map[string]string{"text": text})
}

func (c *Client) Say(ctx context.Context, message string) error {
	return c.post(ctx, "/say", map[string]string{"message": message})
}

func (c *Client) Op(ctx context.Context, name string) error   { return c.player(ctx, "/op", name) }
func (c *Client) Deop(ctx context.Context, name string) error { return c.player(ctx, "/deop", name) }
func (c *Client) Kick(ctx context.Context, name string) error { return c.player(ctx, "/kick", name) }
func (c *Client) Ban(ctx context.Context, name string) error  { return c.player(ctx, "/ban", name) }

func (c *Client) Unban(ctx context.Context, target string) (Ban, error) {
	var b Ban
	err := c.do(ctx, http.MethodPost, "/unban", map[string]string{"target": target}, &b)
	return b, err
}

func (c *Client) Players(ctx context.Context) ([]Player, error) {
	var out []Player
	err := c.do(ctx, http.MethodGet, "/players", nil, &out)
	return out, err
}

func (c *Client) Playtime(ctx context.Context) ([]Playtime, error) {
	var out []Playtime
	err := c.do(ctx, http.MethodGet, "/playtime", nil, &out)
	return out, err
}

func (c *Client) Bans(ctx context.Context) ([]Ban, error) {
	var out []Ban
	err := c.do(ctx, http.MethodGet, "/bans", nil, &out)
	return out, err
}

func (c *Client) Schedule(ctx context.Context) (Schedule, error) {
	var s Schedule
	err := c.do(ctx, http.MethodGet, "/schedule", nil, &s)
	return s, err
}

func (c *Client) Backups(ctx context.Context) ([]Backup, error) {
	var out []Backup
	err := c.do(ctx, http.MethodGet, "/backups", nil, &out)
	return out, err
}

func (c *Client) CreateBackup(ctx context.Context) (Backup, error) {
	var b Backup
	err := c.do(ctx, http.MethodPost, "/backups", nil, &b)
	return b, err
}

func (c *Client) RestoreBackup(ctx context.Context, name string) (RestoreResult, error) {
	var r RestoreResult
	err := c.do(ctx, http.MethodPost, "/backups/restore", map[string]string{"name": name}, &r)
	return r, err
}

func (c *Client) player(ctx context.Context, path, name string) error {
	return c.post(ctx, path, map[string]string{"name": name})
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// do performs the request and decodes a 2xx body into out when set.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}

func handleErrorResponse(resp *http.Response) error {
	var e ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return &APIError{Status: resp.StatusCode, Message: e.Error}
}

// IsStatus reports whether err is an API error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var e *APIError
	return errors.As(err, &e) && e.Status == status
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}
	caCert, err := os.ReadFile(config.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
