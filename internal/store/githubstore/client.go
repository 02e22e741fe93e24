// Package githubstore implements the novel.FileStore interface against the
// GitHub repository-contents REST API.
package githubstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.github.com"

// Config identifies the target repository. Token, owner and repo are
// per-session values supplied by the caller.
type Config struct {
	BaseURL string
	Token   string
	Owner   string
	Repo    string
	Timeout time.Duration
}

// Client talks to the repository-contents endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs a Client, applying defaults for unset fields.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Validate checks that the repository is reachable with the configured token.
func (c *Client) Validate(ctx context.Context) error {
	u := fmt.Sprintf("%s/repos/%s/%s", c.cfg.BaseURL, c.cfg.Owner, c.cfg.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build validate request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("validate repository: %w", err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("repository %s/%s not accessible: status %d",
			c.cfg.Owner, c.cfg.Repo, resp.StatusCode)
	}
	return nil
}

// Stat returns the current blob SHA for path, or ok=false when the path does
// not exist yet.
func (c *Client) Stat(ctx context.Context, path string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentsURL(path), nil)
	if err != nil {
		return "", false, fmt.Errorf("build stat request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("stat %s: %w", path, err)
	}
	defer drainAndClose(resp.Body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return "", false, nil
	case http.StatusOK:
		var body struct {
			SHA string `json:"sha"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", false, fmt.Errorf("decode stat response: %w", err)
		}
		return body.SHA, true, nil
	default:
		return "", false, fmt.Errorf("stat %s: unexpected status %d", path, resp.StatusCode)
	}
}

// Put creates or updates path with content. version carries the SHA from Stat
// for updates and is empty for new files. Content is base64-encoded on the
// wire, so arbitrary Unicode text round-trips.
func (c *Client) Put(ctx context.Context, path string, content []byte, message, version string) error {
	payload := struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha,omitempty"`
	}{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     version,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal put payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentsURL(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build put request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("put %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	c.logger.Debug("file stored",
		zap.String("path", path),
		zap.Int("bytes", len(content)),
		zap.Bool("update", version != ""),
	)
	return nil
}

// contentsURL builds the contents endpoint URL, percent-encoding each path
// segment while keeping separators intact. Encoding happens only at this
// transport boundary.
func (c *Client) contentsURL(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.cfg.BaseURL, c.cfg.Owner, c.cfg.Repo, strings.Join(segments, "/"))
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
