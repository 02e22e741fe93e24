// Package gemini implements the novel.Provider interface against the Google
// generative language REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/novelarc/novelarc/internal/novel"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config holds client settings. The API key is an explicit constructor
// parameter, never ambient process state.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client talks to the generateContent endpoint.
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
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
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

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string `json:"response_mime_type,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web,omitempty"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata,omitempty"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

type metadataPayload struct {
	Title                 string   `json:"title"`
	Author                string   `json:"author"`
	Description           string   `json:"description"`
	TotalChaptersEstimate int      `json:"totalChaptersEstimate"`
	Chapters              []string `json:"chapters"`
}

// FindNovel asks the model to locate a novel and its chapter list. A refusal
// or not-found answer yields ok=false with a nil error; err is reserved for
// transport and parse failures.
func (c *Client) FindNovel(ctx context.Context, query string) (novel.Metadata, bool, error) {
	instruction := fmt.Sprintf(
		"Locate the novel matching the query %q. Respond with a single JSON object "+
			"with fields: title, author, description, totalChaptersEstimate (number), "+
			"chapters (ordered array of chapter title strings). "+
			"Answer in the same language as the query. "+
			"If you cannot identify the novel, respond with exactly the word NOT_FOUND.",
		query,
	)
	text, sources, err := c.generate(ctx, instruction)
	if err != nil {
		return novel.Metadata{}, false, err
	}
	text = stripCodeFence(text)
	// The prompt demands the bare word on a miss; only an exact answer counts
	// so a description that merely mentions NOT_FOUND is not a refusal.
	if trimmed := strings.TrimSpace(text); trimmed == "" || trimmed == "NOT_FOUND" {
		c.logger.Info("novel not found", zap.String("query", query))
		return novel.Metadata{}, false, nil
	}
	var payload metadataPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return novel.Metadata{}, false, fmt.Errorf("parse metadata response: %w", err)
	}
	if payload.Title == "" || len(payload.Chapters) == 0 {
		return novel.Metadata{}, false, nil
	}
	meta := novel.Metadata{
		Title:                 payload.Title,
		Author:                payload.Author,
		Description:           payload.Description,
		TotalChaptersEstimate: payload.TotalChaptersEstimate,
		ChapterTitles:         payload.Chapters,
		Sources:               dedupe(sources),
	}
	c.logger.Info("novel metadata resolved",
		zap.String("title", meta.Title),
		zap.Int("chapters", len(meta.ChapterTitles)),
		zap.Int("sources", len(meta.Sources)),
	)
	return meta, true, nil
}

// FetchChapterText reconstructs one chapter as Markdown. It never fails
// outward; any fault collapses into novel.PlaceholderContent so the caller can
// always proceed to persistence.
func (c *Client) FetchChapterText(ctx context.Context, novelTitle, chapterTitle string) string {
	instruction := fmt.Sprintf(
		"Reconstruct the full text of chapter %q from the novel %q as Markdown. "+
			"Begin with a level-1 heading equal to the chapter title. "+
			"Answer in the original language of the novel.",
		chapterTitle, novelTitle,
	)
	text, sources, err := c.generate(ctx, instruction)
	if err != nil {
		c.logger.Warn("chapter fetch failed",
			zap.String("novel", novelTitle),
			zap.String("chapter", chapterTitle),
			zap.Error(err),
		)
		return novel.PlaceholderContent
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.logger.Warn("chapter fetch returned empty result",
			zap.String("novel", novelTitle),
			zap.String("chapter", chapterTitle),
		)
		return novel.PlaceholderContent
	}
	if deduped := dedupe(sources); len(deduped) > 0 {
		var b strings.Builder
		b.WriteString(text)
		b.WriteString("\n\n## Sources\n")
		for _, src := range deduped {
			fmt.Fprintf(&b, "- %s\n", src)
		}
		return b.String()
	}
	return text
}

func (c *Client) generate(ctx context.Context, instruction string) (string, []string, error) {
	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: instruction}}}},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("generate request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("generate returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", nil, fmt.Errorf("generate error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return "", nil, nil
	}
	cand := parsed.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	var sources []string
	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				sources = append(sources, chunk.Web.URI)
			}
		}
	}
	return text.String(), sources, nil
}

// stripCodeFence removes a surrounding markdown code fence, if present, so
// fenced JSON answers still parse.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
