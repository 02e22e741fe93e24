package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novelarc/novelarc/internal/novel"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"}, nil)
	return srv, client
}

func candidateResponse(text string, sources ...string) map[string]any {
	cand := map[string]any{
		"content": map[string]any{
			"parts": []map[string]any{{"text": text}},
		},
		"finishReason": "STOP",
	}
	if len(sources) > 0 {
		chunks := make([]map[string]any, 0, len(sources))
		for _, s := range sources {
			chunks = append(chunks, map[string]any{"web": map[string]any{"uri": s}})
		}
		cand["groundingMetadata"] = map[string]any{"groundingChunks": chunks}
	}
	return map[string]any{"candidates": []map[string]any{cand}}
}

func TestFindNovelParsesFencedJSON(t *testing.T) {
	t.Parallel()

	payload := "```json\n" +
		`{"title":"斗罗大陆","author":"唐家三少","description":"d","totalChaptersEstimate":3,` +
		`"chapters":["第一章","第二章","第三章"]}` + "\n```"
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.Contains(t, r.URL.Path, "test-model:generateContent")
		require.NoError(t, json.NewEncoder(w).Encode(
			candidateResponse(payload, "https://a.example", "https://a.example", "https://b.example")))
	})

	meta, ok, err := client.FindNovel(context.Background(), "斗罗大陆")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "斗罗大陆", meta.Title)
	require.Equal(t, []string{"第一章", "第二章", "第三章"}, meta.ChapterTitles)
	require.Equal(t, 3, meta.TotalChaptersEstimate)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, meta.Sources,
		"grounding sources must be deduplicated")
}

func TestFindNovelNotFoundIsNotAnError(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(candidateResponse("NOT_FOUND")))
	})

	_, ok, err := client.FindNovel(context.Background(), "unknown book")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindNovelMentionOfNotFoundInFieldsIsNotARefusal(t *testing.T) {
	t.Parallel()

	payload := `{"title":"The NOT_FOUND Files","author":"A",` +
		`"description":"a detective chases a NOT_FOUND error","totalChaptersEstimate":1,` +
		`"chapters":["C1"]}`
	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(candidateResponse(payload)))
	})

	meta, ok, err := client.FindNovel(context.Background(), "not found files")
	require.NoError(t, err)
	require.True(t, ok, "only a bare NOT_FOUND answer is a refusal")
	require.Equal(t, "The NOT_FOUND Files", meta.Title)
}

func TestFindNovelUnparseableIsAnError(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(candidateResponse("this is not json")))
	})

	_, _, err := client.FindNovel(context.Background(), "query")
	require.Error(t, err)
}

func TestFetchChapterTextReturnsMarkdownWithSourcesFooter(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(
			candidateResponse("# Ch1\n\nbody", "https://s.example", "https://s.example")))
	})

	got := client.FetchChapterText(context.Background(), "Novel", "Ch1")
	require.Contains(t, got, "# Ch1")
	require.Contains(t, got, "## Sources")
	require.Equal(t, 1, strings.Count(got, "https://s.example"))
}

func TestFetchChapterTextNeverFailsOutward(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "empty candidate",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				require.NoError(t, json.NewEncoder(w).Encode(candidateResponse("  ")))
			},
		},
		{
			name: "no candidates",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}}))
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, client := newTestServer(t, tc.handler)
			got := client.FetchChapterText(context.Background(), "Novel", "Ch1")
			require.Equal(t, novel.PlaceholderContent, got)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"{}", "{}"},
		{"```json\n{}\n```", "{}"},
		{"```\n{}\n```", "{}"},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"plain text", "plain text"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, stripCodeFence(tc.in))
	}
}

