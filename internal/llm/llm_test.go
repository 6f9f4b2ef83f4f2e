package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt(t *testing.T) {
	system, user := buildPrompt("Akismet", "Spam protection for comments.")

	assert.Contains(t, system, "single plain-text sentence")
	assert.Contains(t, user, "Project: Akismet")
	assert.Contains(t, user, "Spam protection for comments.")
}

func TestBuildPrompt_TruncatesDescription(t *testing.T) {
	_, user := buildPrompt("x", strings.Repeat("a", maxDescriptionBytes+500))
	assert.Less(t, len(user), maxDescriptionBytes+100)
}

func TestCleanExcerpt(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Blocks comment spam.", "Blocks comment spam."},
		{"quoted", "\"Blocks comment spam.\"", "Blocks comment spam."},
		{"multi line", "Blocks comment spam.\n\nSecond paragraph.", "Blocks comment spam."},
		{"whitespace", "  \n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanExcerpt(tt.in))
		})
	}
}

func TestCleanExcerpt_Long(t *testing.T) {
	got := cleanExcerpt(strings.Repeat("word ", 100))
	assert.LessOrEqual(t, len([]rune(got)), maxExcerptRunes)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func fakeAnthropic(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "test-model",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": reply}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSummarize(t *testing.T) {
	srv := fakeAnthropic(t, "\"Fast static site generator for docs.\"")
	c := NewClient("test-key", "test-model", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	got, err := c.Summarize(context.Background(), "Docs", "A generator.")
	require.NoError(t, err)
	assert.Equal(t, "Fast static site generator for docs.", got)
}

func TestSummarize_EmptyReply(t *testing.T) {
	srv := fakeAnthropic(t, "   ")
	c := NewClient("test-key", "test-model", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	_, err := c.Summarize(context.Background(), "Docs", "A generator.")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestSummarize_EmptyDescription(t *testing.T) {
	c := NewClient("test-key", "test-model")
	_, err := c.Summarize(context.Background(), "Docs", " ")
	assert.Error(t, err)
}
