package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-haiku-4-5"

// Longest description sent to the model, in bytes.
const maxDescriptionBytes = 8000

// Longest excerpt kept from a response, in runes.
const maxExcerptRunes = 280

// ErrEmptyResponse means the model returned no usable text.
var ErrEmptyResponse = errors.New("no text content in API response")

// Client wraps the Anthropic API for catalog excerpt generation.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildPrompt constructs the system and user prompts for excerpt generation.
func buildPrompt(title, description string) (system string, user string) {
	system = `You write catalog excerpts for an open-source project directory. Given a project's title and its README description, reply with a single plain-text sentence of at most 200 characters saying what the project does.

Rules:
- No markdown, no quotes, no leading "This project"
- Do not mention versions, badges, installation steps or licenses
- Reply with the sentence only`

	if len(description) > maxDescriptionBytes {
		description = description[:maxDescriptionBytes]
	}

	var sb strings.Builder
	sb.WriteString("Project: ")
	sb.WriteString(title)
	sb.WriteString("\n\nDescription:\n")
	sb.WriteString(description)
	user = sb.String()
	return
}

// Summarize returns a one-sentence excerpt for the project.
func (c *Client) Summarize(ctx context.Context, title, description string) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", errors.New("empty description")
	}
	systemPrompt, userPrompt := buildPrompt(title, description)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			if s := cleanExcerpt(block.Text); s != "" {
				return s, nil
			}
		}
	}
	return "", ErrEmptyResponse
}

// cleanExcerpt flattens a model reply to one trimmed line without wrapping
// quotes, cut at maxExcerptRunes.
func cleanExcerpt(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	text = strings.Trim(text, "\"'`")
	text = strings.TrimSpace(text)

	r := []rune(text)
	if len(r) > maxExcerptRunes {
		text = strings.TrimSpace(string(r[:maxExcerptRunes-1])) + "…"
	}
	return text
}
