// Package summarize condenses study notes with an OpenAI-compatible chat model.
package summarize

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Prompt precedes the notes in the user message.
const Prompt = "Summarize the following study notes into bullet points:"

// ErrEmptyInput is returned for blank text. No request is sent.
var ErrEmptyInput = errors.New("no input text to summarize")

// Summarizer wraps a chat-completion client.
type Summarizer struct {
	client *openai.Client
	model  string
}

// New creates a Summarizer for the endpoint at baseURL. A nil hc uses the
// library default.
func New(apiKey, baseURL, model string, hc *http.Client) *Summarizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	return &Summarizer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Summarize returns bullet points for text. An empty completion yields "".
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Prompt + "\n\n" + text},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
