// Package rephrase turns a structured anomaly explanation into executive
// prose using the Anthropic API. It is an optional collaborator: callers
// that have no API key simply skip it and serve the template narrative.
package rephrase

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultModel = "claude-haiku-4-5-20251001"
	maxTokens    = 600

	systemPrompt = "Rephrase this KPI anomaly explanation for an operations executive. " +
		"Keep all numbers and entities unchanged."
)

// Client rewrites explanation payloads through the Messages API.
type Client struct {
	client sdk.Client
	model  string
}

// New builds a client. An empty model falls back to the default.
func New(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Rephrase sends the serialized explanation and returns the rewritten
// narrative. An empty completion is an error so callers never replace a
// working template narrative with a blank one.
func (c *Client) Rephrase(ctx context.Context, payload string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(payload))},
	})
	if err != nil {
		return "", eris.Wrap(err, "rephrase: create message")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	narrative := strings.TrimSpace(b.String())
	if narrative == "" {
		return "", eris.New("rephrase: empty completion")
	}

	zap.L().Debug("narrative rephrased",
		zap.String("model", c.model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))
	return narrative, nil
}
