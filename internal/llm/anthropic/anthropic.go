// Package anthropic is the reference llm.Adapter: it forwards generate
// calls to Anthropic's Messages API via the official SDK.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/llm"
)

// Adapter wraps an anthropic-sdk-go client. ModelID strings are expected in
// "anthropic/<model>" form; the provider prefix is stripped before the call.
type Adapter struct {
	client anthropic.Client
}

// New constructs an adapter authenticated with apiKey.
func New(apiKey string) *Adapter {
	return &Adapter{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (a *Adapter) Generate(ctx context.Context, modelID string, prompt string, params llm.Hyperparameters) (string, error) {
	model := stripProvider(modelID)
	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(params.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", domain.New(domain.ErrAgent, "anthropic generation failed", err, map[string]interface{}{"model": modelID})
	}

	var out strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", domain.New(domain.ErrAgent, "anthropic response had no text content", nil, map[string]interface{}{"model": modelID})
	}
	return out.String(), nil
}

func stripProvider(modelID string) string {
	if idx := strings.IndexByte(modelID, '/'); idx >= 0 {
		return modelID[idx+1:]
	}
	return modelID
}

var _ llm.Adapter = (*Adapter)(nil)
