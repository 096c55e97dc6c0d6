// Package advisor answers free-form questions about the vault. Answers are
// advisory text only; nothing returned here is ever turned into a payload.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/moveflow/vault-engine/internal/metrics"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-haiku-20240307"

const maxTokens = 1024

// fallbackAnswer is returned when the model produced no text.
const fallbackAnswer = "I couldn't process that request. Please try again."

var ErrNoAPIKey = errors.New("advisor: no API key")

// BriefFunc renders the current market context for the system prompt.
type BriefFunc func() string

const systemPreamble = `You are MoveFlow AI, an expert DeFi assistant for the Movement Network. You help users:
- Understand yield strategies and how the vault allocates capital
- Compare strategy APYs and risks
- Make informed deposit and withdrawal decisions
- Explain DeFi concepts in simple terms

Movement Network:
- Native token: MOVE
- Built on the Move language (Aptos-compatible)

You cannot sign or send transactions. To act, users run /deposit, /withdraw, or /harvest and sign the returned payload in their own wallet.

Be concise, helpful, and always consider the user's risk tolerance. Reply in plain text without markdown.`

// SystemPrompt combines the fixed instructions with the live brief.
func SystemPrompt(brief string) string {
	if strings.TrimSpace(brief) == "" {
		return systemPreamble
	}
	return systemPreamble + "\n\nCurrent vault information:\n" + brief
}

// userMessage prefixes the wallet address, if any, as context.
func userMessage(text, wallet string) string {
	if wallet == "" {
		return text
	}
	return fmt.Sprintf("[User wallet: %s]\n\n%s", wallet, text)
}

// Claude answers with the Anthropic Messages API.
type Claude struct {
	client anthropic.Client
	model  string
	brief  BriefFunc
}

// NewClaude creates an advisor. opts are passed to the API client after the
// key, so tests can point it at a local server.
func NewClaude(apiKey, model string, brief BriefFunc, opts ...option.RequestOption) (*Claude, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Claude{
		client: anthropic.NewClient(opts...),
		model:  model,
		brief:  brief,
	}, nil
}

// Advise sends one question with the live brief as system context.
func (c *Claude) Advise(ctx context.Context, text, wallet string) (string, error) {
	var brief string
	if c.brief != nil {
		brief = c.brief()
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt(brief)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage(text, wallet))),
		},
	})
	if err != nil {
		metrics.ObserveSince(metrics.AdvisorLatency.WithLabelValues("error"), start)
		return "", fmt.Errorf("claude api error: %w", err)
	}
	metrics.ObserveSince(metrics.AdvisorLatency.WithLabelValues("ok"), start)

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	answer := strings.TrimSpace(b.String())
	if answer == "" {
		slog.Warn("advisor returned no text", "stop_reason", resp.StopReason)
		return fallbackAnswer, nil
	}
	return answer, nil
}

// Static is used when no model is configured. It answers every question
// with the current brief.
type Static struct {
	Brief BriefFunc
}

// Advise returns the brief and a pointer to the commands.
func (s Static) Advise(_ context.Context, _, _ string) (string, error) {
	var b strings.Builder
	b.WriteString("AI answers are not enabled on this bot.")
	if s.Brief != nil {
		if brief := strings.TrimSpace(s.Brief()); brief != "" {
			b.WriteString("\n\nCurrent vault information:\n")
			b.WriteString(brief)
		}
	}
	b.WriteString("\n\nSend /help to see available commands.")
	return b.String(), nil
}
