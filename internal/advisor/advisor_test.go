package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moveflow/vault-engine/internal/catalog"
	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/strategy"
)

type capturedRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func messagesServer(t *testing.T, got *capturedRequest, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": %q,
			"content": %s,
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`, got.Model, content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClaude_Advise(t *testing.T) {
	var got capturedRequest
	srv := messagesServer(t, &got, `[{"type":"text","text":"Meridian staking is the safest option."}]`)

	c, err := NewClaude("test-key", "", func() string { return "- Meridian Staking: 12%" },
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	answer, err := c.Advise(context.Background(), "Which vault is safest?", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "Meridian staking is the safest option.", answer)

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, 1024, got.MaxTokens)
	require.Len(t, got.System, 1)
	assert.Contains(t, got.System[0].Text, "You are MoveFlow AI")
	assert.Contains(t, got.System[0].Text, "- Meridian Staking: 12%")
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "[User wallet: 0xabc]\n\nWhich vault is safest?", got.Messages[0].Content[0].Text)
}

func TestClaude_NoTextFallsBack(t *testing.T) {
	var got capturedRequest
	srv := messagesServer(t, &got, `[]`)

	c, err := NewClaude("test-key", "claude-test", nil, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	answer, err := c.Advise(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, fallbackAnswer, answer)
	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, "hi", got.Messages[0].Content[0].Text)
}

func TestClaude_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer srv.Close()

	c, err := NewClaude("test-key", "", nil, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = c.Advise(context.Background(), "hi", "")
	require.Error(t, err)
}

func TestNewClaude_RequiresKey(t *testing.T) {
	_, err := NewClaude("", "", nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestSystemPrompt_WithoutBrief(t *testing.T) {
	assert.Equal(t, systemPreamble, SystemPrompt("  "))
}

func TestStatic(t *testing.T) {
	answer, err := Static{Brief: func() string { return "Weighted APY: 11.53%" }}.Advise(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Contains(t, answer, "not enabled")
	assert.Contains(t, answer, "Weighted APY: 11.53%")
	assert.Contains(t, answer, "/help")
}

func TestBrief(t *testing.T) {
	now := time.Now()
	vault := model.Ok(model.VaultSnapshot{
		TotalAssets:      decimal.RequireFromString("1000"),
		TotalShares:      sdkmath.NewInt(500000),
		TotalYieldEarned: decimal.RequireFromString("2"),
	}, now)

	brief := Brief(strategy.DefaultTable(), catalog.Default(), vault)
	assert.Contains(t, brief, "- Meridian Staking (Meridian, ")
	assert.Contains(t, brief, "target APY 12.00%, allocation 40%, low risk")
	assert.Contains(t, brief, "Weighted APY: 11.53%")
	assert.Contains(t, brief, "Blended risk score: 2.85/10 (low)")
	assert.Contains(t, brief, "Vault TVL: 1000.00 MOVE, realized APY 73.00%")

	noVault := Brief(strategy.DefaultTable(), catalog.Default(), model.Unavailable[model.VaultSnapshot]("down", now))
	assert.NotContains(t, noVault, "Vault TVL")
}
