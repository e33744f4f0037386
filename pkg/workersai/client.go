// Package workersai wraps the Cloudflare Workers AI REST API as two
// capability clients: chat completion and text-to-image. Both catch failures
// at this boundary; raw backend errors never reach the end user.
package workersai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ZXZCAT/bot-worker/pkg/config"
	"github.com/ZXZCAT/bot-worker/pkg/history"
	"github.com/ZXZCAT/bot-worker/pkg/logger"
)

const (
	// qualityBoost is prepended to every image prompt.
	qualityBoost = "masterpiece, best quality, "

	// fallbackReply stands in when the backend answers with empty text.
	fallbackReply = "喵？"

	// ChatUnavailableNotice is the user-facing substitute for any chat
	// backend failure.
	ChatUnavailableNotice = "AI 服务暂时不可用，请稍后再试。"
)

type Client struct {
	cfg          config.WorkersAIConfig
	systemPrompt string
	httpClient   *http.Client
	oai          *openai.Client
}

// NewClient builds a capability client. No request timeout is imposed here;
// a hung backend call hangs only its own frame task.
func NewClient(cfg config.WorkersAIConfig, systemPrompt string) *Client {
	c := &Client{
		cfg:          cfg,
		systemPrompt: systemPrompt,
		httpClient:   &http.Client{},
	}
	if cfg.APIFlavor == "openai" {
		oai := openai.NewClient(
			option.WithAPIKey(cfg.APIToken),
			option.WithBaseURL(c.compatBaseURL()),
		)
		c.oai = &oai
	}
	return c
}

// ChatComplete sends the system prompt plus the turn sequence and returns the
// reply text. It never fails past this boundary: backend errors become the
// fixed unavailability notice, empty replies become a fallback token.
func (c *Client) ChatComplete(ctx context.Context, turns []history.Turn) string {
	var (
		text string
		err  error
	)
	if c.oai != nil {
		text, err = c.chatOpenAI(ctx, turns)
	} else {
		text, err = c.chatNative(ctx, turns)
	}
	if err != nil {
		logger.ErrorCF("workersai", "Chat completion failed", map[string]any{
			"model": c.cfg.ChatModel,
			"error": err.Error(),
		})
		return ChatUnavailableNotice
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fallbackReply
	}
	return text
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

func (c *Client) chatNative(ctx context.Context, turns []history.Turn) (string, error) {
	messages := make([]chatMessage, 0, len(turns)+1)
	messages = append(messages, chatMessage{Role: "system", Content: c.systemPrompt})
	for _, t := range turns {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Content})
	}

	body, err := c.runRaw(ctx, c.cfg.ChatModel, chatRequest{
		Messages:  messages,
		MaxTokens: c.cfg.MaxTokens,
		Stream:    false,
	})
	if err != nil {
		return "", err
	}

	text, strategy, ok := extractChatText(body)
	if !ok {
		return "", fmt.Errorf("no reply text in response envelope")
	}
	logger.DebugCF("workersai", "Chat reply extracted", map[string]any{
		"strategy": strategy,
		"length":   len(text),
	})
	return text, nil
}

func (c *Client) chatOpenAI(ctx context.Context, turns []history.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	messages = append(messages, openai.SystemMessage(c.systemPrompt))
	for _, t := range turns {
		switch t.Role {
		case history.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}

	resp, err := c.oai.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.cfg.ChatModel),
		Messages:  messages,
		MaxTokens: openai.Int(int64(c.cfg.MaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completions call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completions returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type imageRequest struct {
	Prompt   string `json:"prompt"`
	NumSteps int    `json:"num_steps"`
}

// GenerateImage renders the prompt and returns the image as a base64 string
// ready for a base64:// segment. The second return is false on failure or
// empty output; errors are logged here, not propagated.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, bool) {
	body, err := c.runRaw(ctx, c.cfg.DrawModel, imageRequest{
		Prompt:   qualityBoost + prompt,
		NumSteps: c.cfg.NumSteps,
	})
	if err != nil {
		logger.ErrorCF("workersai", "Image generation failed", map[string]any{
			"model": c.cfg.DrawModel,
			"error": err.Error(),
		})
		return "", false
	}
	if len(body) == 0 {
		return "", false
	}

	// Some models answer with a JSON envelope carrying base64, others with
	// the raw image bytes. Normalize both to base64.
	if json.Valid(body) {
		b64, strategy, ok := extractImageBase64(body)
		if !ok || b64 == "" {
			logger.WarnC("workersai", "Image response envelope had no image payload")
			return "", false
		}
		logger.DebugCF("workersai", "Image extracted from envelope", map[string]any{
			"strategy": strategy,
		})
		return b64, true
	}

	return base64.StdEncoding.EncodeToString(body), true
}

// runRaw posts a native /ai/run request and returns the body after checking
// the HTTP status.
func (c *Client) runRaw(ctx context.Context, model string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s",
		strings.TrimRight(c.cfg.APIBase, "/"), c.cfg.AccountID, model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model %s returned status %d", model, resp.StatusCode)
	}
	return body, nil
}

func (c *Client) compatBaseURL() string {
	return fmt.Sprintf("%s/accounts/%s/ai/v1",
		strings.TrimRight(c.cfg.APIBase, "/"), c.cfg.AccountID)
}
