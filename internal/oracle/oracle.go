// Package oracle adapts reasoning model backends to the single-turn chat
// contract the diagnostic adapter depends on.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/config"
)

// Oracle answers a single prompt. Implementations keep no session state
// between calls.
type Oracle interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// New builds the oracle selected by cfg.
func New(cfg *config.Config, logger *zap.Logger) (Oracle, error) {
	switch cfg.OracleProvider {
	case config.OracleOllama:
		return NewOllamaClient(cfg.OracleBaseURL, cfg.OracleModel, cfg.OracleTimeout, logger), nil
	case config.OracleOpenAI:
		return NewOpenAIClient(cfg.OracleAPIKey, cfg.OracleBaseURL, cfg.OracleModel, logger)
	default:
		return nil, fmt.Errorf("oracle: unknown provider %q", cfg.OracleProvider)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []chatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   chatMessage `json:"message"`
	CreatedAt string      `json:"created_at"`
	Done      bool        `json:"done"`
}

// OllamaClient talks to an Ollama server's /api/chat endpoint.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *zap.Logger
}

// NewOllamaClient creates a client for the given server and model.
func NewOllamaClient(baseURL, model string, timeout time.Duration, logger *zap.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		logger:     logger.Named("oracle"),
	}
}

// Chat sends prompt as a single user message and returns the reply content.
func (o *OllamaClient) Chat(ctx context.Context, prompt string) (string, error) {
	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Options: map[string]interface{}{
			"temperature": 0.1,
		},
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("oracle: marshal chat request: %w", err)
	}

	chatURL := o.baseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("oracle: create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	o.logger.Debug("sending chat request", zap.String("model", o.model))
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle: send request to %s: %w", chatURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle: ollama chat failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("oracle: parse chat response: %w", err)
	}
	return chatResp.Message.Content, nil
}

// OpenAIClient talks to any OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIClient creates a client. An empty baseURL uses api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string, logger *zap.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("oracle: PITCREW_ORACLE_API_KEY is required for the openai provider")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger.Named("oracle"),
	}, nil
}

// Chat sends prompt as a single user message and returns the first choice.
func (o *OpenAIClient) Chat(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	}

	o.logger.Debug("sending chat completion", zap.String("model", o.model))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("oracle: openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("oracle: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
