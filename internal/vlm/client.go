// Package vlm turns the fused intersection picture into operator-facing
// intelligence: it prompts a vision-language model over an OpenAI-compatible
// chat-completions endpoint and normalizes the reply into the closed alert
// taxonomy. Inference failure is absorbed, never propagated.
package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crosswatch/internal/external"
	"crosswatch/internal/types"
)

// vlmAPIBase is the default inference endpoint, a local vLLM or OVMS
// deployment. Overridable via ClientConfig.BaseURL.
const vlmAPIBase = "http://localhost:8000/v1"

// InferenceClient runs one vision-language inference round and returns the
// raw model reply.
type InferenceClient interface {
	Complete(ctx context.Context, prompt string, images [][]byte) (string, error)
}

// ClientConfig holds the configuration for creating an OpenAIChatClient.
type ClientConfig struct {
	BaseURL     string // Override for testing; defaults to vlmAPIBase
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
}

// chatRequest is the OpenAI chat-completions request envelope.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// contentPart is one element of a multimodal message: either text or an
// image data URL.
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenAIChatClient implements InferenceClient against an OpenAI-compatible
// chat-completions endpoint through BaseClient, so inference calls share the
// platform's circuit breaker and error mapping.
type OpenAIChatClient struct {
	base        *external.BaseClient
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// NewChatClient creates a new OpenAIChatClient. The httpClient timeout should
// cover a full inference run (tens of seconds for a vision model).
func NewChatClient(httpClient *http.Client, cfg ClientConfig) *OpenAIChatClient {
	// Inference runs are too expensive to replay; a failed run degrades the
	// analysis instead of retrying into the snapshot latency budget.
	base := external.NewBaseClient(
		httpClient,
		"vlm",
		external.RetryPolicy{
			MaxRetries: 0,
			MinWait:    1 * time.Second,
			MaxWait:    10 * time.Second,
		},
		"crosswatch-agent/1.0",
	)
	return NewChatClientWithBase(base, cfg)
}

// NewChatClientWithBase creates an OpenAIChatClient with a pre-configured
// BaseClient. Useful for testing.
func NewChatClientWithBase(base *external.BaseClient, cfg ClientConfig) *OpenAIChatClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = vlmAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIChatClient{
		base:        base,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// Complete sends one multimodal chat-completions request: the scene prompt
// plus the camera frames as JPEG data URLs. Returns the first choice's
// message content.
func (c *OpenAIChatClient) Complete(ctx context.Context, prompt string, images [][]byte) (string, error) {
	content := make([]contentPart, 0, len(images)+1)
	content = append(content, contentPart{Type: "text", Text: prompt})
	for _, img := range images {
		content = append(content, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: content}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize inference request",
			err,
		)
	}

	url := c.baseURL + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create inference request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.InfoContext(ctx, "requesting VLM analysis",
		"model", c.model,
		"image_count", len(images),
	)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", c.wrapError("Complete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", c.handleErrorResponse(resp, "Complete")
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamVLM,
			"failed to decode inference response",
			err,
		)
	}

	if len(chatResp.Choices) == 0 {
		return "", types.NewAppError(
			types.ErrCodeUpstreamVLM,
			"inference endpoint returned no choices",
			nil,
		)
	}

	return chatResp.Choices[0].Message.Content, nil
}

// handleErrorResponse reads and logs the error body from a non-2xx response,
// then returns an appropriate AppError.
func (c *OpenAIChatClient) handleErrorResponse(resp *http.Response, operation string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.Error("VLM API error",
		"operation", operation,
		"status_code", resp.StatusCode,
		"response_body", bodyStr,
	)

	return types.NewAppError(
		types.ErrCodeUpstreamVLM,
		fmt.Sprintf("VLM %s returned %d", operation, resp.StatusCode),
		fmt.Errorf("VLM %s returned %d: %s", operation, resp.StatusCode, bodyStr),
	)
}

// wrapError converts errors from BaseClient.Do into VLM domain errors,
// preserving the code of an existing AppError.
func (c *OpenAIChatClient) wrapError(operation string, err error) error {
	var appErr *types.AppError
	if ok := isAppError(err, &appErr); ok {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("VLM %s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamVLM,
		fmt.Sprintf("VLM %s failed", operation),
		err,
	)
}

// isAppError checks if err is an *types.AppError and extracts it.
func isAppError(err error, target **types.AppError) bool {
	var ae *types.AppError
	if ok := errors.As(err, &ae); ok {
		*target = ae
		return true
	}
	return false
}

// Compile-time interface compliance check.
var _ InferenceClient = (*OpenAIChatClient)(nil)
