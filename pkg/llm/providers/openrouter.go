// Package providers contains concrete implementations of LLM providers.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tombee/statscouncil/pkg/errors"
	"github.com/tombee/statscouncil/pkg/httpclient"
	"github.com/tombee/statscouncil/pkg/llm"
	"github.com/tombee/statscouncil/pkg/llm/pricing"
)

const (
	// openRouterBaseURL is the base URL for the OpenRouter API
	openRouterBaseURL = "https://openrouter.ai/api/v1"

	// openRouterReferer identifies this application to OpenRouter for
	// attribution on their dashboard
	openRouterReferer = "https://github.com/tombee/statscouncil"

	// openRouterTitle is the application name shown in OpenRouter usage logs
	openRouterTitle = "Stats Council"
)

// OpenRouterProvider implements the Provider interface against OpenRouter's
// OpenAI-compatible chat completions endpoint. One provider serves every
// council seat; the seat's model ID is routed per request.
type OpenRouterProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	models     []llm.ModelInfo
}

// OpenRouterOption configures an OpenRouterProvider.
type OpenRouterOption func(*OpenRouterProvider)

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(url string) OpenRouterOption {
	return func(p *OpenRouterProvider) {
		p.baseURL = url
	}
}

// WithRateLimit caps outbound requests per second. The council fans out
// several requests at once; a small cap avoids tripping provider limits.
func WithRateLimit(rps float64, burst int) OpenRouterOption {
	return func(p *OpenRouterProvider) {
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithModels replaces the default model lineup.
func WithModels(models []llm.ModelInfo) OpenRouterOption {
	return func(p *OpenRouterProvider) {
		p.models = models
	}
}

// NewOpenRouterProvider creates a new OpenRouter provider instance.
// The apiKey should come from the environment or config, never source code.
func NewOpenRouterProvider(apiKey string, opts ...OpenRouterOption) (*OpenRouterProvider, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{
			Key:    "openrouter.api_key",
			Reason: "API key is required for OpenRouter provider",
		}
	}

	// Create HTTP client using shared httpclient package
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 120 * time.Second // reasoning models can run long
	cfg.UserAgent = "statscouncil-openrouter/1.0"
	// A failed stage is surfaced to the user for a decision rather than
	// retried, so the transport does not retry completions.
	cfg.RetryAttempts = 0

	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	p := &OpenRouterProvider{
		apiKey:     apiKey,
		baseURL:    openRouterBaseURL,
		httpClient: httpClient,
		models:     llm.DefaultLineup(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// Models lists the models this provider is configured to serve.
func (p *OpenRouterProvider) Models() []llm.ModelInfo {
	out := make([]llm.ModelInfo, len(p.models))
	copy(out, p.models)
	return out
}

// Complete sends a synchronous completion request to the OpenRouter
// chat completions API.
func (p *OpenRouterProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}
	if req.Model == "" {
		return nil, &errors.ValidationError{
			Field:      "model",
			Message:    "completion request must name a model",
			Suggestion: "Set Model to an OpenRouter model ID like deepseek/deepseek-r1",
		}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &errors.ProviderError{
				Provider:  "openrouter",
				Model:     req.Model,
				Message:   "rate limiter wait cancelled",
				RequestID: requestID,
				Cause:     err,
			}
		}
	}

	apiReq := p.buildAPIRequest(req)

	apiResp, err := p.doRequest(ctx, apiReq, requestID)
	if err != nil {
		return nil, err
	}

	return p.parseResponse(apiResp, req, requestID)
}

// buildAPIRequest constructs an openRouterRequest from a CompletionRequest.
func (p *OpenRouterProvider) buildAPIRequest(req llm.CompletionRequest) *openRouterRequest {
	messages := make([]openRouterMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openRouterMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	apiReq := &openRouterRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}
	return apiReq
}

// doRequest sends the API request and returns the decoded response body.
func (p *OpenRouterProvider) doRequest(ctx context.Context, apiReq *openRouterRequest, requestID string) (*openRouterResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openrouter",
			Model:     apiReq.Model,
			Message:   fmt.Sprintf("failed to marshal request: %v", err),
			RequestID: requestID,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openrouter",
			Model:     apiReq.Model,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			RequestID: requestID,
		}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("HTTP-Referer", openRouterReferer)
	httpReq.Header.Set("X-Title", openRouterTitle)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openrouter",
			Model:     apiReq.Model,
			Message:   fmt.Sprintf("request failed: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:   "openrouter",
			Model:      apiReq.Model,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
			RequestID:  requestID,
		}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openRouterErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &errors.ProviderError{
				Provider:   "openrouter",
				Model:      apiReq.Model,
				StatusCode: resp.StatusCode,
				Message:    errResp.Error.Message,
				Suggestion: p.getSuggestionForError(resp.StatusCode),
				RequestID:  requestID,
			}
		}
		return nil, &errors.ProviderError{
			Provider:   "openrouter",
			Model:      apiReq.Model,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, string(respBody)),
			Suggestion: p.getSuggestionForError(resp.StatusCode),
			RequestID:  requestID,
		}
	}

	var apiResp openRouterResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ParseError{
			Provider: "openrouter",
			What:     "completion body",
			Cause:    err,
		}
	}
	return &apiResp, nil
}

// getSuggestionForError returns a helpful suggestion based on the HTTP status.
func (p *OpenRouterProvider) getSuggestionForError(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Check that OPENROUTER_API_KEY is set and valid"
	case http.StatusPaymentRequired:
		return "Your OpenRouter account has insufficient credits"
	case http.StatusForbidden:
		return "Your API key may not have access to this model"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Lower the request rate or wait before re-running the stage"
	case http.StatusBadRequest:
		return "Review the request parameters and model ID"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "OpenRouter or the upstream model is experiencing issues. Re-run the stage after a short delay"
	default:
		return "Check the OpenRouter API documentation for more details"
	}
}

// parseResponse converts an openRouterResponse to a CompletionResponse.
func (p *OpenRouterProvider) parseResponse(resp *openRouterResponse, req llm.CompletionRequest, requestID string) (*llm.CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, &errors.ParseError{
			Provider: "openrouter",
			What:     "completion choices",
		}
	}

	choice := resp.Choices[0]

	usage := llm.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	if usage.TotalTokens == 0 {
		// No usage block at all. Estimate from text length so the cost
		// surfaces as an estimate instead of disappearing.
		usage.TotalTokens = estimateUsage(req.Messages, choice.Message.Content)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage:        usage,
		Model:        model,
		RequestID:    requestID,
		Created:      time.Now(),
	}, nil
}

// estimateUsage approximates total tokens for a round trip from the request
// messages and the response text.
func estimateUsage(messages []llm.Message, responseText string) int {
	msgs := make([]pricing.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, pricing.Message{Role: string(m.Role), Content: m.Content})
	}
	return pricing.EstimateTokensFromMessages(msgs) + pricing.EstimateTokensFromText(responseText)
}

// mapFinishReason converts OpenRouter's finish_reason to our FinishReason.
func mapFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop", "end_turn":
		return llm.FinishReasonStop
	case "length", "max_tokens":
		return llm.FinishReasonLength
	case "content_filter":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

// openRouterRequest represents the request body for the chat completions API.
type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

// openRouterMessage represents a message in the OpenAI-compatible format.
type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openRouterResponse represents the response from the chat completions API.
type openRouterResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []openRouterChoice `json:"choices"`
	Usage   openRouterUsage    `json:"usage"`
}

// openRouterChoice is a single completion choice.
type openRouterChoice struct {
	Message      openRouterMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// openRouterUsage represents token usage in the API response.
type openRouterUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// openRouterErrorResponse represents an error response body.
type openRouterErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
