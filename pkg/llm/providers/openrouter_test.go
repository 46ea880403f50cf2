package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tombee/statscouncil/pkg/errors"
	"github.com/tombee/statscouncil/pkg/llm"
	"github.com/tombee/statscouncil/pkg/llm/pricing"
)

func TestNewOpenRouterProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenRouterProvider("")
	if err == nil {
		t.Fatal("expected error for empty API key, got nil")
	}

	var cfgErr *errors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestOpenRouterProvider_Complete(t *testing.T) {
	var gotAuth, gotReferer, gotTitle string
	var gotReq openRouterRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")

		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		resp := openRouterResponse{
			ID:    "gen-123",
			Model: "deepseek/deepseek-r1",
			Choices: []openRouterChoice{
				{
					Message:      openRouterMessage{Role: "assistant", Content: "The residuals look normal."},
					FinishReason: "stop",
				},
			},
			Usage: openRouterUsage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p, err := NewOpenRouterProvider("test-key", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenRouterProvider: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Model: "deepseek/deepseek-r1",
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: "You are a biostatistician."},
			{Role: llm.MessageRoleUser, Content: "Check the assumptions."},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReferer == "" {
		t.Error("expected HTTP-Referer header to be set")
	}
	if gotTitle != "Stats Council" {
		t.Errorf("X-Title = %q", gotTitle)
	}
	if gotReq.Model != "deepseek/deepseek-r1" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("request messages = %+v", gotReq.Messages)
	}

	if resp.Content != "The residuals look normal." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != llm.FinishReasonStop {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 40 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if resp.RequestID == "" {
		t.Error("expected non-empty RequestID")
	}
}

func TestOpenRouterProvider_CompleteValidation(t *testing.T) {
	p, err := NewOpenRouterProvider("test-key")
	if err != nil {
		t.Fatalf("NewOpenRouterProvider: %v", err)
	}

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Model: "openai/o3"})
	var valErr *errors.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError for empty messages, got %v", err)
	}

	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError for empty model, got %v", err)
	}
}

func TestOpenRouterProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":401,"message":"Invalid API key"}}`))
	}))
	defer server.Close()

	p, err := NewOpenRouterProvider("bad-key", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenRouterProvider: %v", err)
	}

	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Model:    "openai/o3",
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})

	var provErr *errors.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", provErr.StatusCode)
	}
	if provErr.Message != "Invalid API key" {
		t.Errorf("Message = %q", provErr.Message)
	}
	if provErr.Suggestion == "" {
		t.Error("expected a suggestion for 401 responses")
	}
}

func TestOpenRouterProvider_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"gen-1","model":"openai/o3","choices":[]}`))
	}))
	defer server.Close()

	p, err := NewOpenRouterProvider("test-key", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenRouterProvider: %v", err)
	}

	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Model:    "openai/o3",
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})

	var parseErr *errors.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError for empty choices, got %v", err)
	}
}

func TestOpenRouterProvider_MissingUsageTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id":"gen-2",
			"model":"openai/o3",
			"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"length"}],
			"usage":{"prompt_tokens":10,"completion_tokens":5}
		}`))
	}))
	defer server.Close()

	p, err := NewOpenRouterProvider("test-key", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenRouterProvider: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Model:    "openai/o3",
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != llm.FinishReasonLength {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
}

func TestOpenRouterProvider_NoUsageBlockEstimatesTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id":"gen-3",
			"model":"openai/o3",
			"choices":[{"message":{"role":"assistant","content":"a plan of considerable length"},"finish_reason":"stop"}]
		}`))
	}))
	defer server.Close()

	p, err := NewOpenRouterProvider("test-key", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewOpenRouterProvider: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Model:    "openai/o3",
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "propose an analysis plan"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Usage.InputTokens != 0 || resp.Usage.OutputTokens != 0 {
		t.Errorf("split counts should stay zero, got %+v", resp.Usage)
	}
	if resp.Usage.TotalTokens == 0 {
		t.Fatal("TotalTokens = 0, want a text-length estimate")
	}

	cost := pricing.CalculateCost(&pricing.ModelPricing{InputPricePerMillion: 1, OutputPricePerMillion: 1},
		pricing.TokenUsage{TotalTokens: resp.Usage.TotalTokens})
	if cost.Accuracy != pricing.CostEstimated {
		t.Errorf("Accuracy = %q, want %q", cost.Accuracy, pricing.CostEstimated)
	}
	if cost.Amount <= 0 {
		t.Errorf("Amount = %v, want a positive estimate", cost.Amount)
	}
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want llm.FinishReason
	}{
		{"stop", llm.FinishReasonStop},
		{"length", llm.FinishReasonLength},
		{"content_filter", llm.FinishReasonContentFilter},
		{"", llm.FinishReasonStop},
	}

	for _, tt := range tests {
		if got := mapFinishReason(tt.in); got != tt.want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
