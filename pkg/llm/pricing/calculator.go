// Package pricing computes per-request USD costs from token usage and
// per-million pricing, tracking how reliable each figure is.
package pricing

import (
	"fmt"
	"strings"
)

// TokenUsage tracks token consumption for cost calculation.
// This is a copy of llm.TokenUsage to avoid a circular import.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// CostAccuracy indicates reliability of a cost value.
type CostAccuracy string

const (
	CostMeasured    CostAccuracy = "measured"
	CostEstimated   CostAccuracy = "estimated"
	CostUnavailable CostAccuracy = "unavailable"
)

// ModelPricing holds per-million token prices for one model.
type ModelPricing struct {
	// InputPricePerMillion is the cost per million input tokens in USD.
	InputPricePerMillion float64

	// OutputPricePerMillion is the cost per million output tokens in USD.
	OutputPricePerMillion float64
}

// CostInfo contains cost details with accuracy tracking.
type CostInfo struct {
	Amount   float64
	Currency string
	Accuracy CostAccuracy
}

// CalculateCost computes the cost for a request from pricing and usage.
// Usage reported by the provider yields a measured cost; usage estimated
// from text length yields an estimated cost.
func CalculateCost(pricing *ModelPricing, usage TokenUsage) *CostInfo {
	if pricing == nil {
		return &CostInfo{
			Amount:   0,
			Currency: "USD",
			Accuracy: CostUnavailable,
		}
	}

	inputCost := float64(usage.InputTokens) / 1_000_000.0 * pricing.InputPricePerMillion
	outputCost := float64(usage.OutputTokens) / 1_000_000.0 * pricing.OutputPricePerMillion
	amount := inputCost + outputCost

	// Total-only usage comes from a character estimate with no
	// prompt/completion split. Price it at the midpoint rate.
	if usage.InputTokens == 0 && usage.OutputTokens == 0 && usage.TotalTokens > 0 {
		amount = float64(usage.TotalTokens) / 1_000_000.0 *
			(pricing.InputPricePerMillion + pricing.OutputPricePerMillion) / 2
	}

	return &CostInfo{
		Amount:   amount,
		Currency: "USD",
		Accuracy: determineAccuracy(usage),
	}
}

// Add accumulates b into a, keeping the weakest accuracy. A measured sum
// becomes estimated as soon as any estimated component lands in it.
func Add(a, b *CostInfo) *CostInfo {
	if a == nil {
		return b
	}
	if b == nil || b.Accuracy == CostUnavailable {
		return a
	}
	out := &CostInfo{Amount: a.Amount + b.Amount, Currency: "USD", Accuracy: a.Accuracy}
	if a.Accuracy == CostUnavailable {
		out.Accuracy = b.Accuracy
	} else if b.Accuracy == CostEstimated {
		out.Accuracy = CostEstimated
	}
	return out
}

// determineAccuracy determines cost accuracy based on token usage data.
func determineAccuracy(usage TokenUsage) CostAccuracy {
	// Provider-reported split counts mean the cost is measured.
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		return CostMeasured
	}

	// Only a total (estimated from characters) means the cost is estimated.
	if usage.TotalTokens > 0 {
		return CostEstimated
	}

	return CostUnavailable
}

// EstimateTokensFromText estimates token count from text using character-based
// approximation (~4 characters per token for English text). This is a fallback
// for responses whose usage block is missing.
func EstimateTokensFromText(text string) int {
	charCount := len(text)

	estimatedTokens := charCount / 4

	// Minimum 1 token for non-empty text
	if estimatedTokens == 0 && charCount > 0 {
		estimatedTokens = 1
	}

	return estimatedTokens
}

// EstimateTokensFromMessages estimates tokens for a conversation, adding
// overhead for role markers and separators the API inserts per message.
func EstimateTokensFromMessages(messages []Message) int {
	totalTokens := 0

	messageOverhead := 3 // tokens per message for role and separators

	for _, msg := range messages {
		contentTokens := EstimateTokensFromText(msg.Content)
		roleTokens := EstimateTokensFromText(msg.Role)
		totalTokens += contentTokens + roleTokens + messageOverhead
	}

	// Base overhead for the conversation
	totalTokens += 3

	return totalTokens
}

// Message represents a chat message for token estimation.
type Message struct {
	Role    string
	Content string
}

// FormatCost formats a cost value with accuracy indicator for display.
// Returns strings like "$0.0045", "~$0.0045", or "--" for unavailable.
func FormatCost(cost *CostInfo) string {
	if cost == nil || cost.Accuracy == CostUnavailable {
		return "--"
	}

	formatted := fmt.Sprintf("$%.4f", cost.Amount)

	if cost.Accuracy == CostEstimated {
		formatted = "~" + formatted
	}

	return formatted
}

// FormatTokens formats token count for display with units.
func FormatTokens(tokens int) string {
	if tokens >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000.0)
	}
	if tokens >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1_000.0)
	}
	return fmt.Sprintf("%d", tokens)
}

// ParseModel extracts the vendor prefix from an OpenRouter-style model ID
// like "deepseek/deepseek-r1". Returns "unknown" when no prefix is present.
func ParseModel(modelStr string) (vendor, model string) {
	parts := strings.SplitN(modelStr, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "unknown", modelStr
}
