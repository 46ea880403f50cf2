package llm

// Seat represents a role a model plays in the analysis pipeline.
// Stages request a seat without knowing provider-specific model IDs.
type Seat string

const (
	// SeatAudit runs the stage-1 data audit. Cheap, capable generalist.
	SeatAudit Seat = "audit"

	// SeatPlanner proposes analysis plans in the planning council.
	// Several models may hold this seat; each is consulted independently.
	SeatPlanner Seat = "planner"

	// SeatReasoner handles assumption verification and code review.
	// A long-chain reasoning model.
	SeatReasoner Seat = "reasoner"

	// SeatSynthesis merges council proposals and generates analysis code.
	SeatSynthesis Seat = "synthesis"

	// SeatWriter produces the methods/results prose. Highest quality tier.
	SeatWriter Seat = "writer"
)

// ModelInfo describes a specific model's identity and pricing.
type ModelInfo struct {
	// ID is the provider-specific model identifier
	// (e.g., "deepseek/deepseek-chat-v3-0324").
	ID string

	// Name is the human-readable model name (e.g., "DeepSeek V3.2").
	Name string

	// Seat indicates the pipeline role this model is configured for.
	Seat Seat

	// MaxOutputTokens is the maximum tokens the model may generate in one
	// response. If 0, the provider default applies.
	MaxOutputTokens int

	// InputPricePerMillion is the cost in USD per million input tokens.
	InputPricePerMillion float64

	// OutputPricePerMillion is the cost in USD per million output tokens.
	OutputPricePerMillion float64

	// Description provides additional context about the model's strengths.
	Description string
}

// GetModelByID returns the model with the specified ID.
// Returns nil if no model matches the ID.
func GetModelByID(models []ModelInfo, id string) *ModelInfo {
	for i := range models {
		if models[i].ID == id {
			return &models[i]
		}
	}
	return nil
}

// GetModelsBySeat returns all models configured for the given seat,
// preserving their configured order. Returns an empty slice if none match.
func GetModelsBySeat(models []ModelInfo, seat Seat) []ModelInfo {
	var out []ModelInfo
	for _, m := range models {
		if m.Seat == seat {
			out = append(out, m)
		}
	}
	return out
}

// DefaultLineup returns the default council composition with pricing.
// Prices are USD per million tokens and can be overridden in configuration.
func DefaultLineup() []ModelInfo {
	return []ModelInfo{
		{
			ID:                    "deepseek/deepseek-chat-v3-0324",
			Name:                  "DeepSeek V3.2",
			Seat:                  SeatAudit,
			InputPricePerMillion:  0.25,
			OutputPricePerMillion: 0.38,
			Description:           "Cost-effective generalist for data audits and first-pass review.",
		},
		{
			ID:                    "deepseek/deepseek-chat-v3-0324",
			Name:                  "DeepSeek V3.2",
			Seat:                  SeatPlanner,
			InputPricePerMillion:  0.25,
			OutputPricePerMillion: 0.38,
		},
		{
			ID:                    "deepseek/deepseek-r1",
			Name:                  "DeepSeek R1",
			Seat:                  SeatPlanner,
			InputPricePerMillion:  0.55,
			OutputPricePerMillion: 2.19,
		},
		{
			ID:                    "google/gemini-2.5-pro-preview",
			Name:                  "Gemini 2.5 Pro",
			Seat:                  SeatPlanner,
			InputPricePerMillion:  2.50,
			OutputPricePerMillion: 15.00,
		},
		{
			ID:                    "deepseek/deepseek-r1",
			Name:                  "DeepSeek R1",
			Seat:                  SeatReasoner,
			InputPricePerMillion:  0.55,
			OutputPricePerMillion: 2.19,
			Description:           "Long-chain reasoner for assumption checks and code review.",
		},
		{
			ID:                    "openai/o3",
			Name:                  "OpenAI o3",
			Seat:                  SeatSynthesis,
			InputPricePerMillion:  2.00,
			OutputPricePerMillion: 8.00,
			Description:           "Synthesizes council proposals and generates analysis code.",
		},
		{
			ID:                    "anthropic/claude-opus-4-5",
			Name:                  "Claude Opus 4.5",
			Seat:                  SeatWriter,
			MaxOutputTokens:       8192,
			InputPricePerMillion:  5.00,
			OutputPricePerMillion: 25.00,
			Description:           "Publication-quality methods and results writing.",
		},
	}
}
