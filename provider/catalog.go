package provider

// ModelInfo describes a known model: context window and per-million-token
// pricing used for cost accounting.
type ModelInfo struct {
	ContextWindow        int
	InputCostPerMillion  float64
	OutputCostPerMillion float64
}

// modelCatalog is the built-in model catalog (August 2026). Unknown models
// fall back to a zero-cost entry with the provider's default window.
var modelCatalog = map[string]ModelInfo{
	// Anthropic
	"claude-opus-4-6":   {ContextWindow: 200000, InputCostPerMillion: 15.0, OutputCostPerMillion: 75.0},
	"claude-sonnet-4-5": {ContextWindow: 200000, InputCostPerMillion: 3.0, OutputCostPerMillion: 15.0},
	"claude-haiku-4-5":  {ContextWindow: 200000, InputCostPerMillion: 1.0, OutputCostPerMillion: 5.0},

	// OpenRouter-routed models
	"openai/gpt-5.2":            {ContextWindow: 1047576, InputCostPerMillion: 2.50, OutputCostPerMillion: 10.0},
	"openai/gpt-5.2-mini":       {ContextWindow: 1047576, InputCostPerMillion: 0.75, OutputCostPerMillion: 3.0},
	"google/gemini-3-pro":       {ContextWindow: 1048576, InputCostPerMillion: 1.25, OutputCostPerMillion: 5.0},
	"moonshotai/kimi-k2.5":      {ContextWindow: 262144, InputCostPerMillion: 0.60, OutputCostPerMillion: 2.50},
	"deepseek/deepseek-v3.3":    {ContextWindow: 163840, InputCostPerMillion: 0.25, OutputCostPerMillion: 1.0},
	"minimax/minimax-m2.5":      {ContextWindow: 196608, InputCostPerMillion: 0.30, OutputCostPerMillion: 1.20},
	"z-ai/glm-5":                {ContextWindow: 204800, InputCostPerMillion: 0.60, OutputCostPerMillion: 2.20},
	"anthropic/claude-opus-4-6": {ContextWindow: 200000, InputCostPerMillion: 15.0, OutputCostPerMillion: 75.0},
}

// LookupModel returns catalog info for a model and whether it is known.
func LookupModel(model string) (ModelInfo, bool) {
	info, ok := modelCatalog[model]
	return info, ok
}

// catalogWindow returns the model's context window or fallback if unknown.
func catalogWindow(model string, fallback int) int {
	if info, ok := modelCatalog[model]; ok {
		return info.ContextWindow
	}
	return fallback
}

// catalogCost computes USD cost for one call's usage from catalog pricing.
// Cost must be computed per call and summed by the caller, never recomputed
// from aggregated usage.
func catalogCost(model string, inputTokens, outputTokens int) float64 {
	info, ok := modelCatalog[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*info.InputCostPerMillion +
		float64(outputTokens)/1e6*info.OutputCostPerMillion
}
