package llm

// costPerToken stores per-1K-token pricing for known models.
// Prices in USD per 1K tokens: [input, output]. Self-hosted Ollama
// models are absent, so their cost reports as zero.
var costPerToken = map[string][2]float64{
	// OpenAI
	"gpt-4o":                 {0.005, 0.015},
	"gpt-4o-mini":            {0.00015, 0.0006},
	"text-embedding-3-small": {0.00002, 0},
	"text-embedding-3-large": {0.00013, 0},

	// Groq
	"llama-3.3-70b-versatile": {0.00059, 0.00079},
	"llama-3.1-8b-instant":    {0.00005, 0.00008},
	"mixtral-8x7b-32768":      {0.00024, 0.00024},

	// Anthropic
	"claude-sonnet-4-20250514": {0.003, 0.015},
	"claude-opus-4-20250514":   {0.015, 0.075},
	"claude-3-haiku-20240307":  {0.00025, 0.00125},
}

// CalculateCost estimates the spend for one request. Unknown models
// return 0 rather than guessing.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	prices, ok := costPerToken[model]
	if !ok {
		return 0
	}
	inputCost := float64(inputTokens) / 1000.0 * prices[0]
	outputCost := float64(outputTokens) / 1000.0 * prices[1]
	return inputCost + outputCost
}
