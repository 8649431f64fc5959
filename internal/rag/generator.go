package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/askdoc/askdoc/internal/llm"
)

// Completer is the slice of the LLM gateway generation needs.
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Generator turns retrieved context into a grounded answer.
type Generator struct {
	gateway     Completer
	model       string
	temperature float64
	maxTokens   int
}

func NewGenerator(gateway Completer, model string, temperature float64, maxTokens int) *Generator {
	return &Generator{
		gateway:     gateway,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

type Answer struct {
	Text         string  `json:"text"`
	Refused      bool    `json:"refused"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Generate asks the completion provider for an answer grounded in hits.
// History carries prior conversation turns and precedes the grounded
// question, so follow-ups like "what about the second one?" resolve.
func (g *Generator) Generate(ctx context.Context, question string, hits []Hit, history []llm.Message) (*Answer, error) {
	if len(hits) == 0 {
		return &Answer{Text: RefusalText, Refused: true}, nil
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: BuildPrompt(question, hits)})

	resp, err := g.gateway.Complete(ctx, llm.ChatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	return &Answer{
		Text:         text,
		Refused:      text == RefusalText,
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.TotalTokens,
		CostUSD:      llm.CalculateCost(resp.Model, resp.InputTokens, resp.OutputTokens),
	}, nil
}
