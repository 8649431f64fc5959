package rag

import (
	"fmt"
	"strings"
)

// RefusalText is the exact sentence the model is instructed to return
// when the retrieved context cannot answer the question. Callers compare
// against it to flag refusals.
const RefusalText = "The document does not contain information about this topic."

// systemPrompt pins the model to the retrieved excerpts. The refusal
// sentence is quoted verbatim so the model reproduces it exactly.
const systemPrompt = `You are a careful assistant answering questions about a single uploaded document.

Rules:
- Answer using only the numbered context excerpts provided. Do not use outside knowledge.
- If the excerpts do not contain the information needed to answer, reply with exactly this sentence and nothing else: "` + RefusalText + `"
- Cite the excerpts that support each claim by their number, for example [Chunk 2].
- Keep answers concise and factual.`

// SystemPrompt returns the grounding instructions sent as the system
// message of every completion.
func SystemPrompt() string {
	return systemPrompt
}

// BuildPrompt renders the user message for a question: the retrieved
// excerpts in rank order, each labelled with its rank and source page,
// followed by the question verbatim.
func BuildPrompt(question string, hits []Hit) string {
	var sb strings.Builder
	sb.WriteString("Context:\n\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "[Chunk %d (Page %d)]\n%s\n\n", h.Rank, h.Chunk.Page, h.Chunk.Text)
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}
