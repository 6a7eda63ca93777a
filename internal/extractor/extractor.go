// Package extractor turns raw user messages into structured memory
// candidates. The LLM acts only as a proposer; everything it emits is
// normalized and then judged by the policy engine.
package extractor

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// Candidate is a normalized memory proposal extracted from one message.
type Candidate struct {
	Content    string `json:"content"`
	MemoryDate string `json:"memory_date"`
	Subject    string `json:"subject"`
	Importance int    `json:"importance"`
}

// FactExtractor proposes at most one memory candidate per message.
// A nil candidate with a nil error means the message carried nothing
// worth remembering.
type FactExtractor interface {
	Extract(ctx context.Context, message string) (*Candidate, error)
}

const extractionSystemPrompt = `You are a memory extraction filter for a personal assistant.
Given one user message, decide whether it contains a durable personal fact
worth remembering (preferences, commitments, relationships, health,
recurring plans). Ephemeral chatter, questions, and one-off requests are
not memories.

If there is a fact, respond with exactly one JSON object:
{"content": "<one factual sentence>", "subject": "<short category>", "importance": <1-5>, "memory_date": "<YYYY-MM-DD>"}

If there is nothing to remember, respond with exactly: NONE

No prose, no markdown fences, no explanations.`

// GenAIExtractor extracts candidates via the Gemini API.
type GenAIExtractor struct {
	client *genai.Client
	model  string
	now    func() time.Time
}

// NewGenAIExtractor creates an extractor bound to a Gemini model.
func NewGenAIExtractor(ctx context.Context, apiKey, model string) (*GenAIExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIExtractor{client: client, model: model, now: time.Now}, nil
}

// Extract runs the extraction prompt against one message and normalizes
// whatever comes back.
func (e *GenAIExtractor) Extract(ctx context.Context, message string) (*Candidate, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(message, genai.RoleUser),
	}

	result, err := e.client.Models.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(extractionSystemPrompt, genai.RoleUser),
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}

	return NormalizeResponse(result.Text(), e.now().Format("2006-01-02"))
}
