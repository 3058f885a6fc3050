// Package chatbot proxies legal questions to Gemini with Google Search
// grounding and a fixed assistant persona.
package chatbot

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// systemInstruction pins the assistant persona for every query.
const systemInstruction = `You are LokVidhi, an expert Indian legal literacy assistant.
Your goal is to simplify complex laws for the average citizen.

GUIDELINES:
1. **Be Accurate:** Base answers on Indian Bare Acts (IPC, CrPC, Contract Act, etc.).
2. **Be Simple:** Avoid heavy legalese. Explain like you are talking to a college student.
3. **Be Safe:** Always add a disclaimer: "I am an AI, not a lawyer. Please consult a professional for serious legal matters."
4. **Context:** If the user asks about specific state laws (like Rent Control), ask them which state they are in if you don't know.
`

// fallbackReply is returned when the model produces no usable text.
const fallbackReply = "I'm sorry, I couldn't generate a response."

// ErrUpstream is returned when the model call fails for any reason. The
// upstream detail stays in the wrapped error and out of client responses.
var ErrUpstream = errors.New("chatbot: upstream model call failed")

// ErrEmptyMessage is returned when a query has no message text.
var ErrEmptyMessage = errors.New("chatbot: message is required")

// Source is a web citation surfaced by search grounding.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Reply is the assistant's answer with any grounding citations.
type Reply struct {
	Reply   string   `json:"reply"`
	Sources []Source `json:"sources"`
}

// generator is the slice of the Gemini client the service needs.
type generator interface {
	generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type genaiGenerator struct {
	client *genai.Client
}

func (g *genaiGenerator) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.client.Models.GenerateContent(ctx, model, contents, cfg)
}

// Service answers legal literacy questions through Gemini.
type Service struct {
	gen   generator
	model string
}

// NewService creates a chatbot service backed by the Gemini API.
func NewService(ctx context.Context, apiKey, model string) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("chatbot: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Service{gen: &genaiGenerator{client: client}, model: model}, nil
}

// Query sends one user message to the model and extracts the answer plus any
// web sources the grounding tool attached.
func (s *Service) Query(ctx context.Context, message string) (Reply, error) {
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}

	contents := []*genai.Content{
		genai.NewContentFromText(message, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		},
	}

	resp, err := s.gen.generate(ctx, s.model, contents, cfg)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return extractReply(resp), nil
}

// extractReply pulls the first candidate's text and web citations, falling
// back to a canned apology when the model returned nothing usable.
func extractReply(resp *genai.GenerateContentResponse) Reply {
	reply := Reply{Reply: fallbackReply, Sources: []Source{}}
	if resp == nil || len(resp.Candidates) == 0 {
		return reply
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				reply.Reply = part.Text
				break
			}
		}
	}

	if candidate.GroundingMetadata != nil {
		for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			title := chunk.Web.Title
			if title == "" {
				title = "Source"
			}
			reply.Sources = append(reply.Sources, Source{Title: title, URI: chunk.Web.URI})
		}
	}
	return reply
}
