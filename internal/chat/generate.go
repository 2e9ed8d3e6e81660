package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"
)

// GenerateRequest carries the assembled prompt components for one
// generation call.
type GenerateRequest struct {
	SystemPrompt        string
	UserContext         string
	ConversationContext string
	KnowledgeContext    string
	Query               string
	Temperature         float64
	MaxTokens           int
}

// Generator produces the response text for an assembled prompt. The
// production implementation wraps Genkit; tests script one.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GenkitGenerator calls the configured model through Genkit.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitGenerator creates a GenkitGenerator. modelName must be
// provider-qualified, e.g. "googleai/gemini-2.5-flash".
func NewGenkitGenerator(g *genkit.Genkit, modelName string) (*GenkitGenerator, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if modelName == "" {
		return nil, errors.New("model name is required")
	}
	return &GenkitGenerator{g: g, modelName: modelName}, nil
}

func (gg *GenkitGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	temp := float32(req.Temperature)
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.modelName),
		ai.WithSystem(req.SystemPrompt),
		ai.WithPrompt(renderPrompt(req)),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature:     &temp,
			MaxOutputTokens: int32(req.MaxTokens),
		}),
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// renderPrompt lays out the non-system components in a fixed order so
// the model sees context before the question.
func renderPrompt(req GenerateRequest) string {
	var b strings.Builder
	appendSection := func(header, body string) {
		if body == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if header != "" {
			b.WriteString(header)
			b.WriteString("\n")
		}
		b.WriteString(body)
	}
	appendSection("", req.UserContext)
	appendSection("Conversation so far:", req.ConversationContext)
	appendSection("Relevant knowledge:", req.KnowledgeContext)
	appendSection("User message:", req.Query)
	return b.String()
}
