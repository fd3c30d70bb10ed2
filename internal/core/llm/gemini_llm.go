package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/relaydesk/relaydesk/internal/core"
)

// GeminiProvider adapts the Gemini API to core.GenerationProvider.
type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: cl}, nil
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiProvider) Generate(ctx context.Context, model string, req core.GenerationRequest) (*core.GenerationResponse, error) {
	m := g.client.GenerativeModel(model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		mt := int32(req.MaxTokens)
		m.MaxOutputTokens = &mt
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		m.Temperature = &t
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, classifyGeminiErr(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: empty candidate set", core.ErrProviderFailed)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}

	// This SDK exposes no probability signal; the scorer renormalizes
	// around the missing component.
	out := &core.GenerationResponse{Text: b.String()}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func classifyGeminiErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: gemini: %v", core.ErrProviderTimeout, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 429 {
		return fmt.Errorf("%w: gemini: %v", core.ErrProviderRateLimited, err)
	}
	return fmt.Errorf("%w: gemini: %v", core.ErrProviderFailed, err)
}

var _ core.GenerationProvider = (*GeminiProvider)(nil)
