package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/and161185/slotkeeper/internal/model"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAI generates images through a Gemini image model.
type GenAI struct {
	models contentGenerator
	model  string
}

// NewGenAI creates a Gemini-backed generator.
func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, errors.New("validation: genai api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GenAI{models: client.Models, model: model}, nil
}

// buildPrompt adds the reference and aspect ratio instructions the model
// has no structured field for.
func buildPrompt(prompt, aspectRatio string, nRefs int) string {
	var b strings.Builder
	switch {
	case nRefs == 1:
		b.WriteString("Use the attached image as the visual reference for the character. ")
	case nRefs > 1:
		fmt.Fprintf(&b, "Use the %d attached images as visual references for the characters. ", nRefs)
	}
	b.WriteString(prompt)
	if aspectRatio != "" {
		fmt.Fprintf(&b, "\nAspect ratio: %s.", aspectRatio)
	}
	return b.String()
}

// Generate implements Generator.
func (g *GenAI) Generate(ctx context.Context, prompt, aspectRatio string, refs []model.ReferenceImage) (model.Artifact, error) {
	parts := []*genai.Part{genai.NewPartFromText(buildPrompt(prompt, aspectRatio, len(refs)))}
	for _, r := range refs {
		parts = append(parts, genai.NewPartFromBytes(r.Data, r.MIMEType))
	}
	cfg := &genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}

	resp, err := g.models.GenerateContent(ctx, g.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("genai generate: %w", err)
	}
	return firstImage(resp)
}

func firstImage(resp *genai.GenerateContentResponse) (model.Artifact, error) {
	if resp == nil {
		return model.Artifact{}, errors.New("empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return model.Artifact{}, fmt.Errorf("prompt refused by backend: %s", resp.PromptFeedback.BlockReason)
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 &&
				strings.HasPrefix(p.InlineData.MIMEType, "image/") {
				return model.Artifact{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType}, nil
			}
		}
	}
	return model.Artifact{}, errors.New("no image in response")
}
