package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/and161185/slotkeeper/internal/model"
)

// contentGenerator is the subset of *genai.Models the classifier calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIClassifier asks a Gemini text model for a JSON verdict.
type GenAIClassifier struct {
	models contentGenerator
	model  string
}

// NewGenAIClassifier creates a Gemini-backed classifier.
func NewGenAIClassifier(ctx context.Context, apiKey, model string) (*GenAIClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("validation: genai api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GenAIClassifier{models: client.Models, model: model}, nil
}

const systemPrompt = `You are a content moderator for a school art tool used by young students.
Classify the image-generation request and answer with a single JSON object:
{"allowed": bool, "blockReason": "NONE"|"TEXT_REQUEST"|"SAFETY_VIOLATION"|"POLICY_SPECIFIC", "explanation": string}
Apply the checks in this order and stop at the first that fails:
1. SAFETY_VIOLATION: violence, hate, sexual content, self-harm or harassment.
2. TEXT_REQUEST: the request asks for letters, words, signs, captions or logos drawn in the image, and text is not allowed for this slot.
3. POLICY_SPECIFIC: this slot requires a character and the request describes no person, animal or fictional creature.
If nothing fails answer {"allowed": true, "blockReason": "NONE", "explanation": ""}.`

func slotRules(sc model.SlotContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Slot kind: %s.\n", sc.Kind)
	if sc.TextAllowed {
		b.WriteString("Text in the image is allowed.\n")
	} else {
		b.WriteString("Text in the image is NOT allowed.\n")
	}
	if sc.RequiresCharacter {
		b.WriteString("The image must show a character.\n")
	}
	return b.String()
}

// Classify implements Classifier. Output that does not decode strictly into
// a verdict is an error; the gate turns it into a fail-closed block.
func (c *GenAIClassifier) Classify(ctx context.Context, prompt string, sc model.SlotContext) (model.Verdict, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	}
	contents := []*genai.Content{
		genai.NewContentFromText(slotRules(sc)+"Request: "+prompt, genai.RoleUser),
	}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("genai classify: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		// The model refused the prompt itself; that is a safety block, not an outage.
		return model.Verdict{
			Allowed:     false,
			BlockReason: model.BlockSafety,
			Explanation: string(resp.PromptFeedback.BlockReason),
		}, nil
	}
	return decodeVerdict(resp.Text())
}

func decodeVerdict(raw string) (model.Verdict, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	if raw == "" {
		return model.Verdict{}, errors.New("empty classifier output")
	}

	var v struct {
		Allowed     *bool              `json:"allowed"`
		BlockReason *model.BlockReason `json:"blockReason"`
		Explanation string             `json:"explanation"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return model.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if dec.More() {
		return model.Verdict{}, errors.New("decode verdict: trailing data")
	}
	if v.Allowed == nil || v.BlockReason == nil {
		return model.Verdict{}, errors.New("decode verdict: missing fields")
	}
	return model.Verdict{Allowed: *v.Allowed, BlockReason: *v.BlockReason, Explanation: v.Explanation}, nil
}
