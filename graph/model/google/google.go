// Package google adapts github.com/google/generative-ai-go/genai to
// model.ChatModel for AGENT nodes configured with ModelConfig.Provider ==
// "google".
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/PIliev24/agent-orchestrator/graph/model"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ChatModel drives one Gemini model. A *SafetyFilterError returned by its
// client passes through Chat for the caller to inspect with errors.As; the
// SDK-backed defaultClient does not map safety blocks to one.
type ChatModel struct {
	apiKey    string
	modelName string
	client    googleClient
}

// googleClient isolates the SDK call so tests can substitute a fake.
type googleClient interface {
	generateContent(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel builds a ChatModel for modelName (empty uses the current
// default Flash release).
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &ChatModel{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	out, err := m.client.generateContent(ctx, messages, tools)
	if err != nil {
		return model.ChatOut{}, handleSafetyFilterError(err)
	}
	return out, nil
}

// handleSafetyFilterError returns the *SafetyFilterError inside err, or err
// unchanged when it holds none.
func handleSafetyFilterError(err error) error {
	var safetyErr *SafetyFilterError
	if errors.As(err, &safetyErr) {
		return safetyErr
	}
	return err
}

// defaultClient wraps the real SDK client.
type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) generateContent(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(c.modelName)
	if len(tools) > 0 {
		genModel.Tools = convertTools(tools)
	}

	resp, err := genModel.GenerateContent(ctx, convertMessages(messages)...)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google API error: %w", err)
	}

	out := convertResponse(resp)
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// convertMessages flattens messages into genai.Part text parts. Gemini has
// no per-message role in a single-turn GenerateContent call; a system
// message, if present, rides along as plain text rather than
// SystemInstruction, which keeps this adapter's message shape identical to
// the other two providers'.
func convertMessages(messages []model.Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchemaToGenai(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchemaToGenai converts the top-level properties/required of a JSON
// Schema map into genai.Schema; nested property schemas only carry
// type/description, which covers every tool this repo's tests define.
func convertSchemaToGenai(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		properties := make(map[string]*genai.Schema)
		for key, val := range props {
			propMap, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			propSchema := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				propSchema.Type = convertTypeString(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				propSchema.Description = desc
			}
			properties[key] = propSchema
		}
		result.Properties = properties
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		requiredStrs := make([]string, len(required))
		for i, v := range required {
			if s, ok := v.(string); ok {
				requiredStrs[i] = s
			}
		}
		result.Required = requiredStrs
	}

	return result
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if len(resp.Candidates) == 0 {
		return out
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return out
	}

	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// SafetyFilterError reports a Gemini safety-filter block; Category names
// the triggered harm category (e.g. "HARM_CATEGORY_HATE_SPEECH").
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

func (e *SafetyFilterError) Category() string { return e.category }
func (e *SafetyFilterError) Reason() string   { return e.reason }
