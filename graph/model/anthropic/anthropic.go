// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to
// model.ChatModel for AGENT nodes configured with ModelConfig.Provider ==
// "anthropic" (engine.go's ModelResolver).
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/PIliev24/agent-orchestrator/graph/model"
)

// ChatModel drives one Claude model. System messages are pulled out of the
// message list since Anthropic's API takes the system prompt as a separate
// parameter rather than a message with a system role.
type ChatModel struct {
	apiKey    string
	modelName string
	client    anthropicClient
}

// anthropicClient isolates the SDK call so tests can substitute a fake.
type anthropicClient interface {
	createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel builds a ChatModel for modelName (empty uses the current
// default Sonnet release).
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
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

	systemPrompt, conversationMessages := extractSystemPrompt(messages)

	out, err := m.client.createMessage(ctx, systemPrompt, conversationMessages, tools)
	if err != nil {
		return model.ChatOut{}, translateAnthropicError(err)
	}
	return out, nil
}

// translateAnthropicError returns the *anthropicError inside err, with its
// Type preserved, or err unchanged when it holds none.
func translateAnthropicError(err error) error {
	var apiErr *anthropicError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return err
}

// extractSystemPrompt pulls out and concatenates system-role messages,
// leaving the rest in conversation order.
func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var conversationMessages []model.Message

	for _, msg := range messages {
		if msg.Role != model.RoleSystem {
			conversationMessages = append(conversationMessages, msg)
			continue
		}
		if systemPrompt != "" {
			systemPrompt += "\n\n"
		}
		systemPrompt += msg.Content
	}
	return systemPrompt, conversationMessages
}

// defaultClient wraps the real SDK client.
type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createMessage(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic API error: %w", err)
	}

	out := convertResponse(resp)
	out.Usage = model.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	return out, nil
}

func convertMessages(messages []model.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case model.RoleAssistant:
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			// RoleUser, and anything else that isn't system (already stripped).
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return result
}

func convertTools(tools []model.ToolSpec) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		var properties any
		var required []string
		if t.Schema != nil {
			if props, ok := t.Schema["properties"]; ok {
				properties = props
			}
			switch req := t.Schema["required"].(type) {
			case []string:
				required = req
			case []interface{}:
				required = make([]string, len(req))
				for j, v := range req {
					if s, ok := v.(string); ok {
						required[j] = s
					}
				}
			}
		}

		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return result
}

func convertResponse(resp *anthropicsdk.Message) model.ChatOut {
	out := model.ChatOut{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: b.Name, Input: convertToolInput(b.Input)})
		}
	}
	return out
}

func convertToolInput(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}

// anthropicError is a typed provider error that Chat passes through from its
// client. The SDK-backed defaultClient wraps SDK errors with %w and does not
// produce one.
type anthropicError struct {
	Type    string
	Message string
}

func (e *anthropicError) Error() string {
	return e.Type + ": " + e.Message
}
