package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

// OpenAIEngine is the plain-SDK variant of the receptionist adapter. It talks
// chat completions directly instead of going through the eino graph; useful
// against endpoints that reject the graph's templating round trip.
type OpenAIEngine struct {
	client       *openaisdk.Client
	model        string
	systemPrompt string
}

func NewOpenAIEngine(client *openaisdk.Client, model, systemPrompt string) (*OpenAIEngine, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, contractx.ErrPromptMissing
	}
	return &OpenAIEngine{
		client:       client,
		model:        model,
		systemPrompt: systemPrompt,
	}, nil
}

func (e *OpenAIEngine) Infer(ctx context.Context, req contractx.InferenceRequest) (contractx.InferenceResult, error) {
	input, err := marshalPayload(req)
	if err != nil {
		return contractx.InferenceResult{}, err
	}

	completion, err := e.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(e.systemPrompt),
			openaisdk.UserMessage(input),
		},
	})
	if err != nil {
		return contractx.InferenceResult{}, fmt.Errorf("%w: chat completion: %v", contractx.ErrModelInvoke, err)
	}
	if len(completion.Choices) == 0 {
		return contractx.InferenceResult{}, fmt.Errorf("%w: no completion choices", contractx.ErrModelInvoke)
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(strings.TrimSuffix(content, "```"), " \n")

	var out llmOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return contractx.InferenceResult{}, fmt.Errorf("%w: decode completion: %v", contractx.ErrSchemaViolation, err)
	}
	return validateOutput(out)
}
