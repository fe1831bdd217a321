// Package inference adapts the probabilistic dialogue engine behind the
// contract.Inference interface. The production path is a structured-output
// LLM graph; everything returned here is a proposal, subject to the guard
// layer before it touches persisted state.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

const historyWindow = 12

type llmOutput struct {
	Reply           string               `json:"reply"`
	StateDelta      contractx.StateDelta `json:"state_delta,omitempty"`
	HandoffNeeded   bool                 `json:"handoff_needed,omitempty"`
	HandoffCategory string               `json:"handoff_category,omitempty"`
	ExpectReply     *bool                `json:"expect_reply,omitempty"`
}

// Engine runs the receptionist model through an eino structured-output graph.
type Engine struct {
	runner compose.Runnable[map[string]any, llmOutput]
}

func NewEngine(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*Engine, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, contractx.ErrPromptMissing
	}
	runner, err := compileReceptionistGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	return &Engine{runner: runner}, nil
}

func (e *Engine) Infer(ctx context.Context, req contractx.InferenceRequest) (contractx.InferenceResult, error) {
	input, err := marshalPayload(req)
	if err != nil {
		return contractx.InferenceResult{}, err
	}

	out, err := e.runner.Invoke(ctx, map[string]any{"input": input})
	if err != nil {
		return contractx.InferenceResult{}, fmt.Errorf("%w: receptionist invoke: %v", contractx.ErrModelInvoke, err)
	}
	return validateOutput(out)
}

func marshalPayload(req contractx.InferenceRequest) (string, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return "", fmt.Errorf("%w: utterance is required", contractx.ErrValidation)
	}

	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	payload := map[string]any{
		"utterance": req.Utterance,
		"history":   history,
		"state":     req.StateSummary,
		"tenant": map[string]any{
			"name":          req.Tenant.Name,
			"address":       req.Tenant.Address,
			"timezone":      req.Tenant.Timezone,
			"practitioners": req.Tenant.Practitioners,
		},
	}
	if len(req.SlotsOffered) > 0 {
		offered := make([]map[string]any, 0, len(req.SlotsOffered))
		for i, s := range req.SlotsOffered {
			offered = append(offered, map[string]any{
				"index":        i,
				"spoken":       s.Spoken,
				"practitioner": s.PractitionerName,
			})
		}
		payload["slots_offered"] = offered
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal inference payload: %v", contractx.ErrValidation, err)
	}
	return string(raw), nil
}

func validateOutput(out llmOutput) (contractx.InferenceResult, error) {
	reply := strings.TrimSpace(out.Reply)
	if reply == "" && !out.HandoffNeeded {
		return contractx.InferenceResult{}, fmt.Errorf("%w: reply is empty", contractx.ErrSchemaViolation)
	}
	return contractx.InferenceResult{
		Reply:           reply,
		Delta:           out.StateDelta,
		HandoffNeeded:   out.HandoffNeeded,
		HandoffCategory: strings.TrimSpace(out.HandoffCategory),
		ExpectReply:     out.ExpectReply,
	}, nil
}
