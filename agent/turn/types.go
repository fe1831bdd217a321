package turn

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
	escalatex "github.com/Crohns-Kate/echo-desk-sub000/agent/escalate"
	extractx "github.com/Crohns-Kate/echo-desk-sub000/agent/extract"
	statex "github.com/Crohns-Kate/echo-desk-sub000/agent/state"
)

var (
	ErrInvalidCall      = errors.New("call id is empty")
	ErrInvalidUtterance = errors.New("utterance is empty")
)

// TurnState is the working set threaded through the turn graph. One instance
// per processed turn; never shared across calls.
type TurnState struct {
	Req contractx.TurnRequest
	Now time.Time

	CC *statex.ConversationContext

	Hangup    extractx.HangupSignal
	Escalated bool
	Trigger   escalatex.Trigger

	Inference contractx.InferenceResult
	inferred  bool

	Reply       string
	replyFinal  bool // deterministic override; inference may not replace it
	ExpectReply bool
	Terminate   bool
}

// setReply records a deterministic reply that later nodes must not overwrite.
func (ts *TurnState) setReply(reply string) {
	ts.Reply = reply
	ts.replyFinal = true
}

// proposeReply records an inference-proposed reply, unless a deterministic
// one is already in place.
func (ts *TurnState) proposeReply(reply string) {
	if ts.replyFinal {
		return
	}
	ts.Reply = reply
}

func (ts *TurnState) escalate(trigger escalatex.Trigger) {
	ts.Escalated = true
	ts.Trigger = trigger
}

func validateRequest(req contractx.TurnRequest, nowFn func() time.Time) (*TurnState, error) {
	callID := strings.TrimSpace(req.CallID)
	if callID == "" {
		return nil, ErrInvalidCall
	}
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return nil, ErrInvalidUtterance
	}

	req.CallID = callID
	req.Utterance = utterance
	return &TurnState{
		Req:         req,
		Now:         nowFn().UTC(),
		ExpectReply: true,
	}, nil
}
