// Package escalate decides when a call should be handed to a human. Each
// trigger is evaluated independently of the booking logic; any single trigger
// is sufficient.
package escalate

import (
	"regexp"
	"strings"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

// Reason codes reported to the handoff sink.
const (
	ReasonCallerRequest   = "caller_request"
	ReasonHostile         = "hostile_language"
	ReasonConfusion       = "repeated_confusion"
	ReasonLowConfidence   = "inference_handoff"
	ReasonSchedulingError = "scheduling_error"
)

// HandoffReply is the fixed acknowledgement spoken when escalating. Inference
// is bypassed entirely on this path.
const HandoffReply = "Of course. Let me get someone from the team to help you, one moment please."

// Trigger describes why the call is being escalated.
type Trigger struct {
	Reason   string
	Category string
}

var humanRequestRe = regexp.MustCompile(`(?i)\b(speak|talk) to a (human|person|real person|receptionist|someone)|\b(human|operator|receptionist) please\b|\btransfer me\b|\breal person\b`)

var hostileWords = []string{
	"fuck", "fucking", "shit", "bullshit", "asshole", "bitch", "damn you",
	"stupid machine", "useless", "idiot",
}

var confusionPhrases = []string{
	"i dont understand", "i don't understand", "what do you mean", "huh",
	"that makes no sense", "im confused", "i'm confused", "what are you saying",
	"youre not making sense", "you're not making sense", "i didnt get that",
}

const defaultConfusionThreshold = 2

// Detector evaluates escalation triggers.
type Detector struct {
	confusionThreshold int
}

type Option func(*Detector)

func WithConfusionThreshold(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.confusionThreshold = n
		}
	}
}

func NewDetector(opts ...Option) *Detector {
	d := &Detector{confusionThreshold: defaultConfusionThreshold}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// IsConfused reports whether the utterance expresses non-comprehension. The
// turn processor keeps the consecutive-turn streak.
func (d *Detector) IsConfused(utterance string) bool {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	for _, p := range confusionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// FromUtterance checks the deterministic triggers: explicit request, hostile
// language, and a confusion streak at or above the threshold.
func (d *Detector) FromUtterance(utterance string, confusionStreak int) (Trigger, bool) {
	lower := strings.ToLower(utterance)

	if humanRequestRe.MatchString(utterance) {
		return Trigger{Reason: ReasonCallerRequest, Category: "caller_request"}, true
	}
	for _, w := range hostileWords {
		if strings.Contains(lower, w) {
			return Trigger{Reason: ReasonHostile, Category: "hostile"}, true
		}
	}
	if confusionStreak >= d.confusionThreshold {
		return Trigger{Reason: ReasonConfusion, Category: "confusion"}, true
	}
	return Trigger{}, false
}

// FromInference checks the probabilistic trigger: the inference layer declared
// the request out of scope or below its confidence floor.
func (d *Detector) FromInference(res contractx.InferenceResult) (Trigger, bool) {
	if !res.HandoffNeeded {
		return Trigger{}, false
	}
	category := strings.TrimSpace(res.HandoffCategory)
	if category == "" {
		category = "unspecified"
	}
	return Trigger{Reason: ReasonLowConfidence, Category: category}, true
}

// FromSchedulerError wraps an unresolved scheduling-capability failure.
func (d *Detector) FromSchedulerError(err error) Trigger {
	category := "scheduler"
	if err != nil {
		category = err.Error()
	}
	return Trigger{Reason: ReasonSchedulingError, Category: category}
}
