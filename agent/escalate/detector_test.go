package escalate

import (
	"errors"
	"testing"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

func TestFromUtteranceCallerRequest(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	for _, utt := range []string{
		"I want to speak to a human",
		"can I talk to a real person",
		"transfer me please",
		"operator please",
	} {
		trigger, ok := d.FromUtterance(utt, 0)
		if !ok {
			t.Errorf("expected %q to trigger escalation", utt)
			continue
		}
		if trigger.Reason != ReasonCallerRequest {
			t.Errorf("reason for %q = %s, want %s", utt, trigger.Reason, ReasonCallerRequest)
		}
	}
}

func TestFromUtteranceHostileLanguage(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	trigger, ok := d.FromUtterance("this is fucking useless", 0)
	if !ok || trigger.Reason != ReasonHostile {
		t.Fatalf("expected hostile trigger, got %+v (ok=%v)", trigger, ok)
	}

	if _, ok := d.FromUtterance("I'd like to book a cleaning", 0); ok {
		t.Fatal("plain booking request must not escalate")
	}
}

func TestConfusionStreakThreshold(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	if !d.IsConfused("sorry, I don't understand") {
		t.Fatal("expected confusion phrase to be detected")
	}
	if d.IsConfused("tuesday works") {
		t.Fatal("plain answer is not confusion")
	}

	if _, ok := d.FromUtterance("what do you mean", 1); ok {
		t.Fatal("one confused turn is below the threshold")
	}
	trigger, ok := d.FromUtterance("what do you mean", 2)
	if !ok || trigger.Reason != ReasonConfusion {
		t.Fatalf("expected confusion trigger at the threshold, got %+v (ok=%v)", trigger, ok)
	}
}

func TestWithConfusionThreshold(t *testing.T) {
	t.Parallel()

	d := NewDetector(WithConfusionThreshold(4))
	if _, ok := d.FromUtterance("huh", 3); ok {
		t.Fatal("custom threshold not honored")
	}
	if _, ok := d.FromUtterance("huh", 4); !ok {
		t.Fatal("expected escalation at the custom threshold")
	}
}

func TestFromInference(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	if _, ok := d.FromInference(contractx.InferenceResult{}); ok {
		t.Fatal("no handoff flag, no trigger")
	}

	trigger, ok := d.FromInference(contractx.InferenceResult{
		HandoffNeeded:   true,
		HandoffCategory: "billing_dispute",
	})
	if !ok || trigger.Reason != ReasonLowConfidence || trigger.Category != "billing_dispute" {
		t.Fatalf("unexpected trigger %+v (ok=%v)", trigger, ok)
	}

	trigger, _ = d.FromInference(contractx.InferenceResult{HandoffNeeded: true})
	if trigger.Category != "unspecified" {
		t.Fatalf("empty category should default, got %q", trigger.Category)
	}
}

func TestFromSchedulerError(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	trigger := d.FromSchedulerError(errors.New("api down"))
	if trigger.Reason != ReasonSchedulingError {
		t.Fatalf("reason = %s, want %s", trigger.Reason, ReasonSchedulingError)
	}
}
