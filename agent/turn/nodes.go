package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
	escalatex "github.com/Crohns-Kate/echo-desk-sub000/agent/escalate"
	extractx "github.com/Crohns-Kate/echo-desk-sub000/agent/extract"
	guardx "github.com/Crohns-Kate/echo-desk-sub000/agent/guard"
	schedulex "github.com/Crohns-Kate/echo-desk-sub000/agent/schedule"
	statex "github.com/Crohns-Kate/echo-desk-sub000/agent/state"
)

const (
	goodbyeReplyFormat = "Thanks for calling %s. Goodbye!"
	hangupQueryReply   = "I can end the call whenever you're ready. Was there anything else you needed first?"
	fallbackReply      = "Sorry, I didn't quite catch that. Could you say it again?"
	clarifyTimeReply   = "Sorry, I want to make sure I get the timing right. What day and time would suit you best?"
	askNameReply       = "Of course. Could I get your full first and last name for the booking?"
	askPatientReply    = "And have you been in to see us before, or would this be your first visit?"
)

// loadOrCreateContext fetches the call document, creating a fresh one on a
// first turn. A load failure other than not-found degrades to a fresh context
// so the call can continue; the loss is logged.
func loadOrCreateContext(ctx context.Context, ts *TurnState, store statex.Store) (*TurnState, error) {
	cc, err := store.Load(ctx, ts.Req.CallID)
	switch {
	case err == nil:
	case errors.Is(err, statex.ErrContextNotFound):
		cc = statex.NewConversationContext(ts.Req.CallID, ts.Req.CallerID, ts.Req.Tenant, ts.Now)
	default:
		log.Warn().Err(err).Str("call_id", ts.Req.CallID).
			Msg("context load failed, continuing with a fresh context")
		cc = statex.NewConversationContext(ts.Req.CallID, ts.Req.CallerID, ts.Req.Tenant, ts.Now)
	}

	// The transport re-sends the tenant snapshot every turn; the latest one
	// wins.
	if ts.Req.Tenant.ID != "" {
		cc.Tenant = ts.Req.Tenant
	}
	if cc.CallerID == "" {
		cc.CallerID = ts.Req.CallerID
	}

	cc.TurnCount++
	cc.AppendMessage(contractx.RoleCaller, ts.Req.Utterance)

	ts.CC = cc
	return ts, nil
}

// extractSignals runs every deterministic extractor before inference so their
// results land in state regardless of what the model proposes.
func extractSignals(ts *TurnState, detector *escalatex.Detector) (*TurnState, error) {
	cc := ts.CC
	utt := ts.Req.Utterance
	lower := strings.ToLower(utt)

	ts.Hangup = extractx.DetectHangup(utt)
	switch ts.Hangup {
	case extractx.HangupCommand:
		ts.setReply(fmt.Sprintf(goodbyeReplyFormat, cc.Tenant.Name))
		ts.ExpectReply = false
		ts.Terminate = true
	case extractx.HangupQuestion:
		ts.setReply(hangupQueryReply)
	}

	if detector.IsConfused(utt) {
		cc.State.ConfusionStreak++
	} else {
		cc.State.ConfusionStreak = 0
	}

	if cc.State.Intent == "" {
		if intent := extractx.Intent(utt); intent != "" {
			cc.State.Intent = intent
		}
	}

	// A finished call can be reopened only by an explicit new-booking request.
	if cc.Terminal() && extractx.Intent(utt) == contractx.IntentBook &&
		(strings.Contains(lower, "another") || strings.Contains(lower, "one more") ||
			strings.Contains(lower, "as well")) {
		guardx.ResetForNewBooking(cc)
		cc.State.Intent = contractx.IntentBook
	}

	if !cc.Terminal() {
		candidate := extractx.TimePreference(utt, extractx.PreferenceDay(cc.State.TimePreference))
		merged := extractx.MergePreference(cc.State.TimePreference, candidate)
		cc.SetTimePreference(merged)
	}

	applyPolarity(ts, extractx.ClassifyYesNo(utt))

	if cc.State.GroupBooking && cc.State.CallStage == statex.StageCollectingNames {
		collectPartyNames(cc, utt)
	}

	return ts, nil
}

// applyPolarity is the deterministic safety net for confirmation turns; the
// inference layer usually proposes the same thing and the guard layer settles
// disagreements.
func applyPolarity(ts *TurnState, pol extractx.Polarity) {
	cc := ts.CC
	if cc.Terminal() {
		return
	}
	switch cc.State.CallStage {
	case statex.StageAwaitingConfirmation, statex.StageProposingGroup:
		switch pol {
		case extractx.PolarityAffirmative:
			cc.State.BookingConfirmed = true
		case extractx.PolarityNegative:
			cc.State.BookingConfirmed = false
			cc.State.SelectedSlotIndex = nil
		}
	}
}

func collectPartyNames(cc *statex.ConversationContext, utterance string) {
	names := extractx.SplitPartyNames(utterance)
	if len(names) == 0 {
		return
	}
	group := cc.EnsureGroup()
	for _, name := range names {
		if !extractx.ValidPartyName(name) {
			continue
		}
		exists := false
		for _, p := range group.Parties {
			if strings.EqualFold(p.Name, name) {
				exists = true
				break
			}
		}
		if !exists {
			group.Parties = append(group.Parties, contractx.Party{Name: name})
		}
	}
}

// handleHandoff is the escalation tail of the graph. Escalated is absorbing:
// routing happens once, the fixed reply repeats on every later turn.
func handleHandoff(ctx context.Context, ts *TurnState, alerts contractx.AlertSink) (*TurnState, error) {
	cc := ts.CC
	if cc.State.CallStage != statex.StageEscalated {
		if err := alerts.RouteHandoff(ctx, contractx.Handoff{
			CallID:   cc.CallID,
			Reason:   ts.Trigger.Reason,
			Category: ts.Trigger.Category,
		}); err != nil {
			log.Error().Err(err).Str("call_id", cc.CallID).Str("reason", ts.Trigger.Reason).
				Msg("handoff routing failed")
		}
		cc.State.CallStage = statex.StageEscalated
	}

	ts.Reply = escalatex.HandoffReply
	ts.replyFinal = true
	ts.ExpectReply = false
	ts.Terminate = false
	return ts, nil
}

// runInference asks the probabilistic engine for a reply and a state delta. An
// invoke failure escalates rather than crashing the turn.
func runInference(ctx context.Context, ts *TurnState, engine contractx.Inference) (*TurnState, error) {
	if ts.replyFinal {
		return ts, nil
	}
	cc := ts.CC

	res, err := engine.Infer(ctx, contractx.InferenceRequest{
		Utterance:    ts.Req.Utterance,
		History:      cc.History,
		StateSummary: cc.StateSummary(),
		SlotsOffered: cc.AvailableSlots,
		Tenant:       cc.Tenant,
	})
	if err != nil {
		log.Error().Err(err).Str("call_id", cc.CallID).Msg("inference failed")
		ts.escalate(escalatex.Trigger{Reason: escalatex.ReasonLowConfidence, Category: "model_error"})
		return ts, nil
	}

	ts.Inference = res
	ts.inferred = true
	ts.proposeReply(res.Reply)
	if res.ExpectReply != nil {
		ts.ExpectReply = *res.ExpectReply
	}
	return ts, nil
}

// resolveAvailability turns a fresh time preference into candidate slots and
// re-runs inference with the slots injected so the reply can read them back.
// An empty result is answered deterministically with a request for an
// alternative time.
func resolveAvailability(
	ctx context.Context,
	ts *TurnState,
	resolver *schedulex.Resolver,
	engine contractx.Inference,
	detector *escalatex.Detector,
) (*TurnState, error) {
	if ts.Escalated || ts.replyFinal {
		return ts, nil
	}
	cc := ts.CC
	if cc.Terminal() || cc.State.TimePreference == "" {
		return ts, nil
	}
	switch cc.State.Intent {
	case contractx.IntentBook, contractx.IntentReschedule:
	default:
		if !cc.State.GroupBooking {
			return ts, nil
		}
	}

	partyCount := 0
	if cc.Group != nil {
		partyCount = len(cc.Group.Parties)
	}
	needed := 1
	if partyCount > needed {
		needed = partyCount
	}
	if len(cc.AvailableSlots) >= needed {
		return ts, nil
	}
	if len(cc.AvailableSlots) > 0 {
		// The cached candidates cannot cover the whole group; search again
		// with the wider bound.
		cc.AvailableSlots = nil
		cc.State.SelectedSlotIndex = nil
		cc.State.SlotsOfferedTurn = 0
	}

	slots, err := resolver.Resolve(ctx, schedulex.Request{
		Preference:  cc.State.TimePreference,
		PatientType: cc.State.PatientType,
		Tenant:      cc.Tenant,
		PartyCount:  partyCount,
		Now:         ts.Now,
	})
	if err != nil {
		// A preference the window parser cannot use is a dialogue problem,
		// not a scheduler outage: forget it and ask again.
		if errors.Is(err, contractx.ErrValidation) {
			log.Warn().Err(err).Str("call_id", cc.CallID).
				Str("preference", cc.State.TimePreference).Msg("unusable time preference, asking again")
			cc.State.TimePreference = ""
			ts.setReply(clarifyTimeReply)
			return ts, nil
		}
		log.Error().Err(err).Str("call_id", cc.CallID).
			Str("preference", cc.State.TimePreference).Msg("slot resolution failed")
		ts.escalate(detector.FromSchedulerError(err))
		return ts, nil
	}
	if len(slots) == 0 {
		ts.setReply(fmt.Sprintf(
			"I'm sorry, I don't have anything available %s. Is there another day or time that could work?",
			cc.State.TimePreference,
		))
		return ts, nil
	}

	cc.OfferSlots(slots)

	// Second pass: same utterance, now with concrete candidates on the table.
	res, err := engine.Infer(ctx, contractx.InferenceRequest{
		Utterance:    ts.Req.Utterance,
		History:      cc.History,
		StateSummary: cc.StateSummary(),
		SlotsOffered: slots,
		Tenant:       cc.Tenant,
	})
	if err != nil {
		log.Warn().Err(err).Str("call_id", cc.CallID).
			Msg("second-pass inference failed, reading slots back deterministically")
		ts.proposeReply(formatSlotOffer(slots))
		return ts, nil
	}

	ts.Inference.Delta = mergeDeltas(ts.Inference.Delta, res.Delta)
	ts.Inference.HandoffNeeded = res.HandoffNeeded
	ts.Inference.HandoffCategory = res.HandoffCategory
	ts.inferred = true
	ts.proposeReply(res.Reply)
	if res.ExpectReply != nil {
		ts.ExpectReply = *res.ExpectReply
	}
	return ts, nil
}

func formatSlotOffer(slots []contractx.Slot) string {
	var b strings.Builder
	b.WriteString("I have ")
	for i, s := range slots {
		if i > 0 {
			if i == len(slots)-1 {
				b.WriteString(", or ")
			} else {
				b.WriteString(", ")
			}
		}
		b.WriteString(s.Spoken)
	}
	b.WriteString(" available. Would any of those work for you?")
	return b.String()
}

// mergeDeltas lays the second-pass delta over the first; nil fields inherit.
func mergeDeltas(first, second contractx.StateDelta) contractx.StateDelta {
	if second.Intent == nil {
		second.Intent = first.Intent
	}
	if second.TimePreference == nil {
		second.TimePreference = first.TimePreference
	}
	if second.PatientType == nil {
		second.PatientType = first.PatientType
	}
	if second.CallerName == nil {
		second.CallerName = first.CallerName
	}
	if second.ForSelf == nil {
		second.ForSelf = first.ForSelf
	}
	if second.SelectedSlotIndex == nil {
		second.SelectedSlotIndex = first.SelectedSlotIndex
	}
	if second.BookingConfirmed == nil {
		second.BookingConfirmed = first.BookingConfirmed
	}
	if second.GroupBooking == nil {
		second.GroupBooking = first.GroupBooking
	}
	if len(second.GroupParties) == 0 {
		second.GroupParties = first.GroupParties
	}
	if second.Confused == nil {
		second.Confused = first.Confused
	}
	return second
}

// applyGuards runs the invariant passes over the inference delta and merges
// the survivors into state.
func applyGuards(ts *TurnState, detector *escalatex.Detector) (*TurnState, error) {
	if ts.Escalated || !ts.inferred {
		return ts, nil
	}
	cc := ts.CC

	if trigger, ok := detector.FromInference(ts.Inference); ok {
		ts.escalate(trigger)
		return ts, nil
	}

	d, stripped := guardx.SanitizeDelta(ts.Inference.Delta)
	if len(stripped) > 0 {
		log.Warn().Str("call_id", cc.CallID).Strs("fields", stripped).
			Msg("inference proposed backend-owned fields")
	}

	d = guardx.TerminalDelta(cc, d)

	d, rejected := guardx.SlotTiming(cc, d)
	if rejected {
		log.Info().Str("call_id", cc.CallID).Int("turn", cc.TurnCount).
			Msg("same-turn slot confirmation rejected")
	}

	d, reprompt := guardx.GroupOwnership(cc, d)
	if reprompt != "" {
		ts.setReply(reprompt)
	}

	if d.CallerName != nil && !extractx.ValidPartyName(*d.CallerName) {
		log.Info().Str("call_id", cc.CallID).Str("rejected", *d.CallerName).
			Msg("proposed caller name failed the name filter")
		d.CallerName = nil
		if cc.State.CallerName == "" && cc.State.CallStage == statex.StageAwaitingConfirmation {
			ts.setReply(askNameReply)
		}
	}

	if d.TimePreference != nil && !cc.Terminal() {
		raw := strings.TrimSpace(*d.TimePreference)
		canonical := extractx.TimePreference(raw, extractx.PreferenceDay(cc.State.TimePreference))
		if canonical != "" {
			cc.SetTimePreference(extractx.MergePreference(cc.State.TimePreference, canonical))
		} else if raw != "" {
			// A proposal with no recognizable day or time never reaches state;
			// the reply can ask again on a later turn.
			log.Info().Str("call_id", cc.CallID).Str("rejected", raw).
				Msg("proposed time preference carries no time signal, dropped")
		}
	}
	d.TimePreference = nil

	if d.Confused != nil && *d.Confused {
		cc.State.ConfusionStreak++
	}

	cc.ApplyDelta(d)

	// A selection pointing outside the candidate list is noise, not a choice.
	if idx := cc.State.SelectedSlotIndex; idx != nil && (*idx < 0 || *idx >= len(cc.AvailableSlots)) {
		cc.State.SelectedSlotIndex = nil
	}

	return ts, nil
}

// composeReply settles the final spoken reply, applying the terminal-reply
// rewrite and the escalation override, and records it in history.
func composeReply(ctx context.Context, ts *TurnState, alerts contractx.AlertSink) (*TurnState, error) {
	cc := ts.CC

	if ts.Escalated && cc.State.CallStage != statex.StageEscalated {
		// Escalation discovered after the branch point (inference or
		// scheduler) still routes through the same tail.
		if _, err := handleHandoff(ctx, ts, alerts); err != nil {
			return nil, err
		}
	}

	if !ts.Escalated {
		if rewritten, ok := guardx.TerminalReply(cc, ts.Reply); ok {
			log.Info().Str("call_id", cc.CallID).Msg("terminal reply rewritten")
			ts.Reply = rewritten
		}
	}

	if strings.TrimSpace(ts.Reply) == "" {
		ts.Reply = fallbackReply
	}

	cc.AppendMessage(contractx.RoleAssistant, ts.Reply)
	return ts, nil
}

// saveContext persists the document. A save failure is logged and absorbed;
// the caller still gets the reply, at the cost of this turn's state on the
// next one.
func saveContext(ctx context.Context, ts *TurnState, store statex.Store) (*TurnState, error) {
	cc := ts.CC
	cc.Version++
	cc.Touch(ts.Now)

	if err := cc.Validate(); err != nil {
		log.Error().Err(err).Str("call_id", cc.CallID).Msg("context failed validation before save")
		return ts, nil
	}
	if err := store.Save(ctx, cc); err != nil {
		log.Error().Err(err).Str("call_id", cc.CallID).Msg("context save failed")
	}
	return ts, nil
}

func finalizeTurn(ts *TurnState) (contractx.TurnResult, error) {
	return contractx.TurnResult{
		SpokenReply: ts.Reply,
		ExpectReply: ts.ExpectReply,
		Terminate:   ts.Terminate,
	}, nil
}
