package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	bookingx "github.com/Crohns-Kate/echo-desk-sub000/agent/booking"
	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
	escalatex "github.com/Crohns-Kate/echo-desk-sub000/agent/escalate"
	extractx "github.com/Crohns-Kate/echo-desk-sub000/agent/extract"
	statex "github.com/Crohns-Kate/echo-desk-sub000/agent/state"
)

const (
	noUpcomingReply    = "I couldn't find an upcoming appointment under this number. Would you like to book one instead?"
	changeFailedReply  = "I'm sorry, I wasn't able to make that change just now. Our team will call you back shortly to sort it out."
	bookingBusyReply   = "Just one moment while I get that locked in for you."
	askRescheduleReply = "Sure, when would you like to move it to?"
)

type sideEffectDeps struct {
	executor  *bookingx.Executor
	scheduler contractx.Scheduler
	notifier  contractx.Notifier
	alerts    contractx.AlertSink
	detector  *escalatex.Detector
}

// runSideEffects executes whatever real-world action the settled state calls
// for: creating, moving, or cancelling appointments, proposing group
// assignments, and sending the map link. Exactly one action fires per turn.
func runSideEffects(ctx context.Context, ts *TurnState, deps sideEffectDeps) (*TurnState, error) {
	if ts.Escalated || ts.Hangup == extractx.HangupCommand {
		return ts, nil
	}
	cc := ts.CC

	switch {
	case cc.State.Intent == contractx.IntentCancel && !cc.Terminal():
		handleCancel(ctx, ts, deps)
	case cc.State.Intent == contractx.IntentReschedule && !cc.Terminal():
		handleReschedule(ctx, ts, deps)
	case cc.State.GroupBooking && !cc.Terminal():
		handleGroup(ctx, ts, deps)
	case !cc.Terminal():
		handleSingleBooking(ctx, ts, deps)
	}

	sendMapLink(ctx, ts, deps.notifier)
	updateStage(cc)
	return ts, nil
}

func handleSingleBooking(ctx context.Context, ts *TurnState, deps sideEffectDeps) {
	cc := ts.CC
	if !cc.State.BookingConfirmed {
		return
	}
	if _, ok := cc.SelectedSlot(); !ok {
		return
	}
	if strings.TrimSpace(cc.State.CallerName) == "" {
		ts.setReply(askNameReply)
		return
	}
	if cc.State.PatientType == "" {
		ts.setReply(askPatientReply)
		return
	}

	outcome, err := deps.executor.BookSingle(ctx, cc)
	if err != nil {
		log.Error().Err(err).Str("call_id", cc.CallID).Msg("booking attempt rejected")
		return
	}
	applyOutcome(ts, outcome)
}

// applyOutcome turns the executor's verdict into the spoken reply. A skipped
// duplicate attempt keeps whatever reply is already staged.
func applyOutcome(ts *TurnState, outcome bookingx.Outcome) {
	if outcome.Skipped {
		if !ts.replyFinal && ts.Reply == "" {
			ts.setReply(bookingBusyReply)
		}
		return
	}
	if outcome.Reply != "" {
		ts.setReply(outcome.Reply)
	}
}

func handleGroup(ctx context.Context, ts *TurnState, deps sideEffectDeps) {
	cc := ts.CC
	group := cc.Group

	switch {
	case group != nil && group.Proposed && cc.State.BookingConfirmed:
		outcome, err := deps.executor.BookGroup(ctx, cc)
		if err != nil {
			log.Error().Err(err).Str("call_id", cc.CallID).Msg("group booking attempt rejected")
			return
		}
		applyOutcome(ts, outcome)
	case bookingx.GroupReady(cc) && (group == nil || !group.Proposed) &&
		len(cc.AvailableSlots) >= len(group.Parties):
		proposal, err := deps.executor.ProposeGroup(cc, cc.AvailableSlots)
		if err != nil {
			log.Error().Err(err).Str("call_id", cc.CallID).Msg("group proposal rejected")
			return
		}
		ts.setReply(proposal)
	}
}

// handleCancel needs two turns: one to confirm which appointment, one to act
// on an explicit yes.
func handleCancel(ctx context.Context, ts *TurnState, deps sideEffectDeps) {
	cc := ts.CC
	if !loadUpcoming(ctx, ts, deps) {
		return
	}

	if !cc.State.BookingConfirmed {
		ts.setReply(fmt.Sprintf(
			"I found your appointment on %s. Are you sure you'd like to cancel it?",
			cc.Upcoming.Start.Format("Monday January 2 at 3:04 PM"),
		))
		cc.State.CallStage = statex.StageAwaitingConfirmation
		return
	}

	if err := deps.scheduler.Cancel(ctx, cc.Upcoming.ID); err != nil {
		reportChangeFailure(ctx, ts, deps, "cancel_failed", err)
		return
	}

	cc.State.TerminalLock = true
	cc.State.CallStage = statex.StageTerminal
	ts.setReply("All done, your appointment has been cancelled. Is there anything else I can help with?")
}

// handleReschedule walks the same slot flow as a fresh booking, then moves the
// existing appointment instead of creating one.
func handleReschedule(ctx context.Context, ts *TurnState, deps sideEffectDeps) {
	cc := ts.CC
	if !loadUpcoming(ctx, ts, deps) {
		return
	}

	if strings.TrimSpace(cc.State.TimePreference) == "" {
		ts.setReply(askRescheduleReply)
		return
	}

	slot, ok := cc.SelectedSlot()
	if !ok || !cc.State.BookingConfirmed {
		// Slot offering and confirmation are still in flight; the inference
		// reply carries the dialogue.
		return
	}

	if err := deps.scheduler.Reschedule(ctx, cc.Upcoming.ID, slot.Start); err != nil {
		reportChangeFailure(ctx, ts, deps, "reschedule_failed", err)
		return
	}

	cc.State.TerminalLock = true
	cc.State.CallStage = statex.StageTerminal
	if !cc.State.ConfirmationSent {
		cc.State.ConfirmationSent = true
		if err := deps.notifier.SendConfirmation(ctx, contractx.ConfirmationMessage{
			To:         cc.CallerID,
			TenantName: cc.Tenant.Name,
			PartyName:  cc.Upcoming.PartyName,
			Spoken:     slot.Spoken,
		}); err != nil {
			log.Warn().Err(err).Str("call_id", cc.CallID).Msg("reschedule confirmation failed")
		}
	}
	ts.setReply(fmt.Sprintf(
		"Done! You're now booked for %s instead. You'll get a text confirmation shortly. Anything else?",
		slot.Spoken,
	))
}

func loadUpcoming(ctx context.Context, ts *TurnState, deps sideEffectDeps) bool {
	cc := ts.CC
	if cc.Upcoming != nil {
		return true
	}

	appt, err := deps.scheduler.FindUpcoming(ctx, cc.CallerID)
	if err != nil {
		log.Error().Err(err).Str("call_id", cc.CallID).Msg("upcoming appointment lookup failed")
		ts.escalate(deps.detector.FromSchedulerError(err))
		return false
	}
	if appt == nil {
		ts.setReply(noUpcomingReply)
		cc.State.Intent = ""
		return false
	}
	cc.Upcoming = appt
	return true
}

func reportChangeFailure(ctx context.Context, ts *TurnState, deps sideEffectDeps, reason string, cause error) {
	cc := ts.CC
	log.Error().Err(cause).Str("call_id", cc.CallID).Str("reason", reason).
		Msg("appointment change failed")

	if err := deps.alerts.CreateAlert(ctx, contractx.Alert{
		CallID: cc.CallID,
		Reason: reason,
		Detail: cause.Error(),
		Payload: map[string]any{
			"appointment_id": cc.Upcoming.ID,
		},
	}); err != nil {
		log.Error().Err(err).Str("call_id", cc.CallID).Msg("change failure alert not recorded")
	}
	if err := deps.notifier.SendFallback(ctx, cc.CallerID, cc.Tenant.Name); err != nil {
		log.Warn().Err(err).Str("call_id", cc.CallID).Msg("fallback notification failed")
	}

	cc.State.BookingConfirmed = false
	ts.setReply(changeFailedReply)
}

var mapRequestPhrases = []string{
	"direction", "how do i get", "where are you", "where is the", "your address",
	"the address", "find you", "map",
}

func sendMapLink(ctx context.Context, ts *TurnState, notifier contractx.Notifier) {
	cc := ts.CC
	if cc.State.MapLinkSent || !cc.Tenant.MapAvailable || cc.CallerID == "" {
		return
	}

	lower := strings.ToLower(ts.Req.Utterance)
	asked := false
	for _, p := range mapRequestPhrases {
		if strings.Contains(lower, p) {
			asked = true
			break
		}
	}
	if !asked {
		return
	}

	if err := notifier.SendMapLink(ctx, cc.CallerID, cc.Tenant.Address); err != nil {
		log.Warn().Err(err).Str("call_id", cc.CallID).Msg("map link send failed")
		return
	}
	cc.State.MapLinkSent = true
	if !ts.replyFinal {
		ts.setReply(fmt.Sprintf(
			"We're at %s. I've just texted you a map link as well. Is there anything else I can help with?",
			cc.Tenant.Address,
		))
	}
}

// updateStage derives the coarse stage from the settled state. Terminal and
// escalated stages are owned elsewhere and never recomputed here.
func updateStage(cc *statex.ConversationContext) {
	s := &cc.State
	switch s.CallStage {
	case statex.StageTerminal, statex.StageEscalated:
		return
	}
	if cc.Terminal() {
		s.CallStage = statex.StageTerminal
		return
	}

	switch {
	case s.Intent == contractx.IntentCancel && cc.Upcoming != nil:
		// Cancellation waits on a spoken yes; see handleCancel.
		s.CallStage = statex.StageAwaitingConfirmation
	case s.GroupBooking && cc.Group != nil && cc.Group.Proposed:
		s.CallStage = statex.StageProposingGroup
	case s.GroupBooking && (cc.Group == nil || len(cc.Group.Parties) < 2):
		s.CallStage = statex.StageCollectingNames
	case s.SelectedSlotIndex != nil:
		s.CallStage = statex.StageAwaitingConfirmation
	case len(cc.AvailableSlots) > 0:
		s.CallStage = statex.StageOfferingSlots
	case s.Intent == "":
		s.CallStage = statex.StageCollectingIntent
	default:
		s.CallStage = statex.StageCollectingDetails
	}
}
