package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
	extractx "github.com/Crohns-Kate/echo-desk-sub000/agent/extract"
	statex "github.com/Crohns-Kate/echo-desk-sub000/agent/state"
)

const groupPartialApology = "I'm sorry, I could only confirm part of the group just now. Our team will call you back shortly to finish the rest."

// GroupReady reports whether a group transaction has everything it needs to
// be proposed: the group flag, at least two parties with names that pass the
// validity filter, and a resolved time preference.
func GroupReady(cc *statex.ConversationContext) bool {
	if !cc.State.GroupBooking || cc.Group == nil {
		return false
	}
	if len(cc.Group.Parties) < 2 {
		return false
	}
	for _, p := range cc.Group.Parties {
		if !extractx.ValidPartyName(p.Name) {
			return false
		}
	}
	return strings.TrimSpace(cc.State.TimePreference) != ""
}

// ProposeGroup assigns parties to successive candidate slots and returns the
// proposal to read back to the caller. Booking never happens on the proposing
// turn; the caller must confirm on a later one.
func (e *Executor) ProposeGroup(cc *statex.ConversationContext, slots []contractx.Slot) (string, error) {
	if !GroupReady(cc) {
		return "", fmt.Errorf("%w: group booking prerequisites missing", contractx.ErrValidation)
	}
	if len(slots) < len(cc.Group.Parties) {
		return "", fmt.Errorf("%w: %d slots for %d parties", contractx.ErrValidation, len(slots), len(cc.Group.Parties))
	}

	var b strings.Builder
	b.WriteString("Here's what I can do: ")
	for i, p := range cc.Group.Parties {
		if i > 0 {
			b.WriteString(", then ")
		}
		fmt.Fprintf(&b, "%s at %s", p.Name, slots[i].Spoken)
	}
	b.WriteString(". Shall I lock those in?")

	cc.OfferSlots(slots)
	cc.EnsureGroup().Proposed = true
	cc.State.CallStage = statex.StageProposingGroup
	return b.String(), nil
}

// BookGroup executes a confirmed group transaction, booking each party
// sequentially against successive candidate slots and verifying every
// creation individually. On partial failure the completed bookings are kept,
// the failure is alerted, and a fallback text is sent; no rollback.
func (e *Executor) BookGroup(ctx context.Context, cc *statex.ConversationContext) (Outcome, error) {
	if !GroupReady(cc) || !cc.Group.Proposed {
		return Outcome{}, fmt.Errorf("%w: group booking not proposed yet", contractx.ErrValidation)
	}
	if len(cc.AvailableSlots) < len(cc.Group.Parties) {
		return Outcome{}, fmt.Errorf("%w: not enough candidate slots for the group", contractx.ErrValidation)
	}

	if skipped := e.acquireLock(cc); skipped {
		return Outcome{Skipped: true}, nil
	}
	cc.State.CallStage = statex.StageBookingInProgress

	group := cc.Group
	for i := group.BookedCount; i < len(group.Parties); i++ {
		party := group.Parties[i]
		slot := cc.AvailableSlots[i]

		appt, err := e.scheduler.CreateAppointment(ctx, contractx.CreateAppointmentRequest{
			PractitionerID:    slot.PractitionerID,
			AppointmentTypeID: slot.AppointmentTypeID,
			Start:             slot.Start,
			PartyName:         party.Name,
			CallerPhone:       cc.CallerID,
			Notes:             fmt.Sprintf("group booking %d of %d", i+1, len(group.Parties)),
		})
		if err == nil && (appt == nil || strings.TrimSpace(appt.ID) == "") {
			err = errors.New("appointment created without an id")
		}
		if err != nil {
			return e.failGroupBooking(ctx, cc, party, slot, err), nil
		}
		group.BookedCount++
	}

	cc.State.AppointmentCreated = true
	cc.State.TerminalLock = true
	cc.State.CallStage = statex.StageTerminal

	first := cc.AvailableSlots[0]
	e.sendConfirmation(ctx, cc, group.Parties[0].Name, first.Spoken)
	e.sendIntakeForm(ctx, cc)

	reply := fmt.Sprintf(
		"Wonderful, all %d appointments are locked in, starting %s. You'll get a text with the details. Anything else I can help with?",
		group.BookedCount, first.Spoken,
	)
	return Outcome{Booked: true, Reply: reply}, nil
}

// failGroupBooking handles a mid-sequence creation failure. Already-created
// bookings stay; the transaction is closed so a retry cannot double-book the
// completed parties, and the remainder goes to manual follow-up.
func (e *Executor) failGroupBooking(
	ctx context.Context,
	cc *statex.ConversationContext,
	party contractx.Party,
	slot contractx.Slot,
	cause error,
) Outcome {
	log.Error().Err(cause).Str("call_id", cc.CallID).Str("party", party.Name).
		Int("booked_count", cc.Group.BookedCount).Msg("group booking failed mid-sequence")

	if err := e.alerts.CreateAlert(ctx, contractx.Alert{
		CallID: cc.CallID,
		Reason: "group_booking_partial_failure",
		Detail: cause.Error(),
		Payload: map[string]any{
			"failed_party": party.Name,
			"start":        slot.Start,
			"booked_count": cc.Group.BookedCount,
			"party_count":  len(cc.Group.Parties),
		},
	}); err != nil {
		log.Error().Err(err).Str("call_id", cc.CallID).Msg("group failure alert not recorded")
	}

	if err := e.notifier.SendFallback(ctx, cc.CallerID, cc.Tenant.Name); err != nil {
		log.Warn().Err(err).Str("call_id", cc.CallID).Msg("fallback notification failed")
	}

	cc.State.AppointmentCreated = false
	cc.State.BookingLockExpiry = time.Time{}
	cc.State.TerminalLock = true
	cc.State.CallStage = statex.StageTerminal
	return Outcome{Reply: groupPartialApology}
}
