// Package guard enforces the compact-state ownership table and the booking
// invariants around the probabilistic inference layer. Every pass is a pure
// transformation over the proposed delta or reply so each can be tested alone.
package guard

import (
	"regexp"
	"strings"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
	extractx "github.com/Crohns-Kate/echo-desk-sub000/agent/extract"
	statex "github.com/Crohns-Kate/echo-desk-sub000/agent/state"
)

// SanitizeDelta strips every backend-owned field from an inference-proposed
// delta, unconditionally. It returns the cleaned delta and the names of the
// fields that were discarded, for logging.
func SanitizeDelta(d contractx.StateDelta) (contractx.StateDelta, []string) {
	var stripped []string

	if d.CallStage != nil {
		d.CallStage = nil
		stripped = append(stripped, "call_stage")
	}
	if d.AppointmentCreated != nil {
		d.AppointmentCreated = nil
		stripped = append(stripped, "appointment_created")
	}
	if d.TerminalLock != nil {
		d.TerminalLock = nil
		stripped = append(stripped, "terminal_lock")
	}
	if d.BookingLockExpiry != nil {
		d.BookingLockExpiry = nil
		stripped = append(stripped, "booking_lock_expiry")
	}
	if d.ConfirmationSent != nil {
		d.ConfirmationSent = nil
		stripped = append(stripped, "confirmation_sent")
	}
	if d.IntakeFormSent != nil {
		d.IntakeFormSent = nil
		stripped = append(stripped, "intake_form_sent")
	}
	if d.MapLinkSent != nil {
		d.MapLinkSent = nil
		stripped = append(stripped, "map_link_sent")
	}
	return d, stripped
}

// SlotTiming rejects a confirmation that arrives on the same turn the slots
// were first presented: the caller must get at least one round trip to choose.
// On rejection both the confirmation and the slot index are dropped from the
// delta and any persisted selection is reset.
func SlotTiming(cc *statex.ConversationContext, d contractx.StateDelta) (contractx.StateDelta, bool) {
	offeredThisTurn := cc.State.SlotsOfferedTurn != 0 && cc.State.SlotsOfferedTurn == cc.TurnCount
	if !offeredThisTurn {
		return d, false
	}

	confirming := d.BookingConfirmed != nil && *d.BookingConfirmed
	selecting := d.SelectedSlotIndex != nil
	if !confirming && !selecting {
		return d, false
	}

	d.BookingConfirmed = nil
	d.SelectedSlotIndex = nil
	cc.State.SelectedSlotIndex = nil
	cc.State.BookingConfirmed = false
	return d, true
}

// TerminalDelta blocks re-entry into the booking flow once the call is
// terminal: confirmation and slot-selection proposals are dropped.
func TerminalDelta(cc *statex.ConversationContext, d contractx.StateDelta) contractx.StateDelta {
	if !cc.Terminal() {
		return d
	}
	d.BookingConfirmed = nil
	d.SelectedSlotIndex = nil
	d.TimePreference = nil
	return d
}

var reopenRe = regexp.MustCompile(`(?i)(when would you like|what time|what day works|which (slot|time)|would you like to (book|come in|schedule)|shall i book|let'?s find a time|looking for a time)`)

const (
	closingReply      = "You're all booked. Is there anything else I can help you with?"
	finalClosingReply = "You're all set. Thanks for calling, and have a great day."
)

// TerminalReply rewrites a reply that tries to restart the booking dialogue
// after the transaction is finished. Informational answers pass through
// untouched. Closing prompts are bounded so the assistant does not repeat the
// same sign-off indefinitely.
func TerminalReply(cc *statex.ConversationContext, reply string) (string, bool) {
	if !cc.Terminal() {
		return reply, false
	}
	if !reopenRe.MatchString(reply) {
		return reply, false
	}

	cc.State.ClosingPrompts++
	if cc.State.ClosingPrompts > 2 {
		return finalClosingReply, true
	}
	return closingReply, true
}

// GroupOwnership protects the group transaction from the inference layer: the
// group flag is never cleared once set, and every proposed party name must
// pass the validity filter before it can land in state, including on the turn
// the flag is first proposed. Invalid proposed names are rejected and answered
// with a targeted re-prompt for that name only.
func GroupOwnership(cc *statex.ConversationContext, d contractx.StateDelta) (contractx.StateDelta, string) {
	// The flag is one-way once set.
	if cc.State.GroupBooking && d.GroupBooking != nil && !*d.GroupBooking {
		d.GroupBooking = nil
	}

	if len(d.GroupParties) == 0 {
		return d, ""
	}

	valid := make([]contractx.Party, 0, len(d.GroupParties))
	var firstInvalid string
	for _, p := range d.GroupParties {
		if extractx.ValidPartyName(p.Name) {
			valid = append(valid, p)
			continue
		}
		if firstInvalid == "" {
			firstInvalid = strings.TrimSpace(p.Name)
		}
	}
	d.GroupParties = valid

	if firstInvalid == "" {
		return d, ""
	}
	if len(valid) > 0 {
		// Partial list survived; only the missing participant is re-asked.
		return d, "Thanks! Could I also get the full name of the other person coming in?"
	}
	return d, "Could I get the full first and last name of each person coming in?"
}

// ResetForNewBooking re-opens the booking flow for a "book another" follow-up
// after a completed transaction. The finished appointment stays recorded on
// the scheduling side; only the per-transaction fields are cleared.
func ResetForNewBooking(cc *statex.ConversationContext) {
	cc.State.BookingConfirmed = false
	cc.State.SelectedSlotIndex = nil
	cc.State.TimePreference = ""
	cc.State.SlotsOfferedTurn = 0
	cc.State.AppointmentCreated = false
	cc.State.TerminalLock = false
	cc.State.ClosingPrompts = 0
	cc.AvailableSlots = nil
	cc.State.CallStage = statex.StageCollectingDetails
}
