// Package booking transactionally creates appointments once the dialogue has
// collected every required field and an explicit confirmation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
	statex "github.com/Crohns-Kate/echo-desk-sub000/agent/state"
)

// DefaultLockWindow bounds the soft idempotency mutex persisted in the call
// document. Turn delivery is serialized per call by the transport, so the TTL
// only has to cover redeliveries of the same confirming turn. If the
// scheduling capability's create latency can exceed this window a duplicate
// remains possible; see DESIGN.md before changing it.
const DefaultLockWindow = 15 * time.Second

const apologyReply = "I'm really sorry, I wasn't able to finalize that booking just now. Our team will call you back shortly to get it sorted out."

// Outcome reports what the executor did with a booking attempt.
type Outcome struct {
	Booked  bool
	Skipped bool   // duplicate in-flight attempt absorbed by the lock
	Reply   string // deterministic reply overriding the inference proposal
}

// Executor performs the appointment-creation transaction. It is the only
// component allowed to set the backend-owned terminal flags.
type Executor struct {
	scheduler  contractx.Scheduler
	notifier   contractx.Notifier
	alerts     contractx.AlertSink
	lockWindow time.Duration
	now        func() time.Time
}

type Option func(*Executor)

func WithLockWindow(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.lockWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExecutor(
	scheduler contractx.Scheduler,
	notifier contractx.Notifier,
	alerts contractx.AlertSink,
	opts ...Option,
) (*Executor, error) {
	if scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if alerts == nil {
		return nil, errors.New("alert sink is required")
	}

	e := &Executor{
		scheduler:  scheduler,
		notifier:   notifier,
		alerts:     alerts,
		lockWindow: DefaultLockWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// BookSingle creates one appointment for the selected slot. Requires a valid
// caller name, a selected slot still present in the candidate list, and an
// explicit confirmation already recorded in state.
func (e *Executor) BookSingle(ctx context.Context, cc *statex.ConversationContext) (Outcome, error) {
	slot, ok := cc.SelectedSlot()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no selected slot to book", contractx.ErrValidation)
	}
	name := strings.TrimSpace(cc.State.CallerName)
	if name == "" {
		return Outcome{}, fmt.Errorf("%w: caller name missing", contractx.ErrValidation)
	}

	if skipped := e.acquireLock(cc); skipped {
		return Outcome{Skipped: true}, nil
	}
	cc.State.CallStage = statex.StageBookingInProgress

	appt, err := e.scheduler.CreateAppointment(ctx, contractx.CreateAppointmentRequest{
		PractitionerID:    slot.PractitionerID,
		AppointmentTypeID: slot.AppointmentTypeID,
		Start:             slot.Start,
		PartyName:         name,
		CallerPhone:       cc.CallerID,
	})
	if err != nil {
		return e.failBooking(ctx, cc, name, slot, err), nil
	}
	if appt == nil || strings.TrimSpace(appt.ID) == "" {
		// A create that returns no identifier did not verifiably happen.
		return e.failBooking(ctx, cc, name, slot, errors.New("appointment created without an id")), nil
	}

	cc.State.AppointmentCreated = true
	cc.State.AppointmentID = appt.ID
	cc.State.TerminalLock = true
	cc.State.CallStage = statex.StageTerminal

	e.sendConfirmation(ctx, cc, name, slot.Spoken)
	e.sendIntakeForm(ctx, cc)

	reply := fmt.Sprintf(
		"Perfect, you're booked for %s with %s. You'll get a text confirmation shortly. Is there anything else I can help with?",
		slot.Spoken, slot.PractitionerName,
	)
	return Outcome{Booked: true, Reply: reply}, nil
}

// acquireLock implements the TTL idempotency lock: an unexpired lock with no
// recorded appointment means a duplicate in-flight attempt, which is skipped
// rather than retried. Otherwise a fresh expiry is set and the attempt
// proceeds.
func (e *Executor) acquireLock(cc *statex.ConversationContext) (skipped bool) {
	now := e.now()
	lock := cc.State.BookingLockExpiry
	if !lock.IsZero() && now.Before(lock) && !cc.State.AppointmentCreated {
		log.Info().Str("call_id", cc.CallID).Time("lock_expiry", lock).
			Msg("duplicate booking attempt absorbed by lock")
		return true
	}
	cc.State.BookingLockExpiry = now.Add(e.lockWindow).UTC()
	return false
}

// failBooking converts a creation failure into an apologetic reply, an
// operator alert, and a best-effort fallback text, leaving the state
// retryable on a later turn.
func (e *Executor) failBooking(
	ctx context.Context,
	cc *statex.ConversationContext,
	party string,
	slot contractx.Slot,
	cause error,
) Outcome {
	log.Error().Err(cause).Str("call_id", cc.CallID).Str("party", party).
		Time("start", slot.Start).Msg("appointment creation failed")

	if err := e.alerts.CreateAlert(ctx, contractx.Alert{
		CallID: cc.CallID,
		Reason: "booking_failed",
		Detail: cause.Error(),
		Payload: map[string]any{
			"party":        party,
			"start":        slot.Start,
			"practitioner": slot.PractitionerID,
		},
	}); err != nil {
		log.Error().Err(err).Str("call_id", cc.CallID).Msg("booking failure alert not recorded")
	}

	if err := e.notifier.SendFallback(ctx, cc.CallerID, cc.Tenant.Name); err != nil {
		log.Warn().Err(err).Str("call_id", cc.CallID).Msg("fallback notification failed")
	}

	cc.State.AppointmentCreated = false
	cc.State.BookingLockExpiry = time.Time{}
	cc.State.CallStage = statex.StageAwaitingConfirmation
	return Outcome{Reply: apologyReply}
}

func (e *Executor) sendConfirmation(ctx context.Context, cc *statex.ConversationContext, party, spoken string) {
	if cc.State.ConfirmationSent {
		return
	}
	cc.State.ConfirmationSent = true
	if err := e.notifier.SendConfirmation(ctx, contractx.ConfirmationMessage{
		To:         cc.CallerID,
		TenantName: cc.Tenant.Name,
		PartyName:  party,
		Spoken:     spoken,
	}); err != nil {
		log.Warn().Err(err).Str("call_id", cc.CallID).Msg("confirmation notification failed")
	}
}

func (e *Executor) sendIntakeForm(ctx context.Context, cc *statex.ConversationContext) {
	if cc.State.PatientType != contractx.PatientTypeNew || cc.State.IntakeFormSent {
		return
	}
	cc.State.IntakeFormSent = true
	if err := e.notifier.SendIntakeForm(ctx, cc.CallerID, cc.Tenant.Name); err != nil {
		log.Warn().Err(err).Str("call_id", cc.CallID).Msg("intake form notification failed")
	}
}
