package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

// CallStage is the coarse position of a call in the booking flow.
type CallStage string

const (
	StageCollectingIntent     CallStage = "collecting_intent"
	StageCollectingDetails    CallStage = "collecting_details"
	StageOfferingSlots        CallStage = "offering_slots"
	StageAwaitingConfirmation CallStage = "awaiting_confirmation"
	StageBookingInProgress    CallStage = "booking_in_progress"
	StageCollectingNames      CallStage = "collecting_names"
	StageProposingGroup       CallStage = "proposing_group"
	StageTerminal             CallStage = "terminal"
	StageEscalated            CallStage = "escalated"
)

// CompactState is the flat per-call field bag driving the dialogue.
//
// Ownership table:
//
//	extractor/inference-settable: Intent, TimePreference, PatientType,
//	    CallerName, ForSelf, SelectedSlotIndex, BookingConfirmed,
//	    GroupBooking, ConfusionStreak
//	backend-only (set by the engine, never by inference): CallStage,
//	    AppointmentCreated, AppointmentID, TerminalLock, BookingLockExpiry,
//	    ConfirmationSent, IntakeFormSent, MapLinkSent, SlotsOfferedTurn,
//	    ClosingPrompts
//
// The guard layer enforces this table; ApplyDelta additionally refuses to
// touch backend-only fields as a second line of defense.
type CompactState struct {
	Intent            string `json:"intent,omitempty"`
	TimePreference    string `json:"time_preference,omitempty"`
	PatientType       string `json:"patient_type,omitempty"`
	CallerName        string `json:"caller_name,omitempty"`
	ForSelf           *bool  `json:"for_self,omitempty"`
	SelectedSlotIndex *int   `json:"selected_slot_index,omitempty"`
	BookingConfirmed  bool   `json:"booking_confirmed,omitempty"`
	GroupBooking      bool   `json:"group_booking,omitempty"`
	ConfusionStreak   int    `json:"confusion_streak,omitempty"`

	CallStage          CallStage `json:"call_stage,omitempty"`
	AppointmentCreated bool      `json:"appointment_created,omitempty"`
	AppointmentID      string    `json:"appointment_id,omitempty"`
	TerminalLock       bool      `json:"terminal_lock,omitempty"`
	BookingLockExpiry  time.Time `json:"booking_lock_expiry,omitempty"`
	ConfirmationSent   bool      `json:"confirmation_sent,omitempty"`
	IntakeFormSent     bool      `json:"intake_form_sent,omitempty"`
	MapLinkSent        bool      `json:"map_link_sent,omitempty"`
	SlotsOfferedTurn   int       `json:"slots_offered_turn,omitempty"` // 0 = never offered
	ClosingPrompts     int       `json:"closing_prompts,omitempty"`
}

// GroupBookingState tracks a multi-party transaction. Proposed flips on the
// turn the computed time assignments are read back to the caller; execution
// requires a strictly later confirming turn.
type GroupBookingState struct {
	Parties     []contractx.Party `json:"parties,omitempty"`
	Proposed    bool              `json:"proposed,omitempty"`
	BookedCount int               `json:"booked_count,omitempty"`
}

// ConversationContext is the persistent source-of-truth for one call. It is
// exclusively owned by the turn processor; turns for a call are serialized by
// the transport protocol.
type ConversationContext struct {
	CallID   string               `json:"call_id"`
	CallerID string               `json:"caller_id"`
	Tenant   contractx.TenantInfo `json:"tenant"`

	History []contractx.Message `json:"history,omitempty"` // append-only
	State   CompactState        `json:"state"`

	// Transient candidates for the current time preference. Invalidated
	// whenever the preference changes.
	AvailableSlots []contractx.Slot `json:"available_slots,omitempty"`

	Upcoming *contractx.Appointment `json:"upcoming,omitempty"`
	Group    *GroupBookingState     `json:"group,omitempty"`

	TurnCount int       `json:"turn_count"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrNilContext    = errors.New("conversation context is nil")
	ErrInvalidCallID = errors.New("call id is empty")
)

func NewConversationContext(callID, callerID string, tenant contractx.TenantInfo, now time.Time) *ConversationContext {
	return &ConversationContext{
		CallID:   callID,
		CallerID: callerID,
		Tenant:   tenant,
		State: CompactState{
			CallStage: StageCollectingIntent,
		},
		Version:   1,
		UpdatedAt: now.UTC(),
	}
}

func (c *ConversationContext) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// AppendMessage appends one history entry. History is never reordered.
func (c *ConversationContext) AppendMessage(role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.History = append(c.History, contractx.Message{Role: role, Text: text})
}

// SetTimePreference replaces the preference and invalidates everything derived
// from the previous one: candidate slots, the selected index, and the
// offered-turn marker.
func (c *ConversationContext) SetTimePreference(pref string) {
	pref = strings.TrimSpace(pref)
	if pref == "" || pref == c.State.TimePreference {
		return
	}
	c.State.TimePreference = pref
	c.AvailableSlots = nil
	c.State.SelectedSlotIndex = nil
	c.State.SlotsOfferedTurn = 0
}

// OfferSlots records candidates plus the turn they were first presented on.
func (c *ConversationContext) OfferSlots(slots []contractx.Slot) {
	c.AvailableSlots = slots
	if len(slots) > 0 && c.State.SlotsOfferedTurn == 0 {
		c.State.SlotsOfferedTurn = c.TurnCount
	}
}

// SelectedSlot returns the slot referenced by the confirmed index, if it is
// still present in the current candidate list.
func (c *ConversationContext) SelectedSlot() (contractx.Slot, bool) {
	idx := c.State.SelectedSlotIndex
	if idx == nil || *idx < 0 || *idx >= len(c.AvailableSlots) {
		return contractx.Slot{}, false
	}
	return c.AvailableSlots[*idx], true
}

// EnsureGroup initializes the group structure.
func (c *ConversationContext) EnsureGroup() *GroupBookingState {
	if c.Group == nil {
		c.Group = &GroupBookingState{}
	}
	return c.Group
}

// ApplyDelta merges an already-sanitized inference delta. TimePreference is
// deliberately not handled here; preference changes go through the specificity
// merge in the turn processor and then SetTimePreference.
func (c *ConversationContext) ApplyDelta(d contractx.StateDelta) {
	if d.Intent != nil {
		c.State.Intent = strings.TrimSpace(*d.Intent)
	}
	if d.PatientType != nil {
		c.State.PatientType = strings.TrimSpace(*d.PatientType)
	}
	if d.CallerName != nil {
		c.State.CallerName = strings.TrimSpace(*d.CallerName)
	}
	if d.ForSelf != nil {
		v := *d.ForSelf
		c.State.ForSelf = &v
	}
	if d.SelectedSlotIndex != nil {
		v := *d.SelectedSlotIndex
		c.State.SelectedSlotIndex = &v
	}
	if d.BookingConfirmed != nil {
		c.State.BookingConfirmed = *d.BookingConfirmed
	}
	if d.GroupBooking != nil && *d.GroupBooking {
		c.State.GroupBooking = true
	}
	if len(d.GroupParties) > 0 {
		g := c.EnsureGroup()
		g.Parties = append([]contractx.Party(nil), d.GroupParties...)
	}
}

// StateSummary renders the compact state for the inference payload.
func (c *ConversationContext) StateSummary() map[string]any {
	s := map[string]any{
		"intent":             c.State.Intent,
		"time_preference":    c.State.TimePreference,
		"patient_type":       c.State.PatientType,
		"caller_name":        c.State.CallerName,
		"booking_confirmed":  c.State.BookingConfirmed,
		"group_booking":      c.State.GroupBooking,
		"call_stage":         string(c.State.CallStage),
		"appointment_booked": c.State.AppointmentCreated,
		"slots_on_offer":     len(c.AvailableSlots),
	}
	if c.State.ForSelf != nil {
		s["for_self"] = *c.State.ForSelf
	}
	if c.State.SelectedSlotIndex != nil {
		s["selected_slot_index"] = *c.State.SelectedSlotIndex
	}
	if c.Group != nil {
		names := make([]string, 0, len(c.Group.Parties))
		for _, p := range c.Group.Parties {
			names = append(names, p.Name)
		}
		s["group_parties"] = names
		s["group_proposed"] = c.Group.Proposed
	}
	if c.Upcoming != nil {
		s["upcoming_appointment"] = c.Upcoming.Start.Format(time.RFC3339)
	}
	return s
}

// Terminal reports whether the booking flow is closed for this call.
func (c *ConversationContext) Terminal() bool {
	return c.State.TerminalLock || c.State.AppointmentCreated ||
		c.State.CallStage == StageTerminal
}

func (c *ConversationContext) Validate() error {
	if strings.TrimSpace(c.CallID) == "" {
		return ErrInvalidCallID
	}
	if c.State.SelectedSlotIndex != nil {
		idx := *c.State.SelectedSlotIndex
		if idx < 0 || idx >= len(c.AvailableSlots) {
			return fmt.Errorf("%w: selected slot index %d out of range (%d slots)",
				contractx.ErrValidation, idx, len(c.AvailableSlots))
		}
	}
	if c.State.SlotsOfferedTurn > c.TurnCount {
		return fmt.Errorf("%w: slots offered on future turn %d (current %d)",
			contractx.ErrValidation, c.State.SlotsOfferedTurn, c.TurnCount)
	}
	return nil
}
