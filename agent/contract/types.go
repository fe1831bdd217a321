package contract

import "time"

// Intent values the engine steers on. Anything else is treated as unknown and
// clarified conversationally.
const (
	IntentBook       = "book"
	IntentReschedule = "reschedule"
	IntentCancel     = "cancel"
	IntentFAQ        = "faq"
	IntentUnknown    = "unknown"
)

const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
)

const (
	PatientTypeNew       = "new"
	PatientTypeReturning = "returning"
)

// Practitioner is one bookable resource at the tenant.
type Practitioner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TenantInfo is the read-only practice snapshot handed in with every turn.
type TenantInfo struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Address       string         `json:"address"`
	MapAvailable  bool           `json:"map_available"`
	Timezone      string         `json:"timezone"`
	Practitioners []Practitioner `json:"practitioners"`
}

// Slot is one candidate bookable time, tagged with the resource and
// appointment type it would be booked against.
type Slot struct {
	Start             time.Time `json:"start"`
	Display           string    `json:"display"` // terse, e.g. "Tue 4:00pm"
	Spoken            string    `json:"spoken"`  // speech friendly, e.g. "Tuesday at 4 pm"
	PractitionerID    string    `json:"practitioner_id"`
	PractitionerName  string    `json:"practitioner_name"`
	AppointmentTypeID string    `json:"appointment_type_id"`
}

// Appointment is a booked appointment as reported by the scheduling system.
type Appointment struct {
	ID                string    `json:"id"`
	PatientRef        string    `json:"patient_ref"`
	PartyName         string    `json:"party_name"`
	Start             time.Time `json:"start"`
	PractitionerID    string    `json:"practitioner_id"`
	AppointmentTypeID string    `json:"appointment_type_id"`
}

// Party is one named participant of a group booking.
type Party struct {
	Name     string `json:"name"`
	Relation string `json:"relation,omitempty"`
}

// Message is one history entry of the dialogue.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// TurnRequest is one inbound caller utterance delivered by the voice
// transport.
type TurnRequest struct {
	CallID    string     `json:"call_id"`
	CallerID  string     `json:"caller_id"`
	Utterance string     `json:"utterance"`
	Tenant    TenantInfo `json:"tenant"`
}

// TurnResult is what the voice transport renders back to the caller.
type TurnResult struct {
	SpokenReply string `json:"spoken_reply"`
	ExpectReply bool   `json:"expect_reply"`
	Terminate   bool   `json:"terminate"`
}

// SlotQuery asks the scheduling capability for free slots of one practitioner
// within a window.
type SlotQuery struct {
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	PractitionerID    string    `json:"practitioner_id"`
	AppointmentTypeID string    `json:"appointment_type_id"`
}

// CreateAppointmentRequest books one party into one slot.
type CreateAppointmentRequest struct {
	PractitionerID    string    `json:"practitioner_id"`
	AppointmentTypeID string    `json:"appointment_type_id"`
	Start             time.Time `json:"start"`
	PartyName         string    `json:"party_name"`
	CallerPhone       string    `json:"caller_phone"`
	Notes             string    `json:"notes,omitempty"`
}

// InferenceRequest carries everything the probabilistic engine may see.
// SlotsOffered is populated on the second pass of a turn, after availability
// resolution.
type InferenceRequest struct {
	Utterance    string
	History      []Message
	StateSummary map[string]any
	SlotsOffered []Slot
	Tenant       TenantInfo
}

// StateDelta is the partial compact-state update proposed by the inference
// layer. Every field is optional; nil means "no opinion". The fields below the
// marker are backend-owned and are stripped by the guard layer regardless of
// what inference proposes.
type StateDelta struct {
	Intent            *string `json:"intent,omitempty"`
	TimePreference    *string `json:"time_preference,omitempty"`
	PatientType       *string `json:"patient_type,omitempty"`
	CallerName        *string `json:"caller_name,omitempty"`
	ForSelf           *bool   `json:"for_self,omitempty"`
	SelectedSlotIndex *int    `json:"selected_slot_index,omitempty"`
	BookingConfirmed  *bool   `json:"booking_confirmed,omitempty"`
	GroupBooking      *bool   `json:"group_booking,omitempty"`
	GroupParties      []Party `json:"group_parties,omitempty"`
	Confused          *bool   `json:"confused,omitempty"`

	// Backend-owned. Never merged; see the guard layer.
	CallStage          *string `json:"call_stage,omitempty"`
	AppointmentCreated *bool   `json:"appointment_created,omitempty"`
	TerminalLock       *bool   `json:"terminal_lock,omitempty"`
	BookingLockExpiry  *string `json:"booking_lock_expiry,omitempty"`
	ConfirmationSent   *bool   `json:"confirmation_sent,omitempty"`
	IntakeFormSent     *bool   `json:"intake_form_sent,omitempty"`
	MapLinkSent        *bool   `json:"map_link_sent,omitempty"`
}

// InferenceResult is the probabilistic engine's proposal for one turn.
type InferenceResult struct {
	Reply           string
	Delta           StateDelta
	HandoffNeeded   bool
	HandoffCategory string
	ExpectReply     *bool
}

// ConfirmationMessage is the booking confirmation text payload.
type ConfirmationMessage struct {
	To         string
	TenantName string
	PartyName  string
	Spoken     string // human rendering of the booked time
}

// Alert is an operator-facing incident record.
type Alert struct {
	CallID  string
	Reason  string
	Detail  string
	Payload map[string]any
}

// Handoff asks a human to take over the call.
type Handoff struct {
	CallID   string
	Reason   string
	Category string
}
