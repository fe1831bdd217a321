package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
	escalatex "github.com/Crohns-Kate/echo-desk-sub000/agent/escalate"
	statex "github.com/Crohns-Kate/echo-desk-sub000/agent/state"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]string
	loadErr error
	saveErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]string{}}
}

func (f *fakeStore) Load(ctx context.Context, callID string) (*statex.ConversationContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	raw, ok := f.docs[callID]
	if !ok {
		return nil, statex.ErrContextNotFound
	}
	var cc statex.ConversationContext
	if err := json.Unmarshal([]byte(raw), &cc); err != nil {
		return nil, err
	}
	return &cc, nil
}

func (f *fakeStore) Save(ctx context.Context, cc *statex.ConversationContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := json.Marshal(cc)
	if err != nil {
		return err
	}
	f.docs[cc.CallID] = string(raw)
	f.saves++
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, callID)
	return nil
}

func (f *fakeStore) current(t *testing.T, callID string) *statex.ConversationContext {
	t.Helper()
	cc, err := f.Load(context.Background(), callID)
	if err != nil {
		t.Fatalf("load saved context: %v", err)
	}
	return cc
}

type fakeEngine struct {
	mu        sync.Mutex
	responses []contractx.InferenceResult
	err       error
	calls     int
	reqs      []contractx.InferenceRequest
}

func (f *fakeEngine) Infer(ctx context.Context, req contractx.InferenceRequest) (contractx.InferenceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return contractx.InferenceResult{}, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		return contractx.InferenceResult{}, fmt.Errorf("no scripted response left at call=%d", f.calls)
	}
	return f.responses[idx], nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	slots     []contractx.Slot
	listErr   error
	created   []contractx.CreateAppointmentRequest
	createErr error
	upcoming  *contractx.Appointment
	cancelled []string
	moved     []string
}

func (f *fakeScheduler) ListSlots(ctx context.Context, q contractx.SlotQuery) ([]contractx.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]contractx.Slot(nil), f.slots...), nil
}

func (f *fakeScheduler) CreateAppointment(ctx context.Context, req contractx.CreateAppointmentRequest) (*contractx.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &contractx.Appointment{
		ID:        fmt.Sprintf("appt-%d", len(f.created)),
		PartyName: req.PartyName,
		Start:     req.Start,
	}, nil
}

func (f *fakeScheduler) Reschedule(ctx context.Context, appointmentID string, newStart time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moved = append(f.moved, appointmentID)
	return nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, appointmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, appointmentID)
	return nil
}

func (f *fakeScheduler) FindUpcoming(ctx context.Context, patientRef string) (*contractx.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upcoming, nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	confirmations []contractx.ConfirmationMessage
	intakeForms   []string
	mapLinks      []string
	fallbacks     []string
}

func (f *fakeNotifier) SendConfirmation(ctx context.Context, msg contractx.ConfirmationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations = append(f.confirmations, msg)
	return nil
}

func (f *fakeNotifier) SendIntakeForm(ctx context.Context, to, tenantName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intakeForms = append(f.intakeForms, to)
	return nil
}

func (f *fakeNotifier) SendMapLink(ctx context.Context, to, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapLinks = append(f.mapLinks, to)
	return nil
}

func (f *fakeNotifier) SendFallback(ctx context.Context, to, tenantName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbacks = append(f.fallbacks, to)
	return nil
}

type fakeAlerts struct {
	mu       sync.Mutex
	alerts   []contractx.Alert
	handoffs []contractx.Handoff
}

func (f *fakeAlerts) CreateAlert(ctx context.Context, alert contractx.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeAlerts) RouteHandoff(ctx context.Context, handoff contractx.Handoff) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handoffs = append(f.handoffs, handoff)
	return nil
}

func testTenant() contractx.TenantInfo {
	return contractx.TenantInfo{
		ID:           "tenant-1",
		Name:         "Bright Smile Dental",
		Address:      "12 High Street",
		MapAvailable: true,
		Timezone:     "UTC",
		Practitioners: []contractx.Practitioner{
			{ID: "dr-a", Name: "Dr. Alvarez"},
		},
	}
}

func tuesdaySlots() []contractx.Slot {
	return []contractx.Slot{
		{
			Start:            time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC),
			Spoken:           "Tuesday March 3 at 4:00 PM",
			PractitionerID:   "dr-a",
			PractitionerName: "Dr. Alvarez",
		},
		{
			Start:            time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC),
			Spoken:           "Tuesday March 3 at 5:00 PM",
			PractitionerID:   "dr-a",
			PractitionerName: "Dr. Alvarez",
		},
	}
}

type testRig struct {
	processor *Processor
	store     *fakeStore
	engine    *fakeEngine
	scheduler *fakeScheduler
	notifier  *fakeNotifier
	alerts    *fakeAlerts
}

func newTestRig(t *testing.T, engine *fakeEngine, scheduler *fakeScheduler) *testRig {
	t.Helper()
	store := newFakeStore()
	notifier := &fakeNotifier{}
	alerts := &fakeAlerts{}

	p, err := New(context.Background(), store, engine, scheduler, notifier, alerts,
		WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testRig{
		processor: p,
		store:     store,
		engine:    engine,
		scheduler: scheduler,
		notifier:  notifier,
		alerts:    alerts,
	}
}

func (r *testRig) turn(t *testing.T, callID, utterance string) contractx.TurnResult {
	t.Helper()
	res, err := r.processor.ProcessTurn(context.Background(), contractx.TurnRequest{
		CallID:    callID,
		CallerID:  "+15550100",
		Utterance: utterance,
		Tenant:    testTenant(),
	})
	if err != nil {
		t.Fatalf("ProcessTurn(%q) error = %v", utterance, err)
	}
	return res
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }

func TestProcessTurnRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, &fakeEngine{}, &fakeScheduler{})

	_, err := rig.processor.ProcessTurn(context.Background(), contractx.TurnRequest{
		CallID: "  ", Utterance: "hello",
	})
	if !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("expected ErrInvalidCall, got %v", err)
	}

	_, err = rig.processor.ProcessTurn(context.Background(), contractx.TurnRequest{
		CallID: "call-1", Utterance: "   ",
	})
	if !errors.Is(err, ErrInvalidUtterance) {
		t.Fatalf("expected ErrInvalidUtterance, got %v", err)
	}
}

func TestBookingHappyPath(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		// Turn 1: collect details.
		{
			Reply: "Happy to help! What day and time suit you?",
			Delta: contractx.StateDelta{Intent: strPtr("book")},
		},
		// Turn 2, first pass (before slots resolve).
		{
			Reply: "Let me check Tuesday for you.",
		},
		// Turn 2, second pass with slots injected; the model eagerly
		// confirms on the same turn, which the guard must reject.
		{
			Reply: "I have Tuesday at 4 or 5 PM. Shall I book the 4 o'clock?",
			Delta: contractx.StateDelta{SelectedSlotIndex: intPtr(0), BookingConfirmed: boolPtr(true)},
		},
		// Turn 3: the caller picks and identifies, one round trip later.
		{
			Reply: "Booking that now.",
			Delta: contractx.StateDelta{
				SelectedSlotIndex: intPtr(0),
				BookingConfirmed:  boolPtr(true),
				CallerName:        strPtr("John Smith"),
				PatientType:       strPtr(contractx.PatientTypeReturning),
			},
		},
	}}
	scheduler := &fakeScheduler{slots: tuesdaySlots()}
	rig := newTestRig(t, engine, scheduler)

	rig.turn(t, "call-1", "Hi, I'd like to book an appointment")

	res := rig.turn(t, "call-1", "Tuesday at 4pm would be great")
	if len(scheduler.created) != 0 {
		t.Fatal("nothing may be booked on the turn the slots are first offered")
	}
	cc := rig.store.current(t, "call-1")
	if cc.State.BookingConfirmed || cc.State.SelectedSlotIndex != nil {
		t.Fatal("same-turn confirmation must be dropped by the guard")
	}
	if cc.State.TimePreference != "tuesday 4:00pm" {
		t.Fatalf("TimePreference = %q", cc.State.TimePreference)
	}
	if len(cc.AvailableSlots) != 2 {
		t.Fatalf("expected 2 candidate slots, got %d", len(cc.AvailableSlots))
	}
	if !strings.Contains(res.SpokenReply, "Tuesday at 4 or 5 PM") {
		t.Fatalf("expected the second-pass reply, got %q", res.SpokenReply)
	}
	// Second inference pass saw the resolved slots.
	if last := engine.reqs[len(engine.reqs)-1]; len(last.SlotsOffered) != 2 {
		t.Fatalf("second pass got %d slots, want 2", len(last.SlotsOffered))
	}

	res = rig.turn(t, "call-1", "The 4 o'clock works, my name is John Smith")
	if len(scheduler.created) != 1 {
		t.Fatalf("expected one creation, got %d", len(scheduler.created))
	}
	if scheduler.created[0].PartyName != "John Smith" {
		t.Fatalf("booked party = %q", scheduler.created[0].PartyName)
	}
	if !strings.Contains(res.SpokenReply, "you're booked") {
		t.Fatalf("expected the deterministic booking reply, got %q", res.SpokenReply)
	}

	cc = rig.store.current(t, "call-1")
	if !cc.State.AppointmentCreated || !cc.State.TerminalLock {
		t.Fatal("expected terminal marks after booking")
	}
	if cc.State.CallStage != statex.StageTerminal {
		t.Fatalf("stage = %s, want terminal", cc.State.CallStage)
	}
	if len(rig.notifier.confirmations) != 1 {
		t.Fatalf("expected one confirmation text, got %d", len(rig.notifier.confirmations))
	}
}

func TestTerminalReplyRewriteAfterBooking(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{
			// The model tries to restart the flow after the booking is done.
			Reply: "Great! When would you like to come in?",
			Delta: contractx.StateDelta{BookingConfirmed: boolPtr(true), TimePreference: strPtr("friday")},
		},
	}}
	rig := newTestRig(t, engine, &fakeScheduler{})

	seed := statex.NewConversationContext("call-2", "+15550100", testTenant(), testNow)
	seed.State.AppointmentCreated = true
	seed.State.TerminalLock = true
	seed.State.CallStage = statex.StageTerminal
	seed.State.Intent = contractx.IntentBook
	if err := rig.store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	res := rig.turn(t, "call-2", "thanks, that's all")
	if strings.Contains(res.SpokenReply, "When would you like") {
		t.Fatalf("terminal reopen must be rewritten, got %q", res.SpokenReply)
	}

	cc := rig.store.current(t, "call-2")
	if cc.State.BookingConfirmed {
		t.Fatal("terminal guard must drop the confirmation proposal")
	}
	if cc.State.TimePreference != "" {
		t.Fatal("terminal guard must drop the preference proposal")
	}
}

func TestBackendFieldsAreStripped(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{
			Reply: "Noted!",
			Delta: contractx.StateDelta{
				Intent:             strPtr("book"),
				AppointmentCreated: boolPtr(true),
				TerminalLock:       boolPtr(true),
				CallStage:          strPtr("terminal"),
				ConfirmationSent:   boolPtr(true),
			},
		},
	}}
	rig := newTestRig(t, engine, &fakeScheduler{})

	rig.turn(t, "call-3", "I'd like an appointment sometime")

	cc := rig.store.current(t, "call-3")
	if cc.State.AppointmentCreated || cc.State.TerminalLock || cc.State.ConfirmationSent {
		t.Fatal("backend-owned fields must never come from inference")
	}
	if cc.State.CallStage == statex.StageTerminal {
		t.Fatal("inference must not move the call stage")
	}
	if cc.State.Intent != contractx.IntentBook {
		t.Fatal("caller-facing fields must still merge")
	}
}

func TestEscalationOnCallerRequest(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	rig := newTestRig(t, engine, &fakeScheduler{})

	res := rig.turn(t, "call-4", "I want to speak to a human please")
	if res.SpokenReply != escalatex.HandoffReply {
		t.Fatalf("reply = %q, want the fixed handoff reply", res.SpokenReply)
	}
	if res.ExpectReply {
		t.Fatal("the engine stops expecting replies once escalated")
	}
	if engine.calls != 0 {
		t.Fatal("inference must be bypassed on deterministic escalation")
	}
	if len(rig.alerts.handoffs) != 1 || rig.alerts.handoffs[0].Reason != escalatex.ReasonCallerRequest {
		t.Fatalf("handoffs = %+v", rig.alerts.handoffs)
	}

	// Escalated is absorbing: the next turn repeats the handoff reply and
	// does not route again.
	res = rig.turn(t, "call-4", "ok, about that appointment on tuesday")
	if res.SpokenReply != escalatex.HandoffReply {
		t.Fatalf("reply = %q, want the handoff reply again", res.SpokenReply)
	}
	if len(rig.alerts.handoffs) != 1 {
		t.Fatalf("expected a single routing, got %d", len(rig.alerts.handoffs))
	}
	if engine.calls != 0 {
		t.Fatal("inference stays bypassed in the absorbing state")
	}
}

func TestEscalationOnInferenceHandoff(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{HandoffNeeded: true, HandoffCategory: "billing_dispute"},
	}}
	rig := newTestRig(t, engine, &fakeScheduler{})

	res := rig.turn(t, "call-5", "I was double charged last month and want it fixed")
	if res.SpokenReply != escalatex.HandoffReply {
		t.Fatalf("reply = %q, want the handoff reply", res.SpokenReply)
	}
	if len(rig.alerts.handoffs) != 1 || rig.alerts.handoffs[0].Category != "billing_dispute" {
		t.Fatalf("handoffs = %+v", rig.alerts.handoffs)
	}
}

func TestEscalationOnInferenceError(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: errors.New("model timeout")}
	rig := newTestRig(t, engine, &fakeScheduler{})

	res := rig.turn(t, "call-6", "I'd like to book a visit")
	if res.SpokenReply != escalatex.HandoffReply {
		t.Fatalf("reply = %q, want the handoff reply", res.SpokenReply)
	}
	if len(rig.alerts.handoffs) != 1 {
		t.Fatalf("expected one handoff, got %d", len(rig.alerts.handoffs))
	}
}

func TestNoAvailabilityAsksForAlternative(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{Reply: "Checking Tuesday for you.", Delta: contractx.StateDelta{Intent: strPtr("book")}},
	}}
	scheduler := &fakeScheduler{} // no slots at all
	rig := newTestRig(t, engine, scheduler)

	res := rig.turn(t, "call-7", "can I book something on tuesday afternoon")
	if !strings.Contains(res.SpokenReply, "another day or time") {
		t.Fatalf("expected the alternative-time ask, got %q", res.SpokenReply)
	}
	if engine.calls != 1 {
		t.Fatalf("no second pass without slots; engine calls = %d", engine.calls)
	}
}

func TestHangupCommandTerminates(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	rig := newTestRig(t, engine, &fakeScheduler{})

	res := rig.turn(t, "call-8", "ok goodbye")
	if !res.Terminate {
		t.Fatal("expected the call to terminate")
	}
	if res.ExpectReply {
		t.Fatal("no reply expected after a goodbye")
	}
	if engine.calls != 0 {
		t.Fatal("inference must be skipped on a hang-up command")
	}
}

func TestHangupQuestionDoesNotTerminate(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	rig := newTestRig(t, engine, &fakeScheduler{})

	res := rig.turn(t, "call-9", "can you hang up?")
	if res.Terminate {
		t.Fatal("a question about hanging up must not terminate the call")
	}
	if res.SpokenReply != hangupQueryReply {
		t.Fatalf("reply = %q, want the confirmatory reply", res.SpokenReply)
	}
}

func TestGroupBookingFlow(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		// Turn 1, first pass.
		{
			Reply: "Of course, let me find times for both of you.",
			Delta: contractx.StateDelta{
				Intent:       strPtr("book"),
				GroupBooking: boolPtr(true),
				GroupParties: []contractx.Party{{Name: "John Smith"}, {Name: "Peter Smith"}},
				PatientType:  strPtr(contractx.PatientTypeReturning),
			},
		},
		// Turn 1, second pass with slots.
		{Reply: "I can fit you both in tomorrow morning."},
		// Turn 2: confirmation turn.
		{Reply: "Locking those in."},
	}}
	scheduler := &fakeScheduler{slots: tuesdaySlots()}
	rig := newTestRig(t, engine, scheduler)

	res := rig.turn(t, "call-10", "I'd like to book for John Smith and Peter Smith tomorrow morning")
	if len(scheduler.created) != 0 {
		t.Fatal("no booking may happen on the proposing turn")
	}
	if !strings.Contains(res.SpokenReply, "Shall I lock those in?") {
		t.Fatalf("expected the group proposal, got %q", res.SpokenReply)
	}
	cc := rig.store.current(t, "call-10")
	if cc.Group == nil || !cc.Group.Proposed || len(cc.Group.Parties) != 2 {
		t.Fatalf("group state = %+v", cc.Group)
	}
	if cc.State.CallStage != statex.StageProposingGroup {
		t.Fatalf("stage = %s, want proposing_group", cc.State.CallStage)
	}

	res = rig.turn(t, "call-10", "yes please")
	if len(scheduler.created) != 2 {
		t.Fatalf("expected both parties booked, got %d creations", len(scheduler.created))
	}
	if scheduler.created[0].PartyName != "John Smith" || scheduler.created[1].PartyName != "Peter Smith" {
		t.Fatalf("creations = %+v", scheduler.created)
	}
	if !strings.Contains(res.SpokenReply, "locked in") {
		t.Fatalf("expected the group success reply, got %q", res.SpokenReply)
	}
	cc = rig.store.current(t, "call-10")
	if !cc.State.TerminalLock || cc.Group.BookedCount != 2 {
		t.Fatal("expected the group transaction to close")
	}
}

func TestGroupPlaceholderNamesNeverBooked(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		// Turn 1, first pass: the model labels the parties with placeholders
		// lifted straight from the utterance.
		{
			Reply: "Let me find times for both of you.",
			Delta: contractx.StateDelta{
				Intent:       strPtr("book"),
				GroupBooking: boolPtr(true),
				GroupParties: []contractx.Party{{Name: "myself"}, {Name: "my son"}},
				PatientType:  strPtr(contractx.PatientTypeReturning),
			},
		},
		// Turn 1, second pass with slots.
		{Reply: "I can fit you both in tomorrow morning."},
		// Turn 2: the caller spells out the real names.
		{Reply: "Got it, thank you!"},
		// Turn 3: confirmation.
		{Reply: "Locking those in."},
	}}
	scheduler := &fakeScheduler{slots: tuesdaySlots()}
	rig := newTestRig(t, engine, scheduler)

	res := rig.turn(t, "call-15", "I'd like to book my son and myself in tomorrow morning")
	if len(scheduler.created) != 0 {
		t.Fatal("placeholder names must never reach the scheduler")
	}
	if !strings.Contains(res.SpokenReply, "full first and last name") {
		t.Fatalf("expected a re-prompt for the real names, got %q", res.SpokenReply)
	}
	cc := rig.store.current(t, "call-15")
	if !cc.State.GroupBooking {
		t.Fatal("the group flag itself must land")
	}
	if cc.Group != nil && len(cc.Group.Parties) != 0 {
		t.Fatalf("placeholder parties must not land in state, got %+v", cc.Group.Parties)
	}
	if cc.State.CallStage != statex.StageCollectingNames {
		t.Fatalf("stage = %s, want collecting_names", cc.State.CallStage)
	}

	res = rig.turn(t, "call-15", "John Smith and Peter Evans")
	if len(scheduler.created) != 0 {
		t.Fatal("no booking may happen on the proposing turn")
	}
	if !strings.Contains(res.SpokenReply, "Shall I lock those in?") {
		t.Fatalf("expected the group proposal, got %q", res.SpokenReply)
	}

	rig.turn(t, "call-15", "yes please")
	if len(scheduler.created) != 2 {
		t.Fatalf("expected both parties booked, got %d creations", len(scheduler.created))
	}
	if scheduler.created[0].PartyName != "John Smith" || scheduler.created[1].PartyName != "Peter Evans" {
		t.Fatalf("booked parties = %+v", scheduler.created)
	}
}

func TestVagueTimeProposalIsDropped(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{
			Reply: "What day and time suit you?",
			Delta: contractx.StateDelta{
				Intent:         strPtr("book"),
				TimePreference: strPtr("whenever works for you"),
			},
		},
		{Reply: "Let me check Tuesday."},
		{Reply: "I have Tuesday at 4 or 5 PM."},
	}}
	scheduler := &fakeScheduler{slots: tuesdaySlots()}
	rig := newTestRig(t, engine, scheduler)

	res := rig.turn(t, "call-16", "I'd like to book an appointment")
	if res.SpokenReply != "What day and time suit you?" {
		t.Fatalf("reply = %q", res.SpokenReply)
	}
	cc := rig.store.current(t, "call-16")
	if cc.State.TimePreference != "" {
		t.Fatalf("a proposal with no time signal must not persist, got %q", cc.State.TimePreference)
	}

	rig.turn(t, "call-16", "tuesday afternoon works")
	if len(rig.alerts.handoffs) != 0 {
		t.Fatalf("a vague proposal must not end in escalation; handoffs = %+v", rig.alerts.handoffs)
	}
	cc = rig.store.current(t, "call-16")
	if cc.State.TimePreference != "tuesday afternoon" {
		t.Fatalf("TimePreference = %q", cc.State.TimePreference)
	}
	if len(cc.AvailableSlots) != 2 {
		t.Fatalf("expected candidates once a usable preference arrives, got %d", len(cc.AvailableSlots))
	}
}

func TestStoredUnusablePreferenceAsksAgain(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{Reply: "Let me have a look."},
	}}
	rig := newTestRig(t, engine, &fakeScheduler{slots: tuesdaySlots()})

	// A document written before the canonical form was enforced.
	seed := statex.NewConversationContext("call-17", "+15550100", testTenant(), testNow)
	seed.State.Intent = contractx.IntentBook
	seed.State.TimePreference = "whenever"
	if err := rig.store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	res := rig.turn(t, "call-17", "sounds good")
	if res.SpokenReply != clarifyTimeReply {
		t.Fatalf("reply = %q, want the clarifying ask", res.SpokenReply)
	}
	if len(rig.alerts.handoffs) != 0 {
		t.Fatalf("an unusable preference is not a scheduler failure; handoffs = %+v", rig.alerts.handoffs)
	}
	cc := rig.store.current(t, "call-17")
	if cc.State.TimePreference != "" {
		t.Fatalf("the unusable preference must be forgotten, got %q", cc.State.TimePreference)
	}
}

func fourTuesdaySlots() []contractx.Slot {
	hours := []int{13, 14, 15, 16}
	slots := make([]contractx.Slot, len(hours))
	for i, h := range hours {
		start := time.Date(2026, 3, 3, h, 0, 0, 0, time.UTC)
		slots[i] = contractx.Slot{
			Start:            start,
			Spoken:           start.Format("Monday January 2 at 3:04 PM"),
			PractitionerID:   "dr-a",
			PractitionerName: "Dr. Alvarez",
		}
	}
	return slots
}

func TestGroupLargerThanCachedSlotsWidensSearch(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		// Turn 1, first pass: four parties arrive together with the time
		// preference, before any slots are cached.
		{
			Reply: "Let me see what we have on Tuesday.",
			Delta: contractx.StateDelta{
				Intent:       strPtr("book"),
				GroupBooking: boolPtr(true),
				GroupParties: []contractx.Party{
					{Name: "John Smith"}, {Name: "Jane Smith"},
					{Name: "Peter Smith"}, {Name: "Emma Smith"},
				},
				PatientType: strPtr(contractx.PatientTypeReturning),
			},
		},
		// Turn 1, second pass over the narrow candidate list.
		{Reply: "Tuesday afternoon is busy but workable."},
		// Turn 2, first pass.
		{Reply: "Checking for all four of you."},
		// Turn 2, second pass over the widened list.
		{Reply: "Plenty of room on Tuesday."},
	}}
	scheduler := &fakeScheduler{slots: fourTuesdaySlots()}
	rig := newTestRig(t, engine, scheduler)

	res := rig.turn(t, "call-18", "I'd like to book for the four of us tuesday afternoon")
	if strings.Contains(res.SpokenReply, "Shall I lock those in?") {
		t.Fatal("no proposal can come from a candidate list smaller than the group")
	}
	cc := rig.store.current(t, "call-18")
	if len(cc.AvailableSlots) != 3 {
		t.Fatalf("the first search is bounded before the group is known, got %d slots", len(cc.AvailableSlots))
	}

	res = rig.turn(t, "call-18", "we can all make the afternoon")
	if !strings.Contains(res.SpokenReply, "Shall I lock those in?") {
		t.Fatalf("expected the proposal once the search covers the group, got %q", res.SpokenReply)
	}
	cc = rig.store.current(t, "call-18")
	if len(cc.AvailableSlots) != 4 {
		t.Fatalf("expected the widened candidate list, got %d slots", len(cc.AvailableSlots))
	}
	if len(scheduler.created) != 0 {
		t.Fatal("proposing is not booking")
	}
}

func TestCancelFlow(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{Reply: "Let me look that up.", Delta: contractx.StateDelta{Intent: strPtr("cancel")}},
		{Reply: "Cancelling now."},
	}}
	scheduler := &fakeScheduler{upcoming: &contractx.Appointment{
		ID:        "appt-9",
		PartyName: "John Smith",
		Start:     time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	}}
	rig := newTestRig(t, engine, scheduler)

	res := rig.turn(t, "call-11", "I need to cancel my appointment")
	if len(scheduler.cancelled) != 0 {
		t.Fatal("cancellation requires an explicit confirmation first")
	}
	if !strings.Contains(res.SpokenReply, "cancel") {
		t.Fatalf("expected a confirmation question, got %q", res.SpokenReply)
	}

	res = rig.turn(t, "call-11", "yes, cancel it")
	if len(scheduler.cancelled) != 1 || scheduler.cancelled[0] != "appt-9" {
		t.Fatalf("cancelled = %v", scheduler.cancelled)
	}
	if !strings.Contains(res.SpokenReply, "cancelled") {
		t.Fatalf("expected the cancellation reply, got %q", res.SpokenReply)
	}
	cc := rig.store.current(t, "call-11")
	if !cc.State.TerminalLock {
		t.Fatal("a completed cancellation closes the call")
	}
}

func TestMapLinkSentOnce(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{Reply: "We're on High Street."},
		{Reply: "We're on High Street."},
	}}
	rig := newTestRig(t, engine, &fakeScheduler{})

	res := rig.turn(t, "call-12", "what's your address?")
	if len(rig.notifier.mapLinks) != 1 {
		t.Fatalf("expected one map link, got %d", len(rig.notifier.mapLinks))
	}
	if !strings.Contains(res.SpokenReply, "12 High Street") {
		t.Fatalf("expected the address in the reply, got %q", res.SpokenReply)
	}

	rig.turn(t, "call-12", "sorry, what was the address again?")
	if len(rig.notifier.mapLinks) != 1 {
		t.Fatal("the map link is sent at most once per call")
	}
}

func TestSaveFailureStillReturnsReply(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{Reply: "What day works for you?", Delta: contractx.StateDelta{Intent: strPtr("book")}},
	}}
	rig := newTestRig(t, engine, &fakeScheduler{})
	rig.store.saveErr = errors.New("redis down")

	res := rig.turn(t, "call-13", "I'd like to book an appointment")
	if res.SpokenReply != "What day works for you?" {
		t.Fatalf("reply = %q; a save failure must not eat the reply", res.SpokenReply)
	}
}

func TestBookAnotherReopensTerminalCall(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{responses: []contractx.InferenceResult{
		{Reply: "Of course! What day works for the second appointment?"},
	}}
	rig := newTestRig(t, engine, &fakeScheduler{})

	seed := statex.NewConversationContext("call-14", "+15550100", testTenant(), testNow)
	seed.State.AppointmentCreated = true
	seed.State.TerminalLock = true
	seed.State.CallStage = statex.StageTerminal
	seed.State.Intent = contractx.IntentBook
	seed.State.CallerName = "John Smith"
	if err := rig.store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	rig.turn(t, "call-14", "actually, can I book another appointment for my wife?")

	cc := rig.store.current(t, "call-14")
	if cc.Terminal() {
		t.Fatal("an explicit new-booking request reopens the flow")
	}
	if cc.State.CallerName != "John Smith" {
		t.Fatal("the caller identity survives the reset")
	}
}
