package contract

import (
	"context"
	"time"
)

// Inference is the probabilistic dialogue engine.
type Inference interface {
	Infer(ctx context.Context, req InferenceRequest) (InferenceResult, error)
}

// Scheduler is the external scheduling capability. It owns its own concurrency
// control; a slot observed free may still be gone by the time it is booked.
type Scheduler interface {
	ListSlots(ctx context.Context, q SlotQuery) ([]Slot, error)
	CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error)
	Reschedule(ctx context.Context, appointmentID string, newStart time.Time) error
	Cancel(ctx context.Context, appointmentID string) error
	FindUpcoming(ctx context.Context, patientRef string) (*Appointment, error)
}

// Notifier dispatches outbound text messages. All sends are fire-and-forget
// from the engine's point of view; implementations log their own failures.
type Notifier interface {
	SendConfirmation(ctx context.Context, msg ConfirmationMessage) error
	SendIntakeForm(ctx context.Context, to, tenantName string) error
	SendMapLink(ctx context.Context, to, address string) error
	SendFallback(ctx context.Context, to, tenantName string) error
}

// AlertSink records operator alerts and routes human handoffs.
type AlertSink interface {
	CreateAlert(ctx context.Context, alert Alert) error
	RouteHandoff(ctx context.Context, handoff Handoff) error
}
