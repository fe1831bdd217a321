// Package turn is the per-utterance pipeline: deterministic extraction,
// guarded inference, availability resolution, and side-effect execution over
// one persistent conversation context.
package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"

	bookingx "github.com/Crohns-Kate/echo-desk-sub000/agent/booking"
	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
	escalatex "github.com/Crohns-Kate/echo-desk-sub000/agent/escalate"
	schedulex "github.com/Crohns-Kate/echo-desk-sub000/agent/schedule"
	statex "github.com/Crohns-Kate/echo-desk-sub000/agent/state"
)

// Processor handles one caller utterance at a time. Concurrency across calls
// is safe; turns within one call are serialized by the voice transport.
type Processor struct {
	store     statex.Store
	engine    contractx.Inference
	scheduler contractx.Scheduler
	notifier  contractx.Notifier
	alerts    contractx.AlertSink

	resolver *schedulex.Resolver
	executor *bookingx.Executor
	detector *escalatex.Detector

	graphRunner compose.Runnable[contractx.TurnRequest, contractx.TurnResult]

	now func() time.Time
}

type ProcessorOption func(*Processor)

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func WithDetector(d *escalatex.Detector) ProcessorOption {
	return func(p *Processor) {
		if d != nil {
			p.detector = d
		}
	}
}

func New(
	ctx context.Context,
	store statex.Store,
	engine contractx.Inference,
	scheduler contractx.Scheduler,
	notifier contractx.Notifier,
	alerts contractx.AlertSink,
	opts ...ProcessorOption,
) (*Processor, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if engine == nil {
		return nil, errors.New("inference engine is required")
	}
	if scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if alerts == nil {
		return nil, errors.New("alert sink is required")
	}

	p := &Processor{
		store:     store,
		engine:    engine,
		scheduler: scheduler,
		notifier:  notifier,
		alerts:    alerts,
		resolver:  schedulex.NewResolver(scheduler),
		detector:  escalatex.NewDetector(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	executor, err := bookingx.NewExecutor(scheduler, notifier, alerts, bookingx.WithClock(p.now))
	if err != nil {
		return nil, fmt.Errorf("build booking executor: %w", err)
	}
	p.executor = executor

	runner, err := p.compileTurnGraph(ctx)
	if err != nil {
		return nil, err
	}
	p.graphRunner = runner
	return p, nil
}

// ProcessTurn runs one utterance through the pipeline and returns what the
// voice transport should speak.
func (p *Processor) ProcessTurn(ctx context.Context, req contractx.TurnRequest) (contractx.TurnResult, error) {
	return p.graphRunner.Invoke(ctx, req)
}

// shouldHandoff decides the branch after signal extraction. Escalated is
// absorbing: once a call reaches that stage every later turn takes the
// handoff path.
func (p *Processor) shouldHandoff(ts *TurnState) bool {
	cc := ts.CC
	if cc.State.CallStage == statex.StageEscalated {
		return true
	}
	trigger, ok := p.detector.FromUtterance(ts.Req.Utterance, cc.State.ConfusionStreak)
	if ok {
		ts.escalate(trigger)
	}
	return ok
}
