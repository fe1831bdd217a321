package schedule

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

const (
	// Appointment type identifiers the tenant's scheduling system knows.
	AppointmentTypeNewPatient = "new-patient-exam"
	AppointmentTypeStandard   = "standard-visit"

	defaultMaxSlots      = 3
	defaultQueryParallel = 3
)

// Request asks for ranked candidate slots matching a resolved preference.
type Request struct {
	Preference  string
	PatientType string
	Tenant      contractx.TenantInfo
	PartyCount  int // >=2 widens the result bound for group bookings
	Now         time.Time
}

// Resolver queries the scheduling capability across the tenant's
// practitioners, with a cap on simultaneous per-practitioner queries.
type Resolver struct {
	scheduler     contractx.Scheduler
	maxSlots      int
	queryParallel int
}

type ResolverOption func(*Resolver)

func WithMaxSlots(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxSlots = n
		}
	}
}

func WithQueryParallelism(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.queryParallel = n
		}
	}
}

func NewResolver(scheduler contractx.Scheduler, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		scheduler:     scheduler,
		maxSlots:      defaultMaxSlots,
		queryParallel: defaultQueryParallel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns at most a bounded number of candidate slots for the
// preference, earliest first. An empty result is not an error; the caller asks
// for an alternative time instead.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]contractx.Slot, error) {
	loc := tenantLocation(req.Tenant)
	win, err := ResolveWindow(req.Preference, req.Now, loc)
	if err != nil {
		return nil, err
	}

	apptType := AppointmentTypeStandard
	if req.PatientType == contractx.PatientTypeNew {
		apptType = AppointmentTypeNewPatient
	}

	practitioners := req.Tenant.Practitioners
	slots, err := r.fanOut(ctx, win, apptType, practitioners)
	if err != nil {
		return nil, err
	}

	// Multi-practitioner querying came up dry; retry against the default
	// (first listed) practitioner alone before giving up.
	if len(slots) == 0 && len(practitioners) > 1 {
		slots, err = r.fanOut(ctx, win, apptType, practitioners[:1])
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })

	bound := r.maxSlots
	if req.PartyCount >= 2 && req.PartyCount*2 > bound {
		bound = req.PartyCount * 2
	}
	if len(slots) > bound {
		slots = slots[:bound]
	}

	for i := range slots {
		renderSlot(&slots[i], loc)
	}
	return slots, nil
}

func (r *Resolver) fanOut(
	ctx context.Context,
	win Window,
	apptType string,
	practitioners []contractx.Practitioner,
) ([]contractx.Slot, error) {
	var (
		mu    sync.Mutex
		slots []contractx.Slot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.queryParallel)

	for _, p := range practitioners {
		g.Go(func() error {
			found, err := r.scheduler.ListSlots(gctx, contractx.SlotQuery{
				From:              win.From,
				To:                win.To,
				PractitionerID:    p.ID,
				AppointmentTypeID: apptType,
			})
			if err != nil {
				return err
			}
			for i := range found {
				if found[i].PractitionerID == "" {
					found[i].PractitionerID = p.ID
				}
				if found[i].PractitionerName == "" {
					found[i].PractitionerName = p.Name
				}
				if found[i].AppointmentTypeID == "" {
					found[i].AppointmentTypeID = apptType
				}
			}
			mu.Lock()
			slots = append(slots, found...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slots, nil
}

func tenantLocation(t contractx.TenantInfo) *time.Location {
	tz := strings.TrimSpace(t.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn().Str("timezone", tz).Msg("unknown tenant timezone, falling back to UTC")
		return time.UTC
	}
	return loc
}

func renderSlot(s *contractx.Slot, loc *time.Location) {
	local := s.Start.In(loc)
	if s.Display == "" {
		s.Display = local.Format("Mon 3:04pm")
	}
	if s.Spoken == "" {
		s.Spoken = local.Format("Monday January 2 at 3:04 PM")
	}
}
