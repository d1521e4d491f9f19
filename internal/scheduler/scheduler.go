package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/state"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// runTimeout bounds one cron-fired batch.
const runTimeout = 5 * time.Minute

// Runner executes what a schedule entry names.
type Runner interface {
	RunReminders(ctx context.Context, opts ReminderOptions) (*ReminderResult, error)
	RunOpsFlow(ctx context.Context, opts OpsOptions) (*OpsResult, error)
}

var _ Runner = (*Coordinator)(nil)

// Scheduler evaluates cron expressions from the schedule store and fires
// reminder batches and ops flows through a Runner.
type Scheduler struct {
	store  *state.ScheduleStore
	runner Runner
	loc    *time.Location

	mu   sync.Mutex
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler. Expressions are evaluated in loc.
func New(store *state.ScheduleStore, runner Runner, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store:  store,
		runner: runner,
		loc:    loc,
		cron:   newCron(loc),
	}
}

func newCron(loc *time.Location) *cron.Cron {
	return cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
}

// ValidateExpression reports whether expr parses as a schedule.
func ValidateExpression(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// Start loads schedules from the store, registers the enabled ones and
// starts the cron ticker.
func (s *Scheduler) Start() error {
	schedules, err := s.store.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range schedules {
		if !sc.Enabled {
			continue
		}
		sc := sc
		if _, err := s.cron.AddFunc(sc.Schedule, func() { s.fire(sc) }); err != nil {
			slog.Error("invalid cron schedule", "name", sc.Name, "schedule", sc.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled entry", "name", sc.Name, "kind", sc.Kind, "schedule", sc.Schedule)
	}
	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start again.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	<-s.cron.Stop().Done()
	s.cron = newCron(s.loc)
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker and waits for running entries.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}

func (s *Scheduler) fire(sc *state.Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := Fire(ctx, s.runner, sc); err != nil {
		slog.Error("scheduled run failed", "name", sc.Name, "kind", sc.Kind, "error", redact.Error(err))
	}
}

// Fire runs one schedule entry now.
func Fire(ctx context.Context, runner Runner, sc *state.Schedule) error {
	switch sc.Kind {
	case state.ScheduleReminder:
		kind, _ := types.ParseReminderKind(sc.ReminderKind)
		res, err := runner.RunReminders(ctx, ReminderOptions{
			Persona: persona.Normalize(string(sc.Bot)),
			Kind:    kind,
			Source:  SourceSchedule,
		})
		if err != nil {
			return err
		}
		slog.Info("scheduled reminders sent", "name", sc.Name, "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
	case state.ScheduleOps:
		res, err := runner.RunOpsFlow(ctx, OpsOptions{
			Flow:   sc.Flow,
			Source: SourceSchedule,
			Mode:   sc.Mode,
		})
		if err != nil {
			return err
		}
		slog.Info("scheduled ops flow finished", "name", sc.Name, "flow", res.Flow, "skipped", res.Skipped, "reason", res.Reason)
	}
	return nil
}

// DefaultSchedules are written to the schedule store on first start.
func DefaultSchedules() []*state.Schedule {
	reminder := func(name string, kind types.ReminderKind, expr string) *state.Schedule {
		return &state.Schedule{Name: name, Kind: state.ScheduleReminder, Bot: persona.Tyler, ReminderKind: string(kind), Schedule: expr, Enabled: true}
	}
	ops := func(flow, expr string) *state.Schedule {
		return &state.Schedule{Name: flow, Kind: state.ScheduleOps, Flow: flow, Mode: ModeCloud, Schedule: expr, Enabled: true}
	}
	return []*state.Schedule{
		reminder("morning-plan", types.MorningPlan, "0 8 * * *"),
		reminder("evening-review", types.EveningReview, "0 21 * * *"),
		ops("market_3h", "0 */3 * * *"),
		ops("gmat_mba_daily", "0 9 * * *"),
		ops("finance_event_daily", "30 8 * * *"),
		ops("world_knowledge_daily", "0 12 * * *"),
		ops("hv_cycle_5d", "0 10 */5 * *"),
		ops("product_wbs_daily", "0 10 * * *"),
		ops("cost_guard_daily", "0 10,22 * * *"),
		ops("agent_retrospective_weekly", "0 20 * * 0"),
		ops("interrupt_daily", "0 11-20 * * *"),
		ops("monthly_kickoff", "0 9 * * *"),
		ops("monthly_scorecard", "0 20 * * *"),
	}
}
