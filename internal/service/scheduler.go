package service

import (
	"context"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"carbridge/internal/metrics"
	"carbridge/internal/models"
)

// Scheduler states.
const (
	StateIdle     = "idle"
	StateActive   = "active"
	StateDisabled = "disabled"
)

const (
	eventChargingDetected = "charging_detected"
	eventChargingStopped  = "charging_stopped"
	eventDisable          = "disable"
	eventEnable           = "enable"
)

// EnabledSetFunc yields the data point keys to refresh on a scheduled
// cycle. It is evaluated on every cycle so enablement or scope changes are
// never cached stale.
type EnabledSetFunc func() []models.Key

// Scheduler drives periodic batched refreshes with a state-dependent
// interval: a short one while the vehicle charges, a long one otherwise,
// and none at all when administratively disabled. Failures never alter the
// cadence; they surface on the affected data points instead.
type Scheduler struct {
	engine     *FetchEngine
	enabledSet EnabledSetFunc
	machine    *fsm.FSM
	metrics    *metrics.Metrics
	logger     *zap.Logger

	idleInterval   time.Duration
	activeInterval time.Duration

	wake       chan struct{}
	afterCycle func(context.Context)
}

// NewScheduler builds the scheduler. startDisabled suspends the cycle until
// Enable is called; on-demand refreshes keep working regardless.
func NewScheduler(
	engine *FetchEngine,
	enabledSet EnabledSetFunc,
	idleInterval, activeInterval time.Duration,
	startDisabled bool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Scheduler {
	initial := StateIdle
	if startDisabled {
		initial = StateDisabled
	}

	return &Scheduler{
		engine:     engine,
		enabledSet: enabledSet,
		machine: fsm.NewFSM(
			initial,
			fsm.Events{
				{Name: eventChargingDetected, Src: []string{StateIdle}, Dst: StateActive},
				{Name: eventChargingStopped, Src: []string{StateActive}, Dst: StateIdle},
				{Name: eventDisable, Src: []string{StateIdle, StateActive}, Dst: StateDisabled},
				{Name: eventEnable, Src: []string{StateDisabled}, Dst: StateIdle},
			},
			fsm.Callbacks{},
		),
		metrics:        m,
		logger:         logger,
		idleInterval:   idleInterval,
		activeInterval: activeInterval,
		wake:           make(chan struct{}, 1),
	}
}

// SetAfterCycle registers a hook invoked after every completed scheduled
// cycle. Must be set before Run.
func (s *Scheduler) SetAfterCycle(fn func(context.Context)) {
	s.afterCycle = fn
}

// State returns the current scheduling state.
func (s *Scheduler) State() string {
	return s.machine.Current()
}

// Interval returns the interval selected for the next cycle.
func (s *Scheduler) Interval() time.Duration {
	if s.machine.Is(StateActive) {
		return s.activeInterval
	}
	return s.idleInterval
}

// Disable suspends automatic scheduling.
func (s *Scheduler) Disable(ctx context.Context) {
	if err := s.machine.Event(ctx, eventDisable); err != nil {
		return
	}
	s.logger.Info("polling disabled")
	s.notify()
}

// Enable resumes automatic scheduling. The first cycle runs immediately;
// the idle interval applies from there.
func (s *Scheduler) Enable(ctx context.Context) {
	if err := s.machine.Event(ctx, eventEnable); err != nil {
		return
	}
	s.logger.Info("polling enabled")
	s.notify()
}

// Run executes the scheduling loop until ctx is cancelled. The first cycle
// runs immediately unless scheduling starts disabled.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.machine.Is(StateDisabled) {
		s.runCycle(ctx)
	}

	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			if !s.machine.Is(StateDisabled) {
				s.runCycle(ctx)
			}
		case <-timer.C:
			if !s.machine.Is(StateDisabled) {
				s.runCycle(ctx)
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.Interval())
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	keys := s.enabledSet()
	if len(keys) == 0 {
		s.logger.Warn("no data points to request for scheduled cycle")
		return
	}

	s.logger.Debug("starting scheduled cycle",
		zap.Int("keys", len(keys)),
		zap.String("state", s.machine.Current()))

	results := s.engine.Fetch(ctx, keys)
	s.selectNextInterval(ctx, results)
	s.metrics.ScheduledCycles.Inc()

	if s.afterCycle != nil {
		s.afterCycle(ctx)
	}
}

// selectNextInterval recomputes the vehicle's charging state from the fresh
// charge-status result. If the point was not requested or its fetch failed,
// the previous interval is retained so a transient failure cannot flap the
// cadence back to idle.
func (s *Scheduler) selectNextInterval(ctx context.Context, results map[models.Key]models.FetchResult) {
	result, requested := results[models.KeyChargingState]
	if !requested || result.Err != nil || result.Value == nil {
		return
	}

	charging := result.Value.Kind == models.KindString && result.Value.Text == models.ChargingStateCharging

	var err error
	switch {
	case charging && s.machine.Is(StateIdle):
		err = s.machine.Event(ctx, eventChargingDetected)
	case !charging && s.machine.Is(StateActive):
		err = s.machine.Event(ctx, eventChargingStopped)
	default:
		return
	}
	if err != nil {
		return
	}

	s.logger.Info("scheduling interval changed",
		zap.String("state", s.machine.Current()),
		zap.Duration("interval", s.Interval()))
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
