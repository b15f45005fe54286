package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hako/durafmt"
	"go.uber.org/zap"

	"github.com/doridoridoriand/tunnelwatch/internal/action"
	"github.com/doridoridoriand/tunnelwatch/internal/metric"
	"github.com/doridoridoriand/tunnelwatch/internal/probe"
	"github.com/doridoridoriand/tunnelwatch/internal/state"
	"github.com/doridoridoriand/tunnelwatch/internal/status"
)

const (
	DefaultInterval      = 300 * time.Second
	DefaultErrorBackoff  = 60 * time.Second
	defaultBusinessStart = 6
	defaultBusinessEnd   = 18
)

// Tracker decides whether a transition may run and remembers successful ones.
type Tracker interface {
	ShouldTrigger(desired state.DesiredState) bool
	RecordSuccess(desired state.DesiredState, clientCount int) error
}

// Executor runs the lifecycle action for a state.
type Executor interface {
	Execute(ctx context.Context, desired state.DesiredState) action.Result
}

// Options holds the loop's fixed settings.
type Options struct {
	Threshold     int
	Interval      time.Duration
	ErrorBackoff  time.Duration
	BusinessStart int
	BusinessEnd   int

	// ProbeHost is pinged when a metric fetch fails. Empty disables the probe.
	ProbeHost string
}

// Deps are the loop's collaborators. Mirror, Pinger, Store, Logger and Now are optional.
type Deps struct {
	Source    metric.Source
	Mirror    metric.Mirror
	Tracker   Tracker
	Executor  Executor
	Publisher status.Publisher
	Store     *state.Store
	Pinger    probe.Pinger
	Logger    *zap.Logger
	Now       func() time.Time
}

// Loop is the single-instance control loop. It owns lastState; nothing else mutates it.
type Loop struct {
	threshold int
	interval  time.Duration
	backoff   time.Duration
	bizStart  int
	bizEnd    int
	probeHost string

	source    metric.Source
	mirror    metric.Mirror
	tracker   Tracker
	executor  Executor
	publisher status.Publisher
	store     *state.Store
	pinger    probe.Pinger
	logger    *zap.Logger
	now       func() time.Time

	lastState  state.DesiredState
	iterations uint64
}

// New validates the options and wires the collaborators.
func New(opts Options, deps Deps) (*Loop, error) {
	switch {
	case opts.Threshold < 0:
		return nil, fmt.Errorf("threshold must be >= 0, got %d", opts.Threshold)
	case deps.Source == nil:
		return nil, errors.New("metric source is required")
	case deps.Tracker == nil:
		return nil, errors.New("task tracker is required")
	case deps.Executor == nil:
		return nil, errors.New("action executor is required")
	case deps.Publisher == nil:
		return nil, errors.New("status publisher is required")
	}

	l := &Loop{
		threshold: opts.Threshold,
		interval:  opts.Interval,
		backoff:   opts.ErrorBackoff,
		bizStart:  opts.BusinessStart,
		bizEnd:    opts.BusinessEnd,
		probeHost: opts.ProbeHost,
		source:    deps.Source,
		mirror:    deps.Mirror,
		tracker:   deps.Tracker,
		executor:  deps.Executor,
		publisher: deps.Publisher,
		store:     deps.Store,
		pinger:    deps.Pinger,
		logger:    deps.Logger,
		now:       deps.Now,
		lastState: state.StateUnknown,
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.backoff <= 0 {
		l.backoff = DefaultErrorBackoff
	}
	if l.bizStart == 0 && l.bizEnd == 0 {
		l.bizStart, l.bizEnd = defaultBusinessStart, defaultBusinessEnd
	}
	if l.store == nil {
		l.store = state.NewStore("", opts.Threshold)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// LastState is the state of the last successful (or debounced) transition.
func (l *Loop) LastState() state.DesiredState {
	return l.lastState
}

// Threshold is fixed for the lifetime of the loop.
func (l *Loop) Threshold() int {
	return l.threshold
}

// Run repeats RunOnce until ctx is cancelled. Cancellation is honoured only while
// sleeping between iterations; an iteration in flight always completes.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("control loop started",
		zap.Int("threshold", l.threshold),
		zap.String("interval", durafmt.Parse(l.interval).String()),
		zap.String("error_backoff", durafmt.Parse(l.backoff).String()))

	for {
		if err := ctx.Err(); err != nil {
			return l.stopped(err)
		}

		wait := l.interval
		if err := l.RunOnce(ctx); err != nil {
			l.logger.Error("iteration failed, backing off",
				zap.Error(err), zap.Duration("backoff", l.backoff))
			wait = l.backoff
		}

		l.store.SetNextCheck(l.now().Add(wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.stopped(ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *Loop) stopped(err error) error {
	l.logger.Info("control loop stopped",
		zap.String("last_state", l.lastState.String()),
		zap.Uint64("iterations", l.iterations))
	return err
}

// RunOnce performs one iteration: fetch, mirror, evaluate, maybe act, publish.
// External calls are detached from ctx cancellation and bounded by their own timeouts.
// The returned error is an unexpected failure (status write or a recovered panic).
func (l *Loop) RunOnce(ctx context.Context) (err error) {
	ctx = context.WithoutCancel(ctx)
	l.iterations++
	at := l.now()
	logger := l.logger.With(zap.Uint64("iteration", l.iterations))
	update := state.IterationUpdate{At: at, Desired: l.lastState}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panicked: %v", r)
		}
		update.LastState = l.lastState
		update.LoopErr = err
		l.store.RecordIteration(update)
	}()

	count, fetchErr := l.source.Fetch(ctx)
	if fetchErr != nil {
		count = 0
		update.FetchErr = fetchErr
		logger.Warn("metric fetch failed, treating client count as 0; a spurious DOWN may follow",
			zap.Error(fetchErr))
		l.probeGateway(ctx, logger)
	}
	update.ClientCount = count
	logger.Info("client count", zap.Int("count", count), zap.Int("threshold", l.threshold))

	if l.mirror != nil {
		if mErr := l.mirror.Push(ctx, count); mErr != nil {
			update.MirrorErr = mErr
			logger.Warn("webhook push failed", zap.Error(mErr))
		} else {
			logger.Debug("webhook push ok", zap.Int("count", count))
		}
	}

	desired := state.Evaluate(count, l.threshold, l.lastState)
	update.Desired = desired

	if desired == l.lastState {
		logger.Info("no change needed",
			zap.String("state", l.lastState.String()), zap.Int("hour", at.Local().Hour()))
	} else {
		update.Suppressed, update.Action = l.transition(ctx, logger, desired, count, at)
	}

	rec := status.NewRecord(metric.Sample{Count: count, ObservedAt: at}, l.threshold, l.lastState)
	if pErr := l.publisher.Publish(ctx, rec); pErr != nil {
		return fmt.Errorf("publish status: %w", pErr)
	}
	return nil
}

// transition asks the tracker, runs the action and updates lastState on success.
// A debounced trigger adopts desired: the task record already proves a successful
// action for that state inside the window.
func (l *Loop) transition(ctx context.Context, logger *zap.Logger, desired state.DesiredState, count int, at time.Time) (bool, *state.ActionOutcome) {
	logger = logger.With(zap.String("from", l.lastState.String()), zap.String("to", desired.String()))
	logger.Info("state change wanted", zap.Int("count", count), zap.Int("threshold", l.threshold))

	if !l.tracker.ShouldTrigger(desired) {
		l.lastState = desired
		logger.Info("trigger suppressed by debounce window")
		return true, nil
	}

	if desired == state.StateUp && !l.inBusinessHours(at) {
		logger.Info("outside business hours, client demand is high; forcing UP",
			zap.Int("hour", at.Local().Hour()))
	}

	res := l.executor.Execute(ctx, desired)
	outcome := &state.ActionOutcome{
		State:    desired,
		RunID:    res.RunID,
		Success:  res.OK(),
		ExitCode: res.ExitCode,
		At:       at,
		Duration: res.Duration,
	}
	if res.Err != nil {
		outcome.Error = res.Err.Error()
	}

	if !res.OK() {
		logger.Warn("action failed; state unchanged, will retry next iteration",
			zap.String("run_id", res.RunID), zap.Error(res.Err))
		return false, outcome
	}

	l.lastState = desired
	if err := l.tracker.RecordSuccess(desired, count); err != nil {
		logger.Error("task record write failed", zap.String("run_id", res.RunID), zap.Error(err))
	}
	logger.Info("state changed", zap.String("run_id", res.RunID))
	return false, outcome
}

func (l *Loop) inBusinessHours(at time.Time) bool {
	h := at.Local().Hour()
	return h >= l.bizStart && h < l.bizEnd
}

// probeGateway logs whether the metric host answers pings. It never affects the count.
func (l *Loop) probeGateway(ctx context.Context, logger *zap.Logger) {
	if l.pinger == nil || l.probeHost == "" {
		return
	}
	res := l.pinger.Ping(ctx, l.probeHost, probe.DefaultTimeout)
	if res.Reachable {
		logger.Info("metric gateway answers ping; failure is above the network layer",
			zap.String("host", l.probeHost), zap.Duration("rtt", res.RTT), zap.String("method", res.Method))
		return
	}
	fields := []zap.Field{zap.String("host", l.probeHost), zap.String("method", res.Method)}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	}
	logger.Warn("metric gateway unreachable", fields...)
}
