package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/tbdash/internal/infrastructure/logging"
)

// ChannelUpdated is the broadcast channel carrying a View after every
// state change.
const ChannelUpdated = "dashboard.updated"

// DefaultSchedule refreshes twice a minute.
const DefaultSchedule = "@every 30s"

// ErrAlreadyStarted is returned by Start on a running poller.
var ErrAlreadyStarted = errors.New("dashboard: poller already started")

// Refresher produces snapshots. *Aggregator implements it.
type Refresher interface {
	Refresh(ctx context.Context) (*Snapshot, error)
}

// Sink receives every successful snapshot. Publish errors are logged and
// do not affect State or other sinks.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snap *Snapshot) error
}

// Poller refreshes on a cron schedule and fans results out to State and
// sinks.
//
// Scheduled runs that would overlap a still-running refresh are skipped.
// RefreshNow waits for any in-progress refresh and then runs its own.
type Poller struct {
	refresher Refresher
	state     *State
	schedule  string
	sinks     []Sink
	logger    *logging.Logger

	runMu sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithSchedule overrides DefaultSchedule. Any robfig/cron descriptor or
// five-field spec is accepted.
func WithSchedule(spec string) PollerOption {
	return func(p *Poller) { p.schedule = strings.TrimSpace(spec) }
}

// WithSinks adds snapshot sinks.
func WithSinks(sinks ...Sink) PollerOption {
	return func(p *Poller) { p.sinks = append(p.sinks, sinks...) }
}

// WithPollerLogger sets the logger.
func WithPollerLogger(l *logging.Logger) PollerOption {
	return func(p *Poller) { p.logger = l.With("component", "poller") }
}

// NewPoller creates a poller that writes into state.
func NewPoller(r Refresher, state *State, opts ...PollerOption) *Poller {
	p := &Poller{
		refresher: r,
		state:     state,
		schedule:  DefaultSchedule,
		logger:    logging.Discard(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start schedules periodic refreshes and runs the first one immediately in
// the background. The poller stops when ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	cl := cronLogger{p.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(p.schedule, func() { p.run(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("parsing schedule %q: %w", p.schedule, err)
	}

	p.cron = c
	p.ctx = runCtx
	p.cancel = cancel
	p.started = true
	c.Start()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(runCtx)
	}()

	p.logger.Info("poller started", "schedule", p.schedule, "sinks", len(p.sinks))
	return nil
}

// Stop halts scheduling and waits for any running refresh to finish.
// Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	c, cancel := p.cron, p.cancel
	p.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	p.wg.Wait()
	p.logger.Info("poller stopped")
}

// RefreshNow runs one refresh synchronously and returns its outcome. State,
// sinks are updated exactly as for a scheduled run.
func (p *Poller) RefreshNow(ctx context.Context) (*Snapshot, error) {
	return p.run(ctx)
}

func (p *Poller) run(ctx context.Context) (*Snapshot, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.state.BeginRefresh()
	snap, err := p.refresher.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			p.state.AbortRefresh()
			p.logger.Debug("dashboard refresh abandoned", "error", err)
			return nil, err
		}
		p.state.Fail(err)
		return nil, err
	}
	p.state.Apply(snap)

	for _, s := range p.sinks {
		if err := s.Publish(ctx, snap); err != nil {
			p.logger.Warn("snapshot sink failed", "sink", s.Name(), "error", err)
		}
	}
	return snap, nil
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
