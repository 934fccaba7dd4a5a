package poller

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"starwatch/internal/content"
	"starwatch/internal/eventbus"
	"starwatch/pkg/logx"
)

// CycleReport summarizes one fetch, dedup and present pass. It is the
// payload of eventbus.TypeCycle.
type CycleReport struct {
	Started   time.Time
	Took      time.Duration
	Sources   int
	Items     int
	Novel     []content.Item
	Presented int
	// Skipped is set when a read failed or the cycle was cancelled; the
	// tracker is left untouched so nothing in the window is lost.
	Skipped     bool
	FetchErrors []error
}

// Scheduler runs cycles on a repeating schedule. It holds at most one cron
// schedule at a time and never runs two cycles of the same schedule at once:
// a tick that fires while the previous cycle is still running is dropped.
type Scheduler struct {
	fetcher   *Fetcher
	tracker   *Tracker
	presenter *Presenter
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	mu  sync.Mutex
	cur *schedRun
}

// schedRun is one Start..Stop span.
type schedRun struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cron     *cron.Cron
	interval time.Duration
	// inflight counts cycles of this run; Add only happens while the run is current.
	inflight sync.WaitGroup
}

func NewScheduler(f *Fetcher, t *Tracker, p *Presenter, bus eventbus.Bus, log logx.Logger) *Scheduler {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{fetcher: f, tracker: t, presenter: p, bus: bus, log: log, now: time.Now}
}

// Running reports whether a schedule is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Interval returns the armed interval, or 0 when idle.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return 0
	}
	return s.cur.interval
}

// Start runs one cycle immediately (asynchronously) and then one every
// interval. A running schedule is cancelled first.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.cur; old != nil {
		s.cur = nil
		old.cancel()
		old.cron.Stop()
		s.log.Debug("previous schedule cancelled", logx.Duration("interval", old.interval))
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &schedRun{ctx: ctx, cancel: cancel, interval: interval}

	cl := logx.CronLogger{L: s.log}
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { s.tick(r) }))

	r.cron = cron.New(cron.WithLogger(cl))
	r.cron.Schedule(cron.Every(interval), job)
	r.cron.Start()
	s.cur = r

	s.log.Info("poller started", logx.Duration("interval", interval))
	// The immediate cycle goes through the same chain, so a slow first
	// cycle makes the first tick drop.
	go job.Run()
	return nil
}

// Stop disarms the schedule and waits for an in-flight cycle, bounded by ctx.
// No cycle starts and no alert is presented after Stop returns. Stopping an
// idle scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.cur
	s.cur = nil
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	r.cancel()
	cronDone := r.cron.Stop()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		<-cronDone.Done()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("poller stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("poller stop timed out; in-flight cycle is cancelled but still unwinding")
		return ctx.Err()
	}
}

// Restart is Stop followed by Start.
func (s *Scheduler) Restart(ctx context.Context, interval time.Duration) error {
	if err := s.Stop(ctx); err != nil {
		s.log.Warn("restart: stop incomplete", logx.Err(err))
	}
	return s.Start(interval)
}

// RunOnce runs one cycle synchronously, outside any schedule.
func (s *Scheduler) RunOnce(ctx context.Context) CycleReport {
	return s.cycle(ctx)
}

func (s *Scheduler) tick(r *schedRun) {
	s.mu.Lock()
	if s.cur != r || r.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	r.inflight.Add(1)
	s.mu.Unlock()
	defer r.inflight.Done()

	s.cycle(r.ctx)
}

func (s *Scheduler) cycle(ctx context.Context) CycleReport {
	start := s.now()
	snap := s.fetcher.Fetch(ctx)
	rep := CycleReport{
		Started:     start,
		Sources:     len(snap.Sources),
		Items:       len(snap.Items),
		FetchErrors: snap.Errs,
	}

	// A failed read means the snapshot is partial; treating it as a complete
	// empty cycle would move the reconciliation point past unseen items.
	if snap.Failed() || ctx.Err() != nil {
		rep.Skipped = true
		rep.Took = time.Since(start)
		s.publish(rep)
		return rep
	}

	rep.Novel = s.tracker.SelectNovelAt(start, snap.Sources, snap.Items)

	sources := make(map[string]content.Source, len(snap.Sources))
	for _, src := range snap.Sources {
		sources[src.ID] = src
	}
	for _, it := range rep.Novel {
		if ctx.Err() != nil {
			break
		}
		if s.presenter.Present(ctx, it, sources[it.SourceID]) {
			rep.Presented++
		}
	}
	rep.Took = time.Since(start)
	s.publish(rep)
	return rep
}

func (s *Scheduler) publish(rep CycleReport) {
	stats := s.tracker.Stats()
	fields := []logx.Field{
		logx.Int("sources", rep.Sources),
		logx.Int("items", rep.Items),
		logx.Int("novel", len(rep.Novel)),
		logx.Int("presented", rep.Presented),
		logx.Int("known", stats.Known),
		logx.Duration("took", rep.Took),
	}
	if rep.Skipped {
		s.log.Info("poll cycle skipped", append(fields, logx.Int("fetch_errors", len(rep.FetchErrors)))...)
	} else {
		s.log.Debug("poll cycle", fields...)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeCycle, Data: rep})
}
