package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"crewcall/internal/eventbus"
	logx "crewcall/pkg/logx"
)

// Job is one cadence body. The context carries the tick timeout.
type Job func(ctx context.Context) error

// Config mirrors the trigger section of the runtime config.
type Config struct {
	Enabled     bool
	Timezone    string
	Cadences    map[string]string // cadence name -> cron spec
	TickTimeout time.Duration
}

// Status is a point-in-time view for health reporting.
type Status struct {
	Running  bool
	Cadences []string
}

type registration struct {
	fallbackSpec string
	job          Job
}

// Service schedules registered jobs on cron cadences. A cadence whose
// previous run is still going is skipped, never queued; the skip is
// published on the bus so it is observable.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	bus     eventbus.Bus
	cfg     Config
	loc     *time.Location
	cron    *cron.Cron
	jobs    map[string]registration
	states  map[string]*runState
	started bool
}

func New(log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		bus:    bus,
		loc:    time.Local,
		jobs:   map[string]registration{},
		states: map[string]*runState{},
	}
}

// Register installs a named job. The cron spec is taken from the config's
// Cadences map; fallbackSpec applies when the config does not name this
// cadence. Registering an existing name replaces it on the next Apply.
func (s *Service) Register(name, fallbackSpec string, job Job) {
	s.mu.Lock()
	s.jobs[name] = registration{fallbackSpec: fallbackSpec, job: job}
	s.mu.Unlock()
}

// Deregister removes a named job and its overlap guard. Takes effect on the
// next Apply or Start; an in-flight run finishes undisturbed.
func (s *Service) Deregister(name string) {
	s.mu.Lock()
	delete(s.jobs, name)
	delete(s.states, name)
	s.mu.Unlock()
}

// Registered returns the names of all registered jobs, sorted.
func (s *Service) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply swaps in a new config, rebuilding the cron schedule. Safe to call
// while running: the old scheduler keeps ticking until the new one is up.
func (s *Service) Apply(cfg Config) error {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("trigger timezone: %w", err)
		}
		loc = l
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.loc = loc

	if !s.started {
		return nil
	}
	return s.rebuildLocked()
}

// Start builds the scheduler from the current config and begins ticking.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	if err := s.rebuildLocked(); err != nil {
		s.started = false
		return err
	}
	return nil
}

// Stop halts the scheduler, waiting for in-flight runs up to ctx's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.started = false
	s.mu.Unlock()

	if c == nil {
		return
	}
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("trigger stop timed out with runs in flight")
	}
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.started && s.cfg.Enabled}
	for name := range s.jobs {
		if s.specForLocked(name) != "" {
			st.Cadences = append(st.Cadences, name)
		}
	}
	sort.Strings(st.Cadences)
	return st
}

// rebuildLocked replaces the running cron instance with one built from the
// current config. Callers hold s.mu.
func (s *Service) rebuildLocked() error {
	old := s.cron
	s.cron = nil

	if !s.cfg.Enabled {
		if old != nil {
			old.Stop()
			s.log.Info("trigger disabled")
		}
		return nil
	}

	c := cron.New(cron.WithLocation(s.loc))
	for name, reg := range s.jobs {
		spec := s.specForLocked(name)
		if spec == "" {
			s.log.Warn("cadence has no cron spec; skipped", logx.String("cadence", name))
			continue
		}
		if _, err := c.AddFunc(spec, s.wrap(name, reg.job)); err != nil {
			return fmt.Errorf("cadence %s spec %q: %w", name, spec, err)
		}
		s.log.Info("cadence scheduled",
			logx.String("cadence", name),
			logx.String("spec", spec))
	}
	c.Start()
	s.cron = c

	if old != nil {
		old.Stop()
	}
	return nil
}

func (s *Service) specForLocked(name string) string {
	if spec, ok := s.cfg.Cadences[name]; ok {
		return spec
	}
	return s.jobs[name].fallbackSpec
}

// wrap builds the cron callback: overlap skip, tick timeout, error logging.
// Called only from rebuildLocked, so the run-state lookup must not relock.
func (s *Service) wrap(name string, job Job) func() {
	st := s.stateForLocked(name)
	return func() {
		if !st.tryAcquire() {
			s.log.Warn("cadence still running; tick skipped", logx.String("cadence", name))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{
					Type: "trigger.skipped",
					Time: time.Now(),
					Data: map[string]string{"cadence": name},
				})
			}
			return
		}
		defer st.release()

		s.mu.Lock()
		timeout := s.cfg.TickTimeout
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.log.Error("cadence run failed",
				logx.String("cadence", name),
				logx.Duration("took", time.Since(start)),
				logx.Err(err))
			return
		}
		s.log.Debug("cadence run done",
			logx.String("cadence", name),
			logx.Duration("took", time.Since(start)))
	}
}

// stateForLocked returns the per-cadence overlap guard, creating it on first
// use. Callers hold s.mu; the guard itself is lock-free so ticks never touch
// the registry mutex on the overlap check.
func (s *Service) stateForLocked(name string) *runState {
	st, ok := s.states[name]
	if !ok {
		st = &runState{}
		s.states[name] = st
	}
	return st
}

// runState is the per-cadence overlap guard.
type runState struct {
	running atomic.Bool
}

func (r *runState) tryAcquire() bool { return r.running.CompareAndSwap(false, true) }
func (r *runState) release()        { r.running.Store(false) }
