// Package scheduler runs the recurring scan jobs (geofence, trigger
// monitors, snapshots) on a cron-backed worker pool with bounded retry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"anchorwatch/internal/logx"
)

type Config struct {
	Workers        int
	DefaultTimeout time.Duration
	HistorySize    int
	RetryMax       int
	Timezone       string // IANA TZ; empty means local
}

// HistoryItem records one completed run for the ops snapshot.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Attempts int
	Error    string
}

type jobState struct {
	mu      sync.Mutex
	running bool
}

type task struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	state   *jobState
}

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error
	state   *jobState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	parser cron.Parser
	c      *cron.Cron
	defs   []jobDef

	queue  chan task
	stopCh chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	s.queue = make(chan task, 256)

	loc := s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		s.addCronLocked(d)
	}

	for i := 0; i < workers; i++ {
		go s.worker(ctx, s.stopCh, s.queue)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("workers", workers), logx.String("tz", loc.String()))
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.log.Info("scheduler stopped")
}

// AddInterval registers a job to run every `every`. Runs that would
// overlap a still-running instance of the same job are skipped.
func (s *Service) AddInterval(name string, every, timeout time.Duration, run func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("job %s: interval must be > 0", name)
	}
	return s.add(jobDef{
		name:    name,
		spec:    fmt.Sprintf("@every %s", every.String()),
		timeout: s.resolveTimeout(timeout),
		run:     run,
		state:   &jobState{},
	})
}

// AddCron registers a job on a cron spec (minute resolution).
func (s *Service) AddCron(name, spec string, timeout time.Duration, run func(ctx context.Context) error) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return s.add(jobDef{
		name:    name,
		spec:    spec,
		timeout: s.resolveTimeout(timeout),
		run:     run,
		state:   &jobState{},
	})
}

func (s *Service) add(d jobDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.addCronLocked(d)
	}
	return nil
}

func (s *Service) addCronLocked(d jobDef) {
	_, err := s.c.AddFunc(d.spec, func() {
		d.state.mu.Lock()
		busy := d.state.running
		d.state.mu.Unlock()
		if busy {
			s.log.Debug("scan still running; skipping tick", logx.String("job", d.name))
			return
		}
		s.enqueue(task{name: d.name, timeout: d.timeout, run: d.run, state: d.state})
	})
	if err != nil {
		// spec was validated at registration; this only fires for
		// programming errors
		s.log.Error("cron registration failed", logx.String("job", d.name), logx.Err(err))
	}
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("scheduler queue full; dropping run",
			logx.String("job", t.name), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, stopCh, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scan panicked", logx.String("job", t.name), logx.Any("panic", r))
		}
	}()

	if t.state != nil {
		t.state.mu.Lock()
		t.state.running = true
		t.state.mu.Unlock()
		defer func() {
			t.state.mu.Lock()
			t.state.running = false
			t.state.mu.Unlock()
		}()
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	retries := cfg.RetryMax
	if retries < 0 {
		retries = 0
	}

	start := time.Now()
	var err error
	attempts := 0
	maxAttempts := 1 + retries
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		// Per-attempt timeout so a timed-out attempt doesn't poison retries.
		runCtx := ctx
		var cancel func()
		if t.timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		}
		err = t.run(runCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil || attempt >= maxAttempts {
			break
		}

		delay := backoffDelay(attempt)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			err = errors.New("scheduler stopped")
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	item := HistoryItem{Name: t.name, Started: start, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("scan failed", logx.String("job", t.name), logx.Err(err),
			logx.Duration("dur", dur), logx.Int("attempts", attempts))
	} else if dur >= 750*time.Millisecond {
		s.log.Info("scan completed", logx.String("job", t.name), logx.Duration("dur", dur))
	} else {
		s.log.Debug("scan completed", logx.String("job", t.name), logx.Duration("dur", dur))
	}

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 200
	}
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

// History returns a copy of the recent run log, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) resolveTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return s.cfg.DefaultTimeout
}
