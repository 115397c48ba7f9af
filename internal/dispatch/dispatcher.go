// Package dispatch consumes the durable delivery queue and pushes
// composed alerts out through the channel adapters. Delivery has two
// retry layers: a single in-attempt fallback channel when every
// requested channel fails, and job-level redelivery with exponential
// backoff when the whole attempt fails.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"anchorwatch/internal/channel"
	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
)

// Fallback order when every requested channel fails. Channels already
// attempted are skipped; at most one fallback is tried per attempt.
var fallbackChain = []domain.Channel{domain.ChannelWhatsApp, domain.ChannelSMS, domain.ChannelEmail}

type Config struct {
	Workers        int
	RetryBase      time.Duration
	PollInterval   time.Duration
	ChannelTimeout time.Duration

	// StuckAfter returns claimed-but-unfinished jobs to the queue on
	// startup, for crash recovery.
	StuckAfter time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 10 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 5 * time.Minute
	}
}

// ChannelCounters tracks per-channel send results since process start.
type ChannelCounters struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

type Dispatcher struct {
	store    *storage.Store
	registry *channel.Registry
	log      logx.Logger
	cfg      Config
	now      func() time.Time

	cmu      sync.Mutex
	counters map[domain.Channel]*ChannelCounters

	stopCh chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(store *storage.Store, registry *channel.Registry, cfg Config, log logx.Logger) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		store:    store,
		registry: registry,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		counters: map[domain.Channel]*ChannelCounters{},
		stopCh:   make(chan struct{}),
	}
}

// Start recovers stuck jobs and launches the poll loop plus workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	var startErr error
	d.startOnce.Do(func() {
		now := d.now()
		n, err := d.store.RequeueStuck(ctx, now.Add(-d.cfg.StuckAfter), now)
		if err != nil {
			startErr = fmt.Errorf("requeue stuck jobs: %w", err)
			return
		}
		if n > 0 {
			d.log.Info("requeued stuck delivery jobs", logx.Int("count", int(n)))
		}

		jobs := make(chan storage.Job, d.cfg.Workers)
		d.wg.Add(1)
		go d.pollLoop(ctx, jobs)
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx, jobs)
		}
	})
	return startErr
}

// Stop halts polling and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) pollLoop(ctx context.Context, jobs chan<- storage.Job) {
	defer d.wg.Done()
	defer close(jobs)

	t := time.NewTicker(d.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-t.C:
		}

		due, err := d.store.DequeueDue(ctx, d.cfg.Workers*2, d.now())
		if err != nil {
			d.log.Warn("dequeue failed", logx.Err(err))
			continue
		}
		for _, j := range due {
			select {
			case jobs <- j:
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, jobs <-chan storage.Job) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			d.deliver(ctx, j)
		}
	}
}

// deliver runs one delivery attempt for one job.
func (d *Dispatcher) deliver(ctx context.Context, job storage.Job) {
	var a domain.ComposedAlert
	if err := json.Unmarshal([]byte(job.Payload), &a); err != nil {
		// Poison payload: retrying cannot help. Fail the alert and retire
		// the job.
		d.log.Error("undecodable delivery payload", logx.String("job", job.ID), logx.Err(err))
		_ = d.store.MarkAlertFailed(ctx, job.ID, "undecodable payload: "+err.Error(), d.now())
		_ = d.store.CompleteJob(ctx, job.ID, d.now())
		return
	}

	outcomes := d.fanOut(ctx, a, a.Channels, false)

	if !anySuccess(outcomes) && job.Attempts < job.MaxAttempts {
		if fb, ok := d.pickFallback(a); ok {
			outcomes = append(outcomes, d.fanOut(ctx, a, []domain.Channel{fb}, true)...)
		}
	}

	if err := d.store.AppendAlertOutcomes(ctx, a.ID, outcomes); err != nil {
		d.log.Warn("recording outcomes failed", logx.String("alert", a.ID), logx.Err(err))
	}

	now := d.now()
	if anySuccess(outcomes) {
		if err := d.store.MarkAlertSent(ctx, a.ID, now); err != nil {
			d.log.Warn("marking alert sent failed", logx.String("alert", a.ID), logx.Err(err))
		}
		if confirmed(outcomes) {
			_ = d.store.MarkAlertDelivered(ctx, a.ID, now)
		}
		if err := d.store.CompleteJob(ctx, job.ID, now); err != nil {
			d.log.Warn("completing job failed", logx.String("job", job.ID), logx.Err(err))
		}
		d.log.Info("alert delivered",
			logx.String("alert", a.ID), logx.String("priority", string(a.Priority)),
			logx.Int("channels", len(outcomes)))
		return
	}

	reason := failureReasons(outcomes)
	retry, err := d.store.FailJob(ctx, job.ID, reason, d.backoff(job.Attempts), now)
	if err != nil {
		d.log.Error("failing job errored", logx.String("job", job.ID), logx.Err(err))
		return
	}
	if retry {
		d.log.Warn("delivery attempt failed, will retry",
			logx.String("alert", a.ID), logx.Int("attempt", job.Attempts), logx.String("reason", reason))
		return
	}
	if err := d.store.MarkAlertFailed(ctx, a.ID, reason, now); err != nil {
		d.log.Error("marking alert failed errored", logx.String("alert", a.ID), logx.Err(err))
	}
	d.log.Error("alert delivery exhausted",
		logx.String("alert", a.ID), logx.Int("attempts", job.Attempts), logx.String("reason", reason))
}

// fanOut sends to every listed channel in parallel and collects the
// per-channel outcomes in input order.
func (d *Dispatcher) fanOut(ctx context.Context, a domain.ComposedAlert, channels []domain.Channel, fallback bool) []domain.ChannelOutcome {
	outcomes := make([]domain.ChannelOutcome, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch domain.Channel) {
			defer wg.Done()
			outcomes[i] = d.sendOne(ctx, a, ch, fallback)
		}(i, ch)
	}
	wg.Wait()
	return outcomes
}

func (d *Dispatcher) sendOne(ctx context.Context, a domain.ComposedAlert, ch domain.Channel, fallback bool) domain.ChannelOutcome {
	out := domain.ChannelOutcome{Channel: ch, Fallback: fallback, At: d.now()}

	adapter, ok := d.registry.Get(ch)
	if !ok {
		out.Error = "channel not configured"
		d.count(ch, false)
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
	defer cancel()
	res, err := adapter.Send(callCtx, channel.Message{
		AlertID:   a.ID,
		Title:     a.Title,
		Body:      a.Body,
		Priority:  a.Priority,
		Recipient: a.Recipient.AddressFor(ch),
	})
	if err != nil {
		out.Error = err.Error()
		d.count(ch, false)
		return out
	}
	out.Success = true
	out.MessageID = res.MessageID
	d.count(ch, true)
	return out
}

// pickFallback chooses the first chain channel that was not already
// requested and has both an adapter and a recipient address.
func (d *Dispatcher) pickFallback(a domain.ComposedAlert) (domain.Channel, bool) {
	attempted := make(map[domain.Channel]bool, len(a.Channels))
	for _, ch := range a.Channels {
		attempted[ch] = true
	}
	for _, ch := range fallbackChain {
		if attempted[ch] {
			continue
		}
		if _, ok := d.registry.Get(ch); !ok {
			continue
		}
		if a.Recipient.AddressFor(ch) == "" {
			continue
		}
		return ch, true
	}
	return "", false
}

// backoff doubles the retry delay per completed attempt.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

func (d *Dispatcher) count(ch domain.Channel, success bool) {
	d.cmu.Lock()
	c := d.counters[ch]
	if c == nil {
		c = &ChannelCounters{}
		d.counters[ch] = c
	}
	if success {
		c.Sent++
	} else {
		c.Failed++
	}
	d.cmu.Unlock()
}

// Counters returns a copy of the per-channel counters, keys sorted for
// stable health output.
func (d *Dispatcher) Counters() map[domain.Channel]ChannelCounters {
	d.cmu.Lock()
	defer d.cmu.Unlock()
	out := make(map[domain.Channel]ChannelCounters, len(d.counters))
	keys := make([]string, 0, len(d.counters))
	for ch := range d.counters {
		keys = append(keys, string(ch))
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[domain.Channel(k)] = *d.counters[domain.Channel(k)]
	}
	return out
}

func anySuccess(outcomes []domain.ChannelOutcome) bool {
	for _, o := range outcomes {
		if o.Success {
			return true
		}
	}
	return false
}

// confirmed reports whether a provider returned a message id, which is
// the only delivery confirmation available synchronously.
func confirmed(outcomes []domain.ChannelOutcome) bool {
	for _, o := range outcomes {
		if o.Success && o.MessageID != "" {
			return true
		}
	}
	return false
}

func failureReasons(outcomes []domain.ChannelOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.Success {
			parts = append(parts, fmt.Sprintf("%s: %s", o.Channel, o.Error))
		}
	}
	return strings.Join(parts, "; ")
}
