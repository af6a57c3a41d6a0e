// Package scheduler drives the harvest loop: it picks the next target with
// a health-weighted random draw, runs a session for it with bounded
// retries, and paces itself between cycles so sources never see a
// predictable request rhythm.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/permitstream/harvester/internal/health"
	"github.com/permitstream/harvester/internal/metrics"
	"github.com/permitstream/harvester/internal/permit"
	"github.com/permitstream/harvester/internal/retry"
	"github.com/permitstream/harvester/internal/routing"
)

// Harvester runs one full harvest for one target.
type Harvester interface {
	Harvest(ctx context.Context, original string, target permit.Target) (permit.Result, error)
}

// Config controls the harvest loop.
type Config struct {
	// MaxAttempts is how many times one cycle tries its target before
	// recording a failure.
	MaxAttempts int
	// RetryDelay is the base wait between attempts; the wait before
	// attempt n+1 is RetryDelay × n.
	RetryDelay time.Duration
	// MaxPacing bounds the random wait between cycles.
	MaxPacing time.Duration
	// StatusEvery is the cycle interval for health status reports.
	StatusEvery int
	// AlertEvery raises an alert when a target's failure streak is a
	// multiple of it.
	AlertEvery int
	// Topic is the publish destination for completed batches; empty
	// disables publishing.
	Topic string
	// Seed makes target selection and pacing reproducible when nonzero.
	Seed int64
}

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 5 * time.Second
	defaultMaxPacing   = 30 * time.Minute
	defaultStatusEvery = 10
	defaultAlertEvery  = 3

	// healthyBonus is the selection multiplier for a target with no
	// failure streak; each consecutive failure shaves one point off.
	healthyBonus = 5
)

// Scheduler owns the harvest loop. Run is single-threaded; one target
// harvests at a time.
type Scheduler struct {
	cfg       Config
	targets   map[string]permit.Target
	names     []string
	routes    *routing.Table
	tracker   *health.Tracker
	harvester Harvester
	alerter   permit.Alerter
	publisher permit.Publisher
	logger    *zap.Logger

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error

	cycles   int
	records  int
	partials int
}

// New assembles a Scheduler. publisher may be nil.
func New(cfg Config, targets []permit.Target, routes *routing.Table, tracker *health.Tracker,
	harvester Harvester, alerter permit.Alerter, publisher permit.Publisher, logger *zap.Logger) *Scheduler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxPacing <= 0 {
		cfg.MaxPacing = defaultMaxPacing
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = defaultStatusEvery
	}
	if cfg.AlertEvery <= 0 {
		cfg.AlertEvery = defaultAlertEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byName := make(map[string]permit.Target, len(targets))
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
		names = append(names, t.Name)
	}
	sort.Strings(names)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Scheduler{
		cfg:       cfg,
		targets:   byName,
		names:     names,
		routes:    routes,
		tracker:   tracker,
		harvester: harvester,
		alerter:   alerter,
		publisher: publisher,
		logger:    logger,
		rng:       rand.New(rand.NewSource(seed)),
		sleep:     sleepContext,
	}
}

// Run loops until ctx is canceled, then logs a final summary. Cancellation
// is a clean shutdown, not an error.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.names) == 0 {
		return fmt.Errorf("no targets configured")
	}
	s.logger.Info("scheduler starting",
		zap.Int("targets", len(s.names)),
		zap.Duration("max_pacing", s.cfg.MaxPacing))

	for ctx.Err() == nil {
		name := s.pick()
		// The jitter sleep sits between selection and invocation so even
		// the first harvest of the process lands at a random point in the
		// pacing window.
		if err := s.pace(ctx); err != nil {
			break
		}
		s.runCycle(ctx, name)
		s.cycles++
		if s.cycles%s.cfg.StatusEvery == 0 {
			s.reportStatus()
		}
	}

	s.summarize()
	return nil
}

// pick draws the next target. Each target contributes
// priority × max(1, healthyBonus − failure streak) entries to the pool, so
// healthy high-priority targets dominate without starving anyone.
func (s *Scheduler) pick() string {
	var pool []string
	for _, name := range s.names {
		for i := 0; i < s.weight(name); i++ {
			pool = append(pool, name)
		}
	}
	return pool[s.rng.Intn(len(pool))]
}

func (s *Scheduler) weight(name string) int {
	priority := s.targets[name].Priority
	if priority <= 0 {
		priority = 1
	}
	bonus := healthyBonus - s.tracker.Failures(name)
	if bonus < 1 {
		bonus = 1
	}
	return priority * bonus
}

func (s *Scheduler) runCycle(ctx context.Context, name string) {
	target := s.targets[name]
	if dest, entry := s.routes.Resolve(name); entry != nil {
		routed, ok := s.targets[dest]
		if !ok {
			s.logger.Error("routing destination missing from target set",
				zap.String("target", name),
				zap.String("route_to", dest))
			return
		}
		target = routed
	}

	metrics.IncActiveHarvests()
	defer metrics.DecActiveHarvests()

	var result permit.Result
	attemptCfg := retry.Config{
		MaxRetries:   s.cfg.MaxAttempts - 1,
		InitialDelay: s.cfg.RetryDelay,
		// Harvest failures of any flavor get the remaining attempts;
		// only shutdown stops the cycle early.
		Classify: func(error) bool { return ctx.Err() == nil },
	}
	err := retry.Do(ctx, attemptCfg, func(ctx context.Context) error {
		r, herr := s.harvester.Harvest(ctx, name, target)
		if herr != nil {
			return herr
		}
		// An empty result means every source came up dry; that burns an
		// attempt the same way a hard failure does.
		if len(r.Permits) == 0 {
			return fmt.Errorf("target %s: no records from any source", target.Name)
		}
		result = r
		return nil
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.recordFailure(ctx, name, err)
		return
	}
	s.recordSuccess(ctx, name, result)
}

func (s *Scheduler) recordSuccess(ctx context.Context, name string, result permit.Result) {
	s.tracker.RecordSuccess(name)
	s.records += len(result.Permits)
	if result.Partial {
		s.partials++
	}
	metrics.ObserveCycle("success")
	metrics.ObserveHarvest(result.Target, result.Adapter, len(result.Permits), result.Partial)

	if s.publisher != nil && s.cfg.Topic != "" {
		if id, err := s.publisher.Publish(ctx, s.cfg.Topic, result); err != nil {
			s.logger.Warn("publishing batch failed",
				zap.String("target", name),
				zap.Error(err))
		} else {
			s.logger.Debug("batch published",
				zap.String("target", name),
				zap.String("message_id", id))
		}
	}
}

func (s *Scheduler) recordFailure(ctx context.Context, name string, err error) {
	failures := s.tracker.RecordFailure(name)
	metrics.ObserveCycle("failure")
	metrics.ObserveFailure(name)
	s.logger.Warn("harvest cycle failed",
		zap.String("target", name),
		zap.Int("consecutive_failures", failures),
		zap.Error(err))

	if failures%s.cfg.AlertEvery != 0 {
		return
	}
	s.tracker.RecordAlert(name)
	metrics.ObserveAlert(name)
	if aerr := s.alerter.Alert(ctx, name, err.Error(), failures); aerr != nil {
		s.logger.Error("alert delivery failed",
			zap.String("target", name),
			zap.Error(aerr))
	}
}

// pace waits a random interval before the next cycle.
func (s *Scheduler) pace(ctx context.Context) error {
	delay := time.Duration(s.rng.Int63n(int64(s.cfg.MaxPacing) + 1))
	metrics.ObservePacingDelay(delay)
	s.logger.Debug("pacing before next cycle", zap.Duration("delay", delay))
	return s.sleep(ctx, delay)
}

func (s *Scheduler) reportStatus() {
	snapshot := s.tracker.Snapshot()
	fields := []zap.Field{
		zap.Int("cycles", s.cycles),
		zap.Int("records", s.records),
		zap.Int("partial_batches", s.partials),
	}
	for name, st := range snapshot {
		fields = append(fields, zap.Object(name, healthField(st)))
	}
	s.logger.Info("harvest status", fields...)
}

func (s *Scheduler) summarize() {
	s.logger.Info("scheduler stopped",
		zap.Int("cycles", s.cycles),
		zap.Int("records", s.records),
		zap.Int("partial_batches", s.partials))
}

// healthMarshaler renders one target's health state inline in a status log
// line.
type healthMarshaler permit.HealthState

func (h healthMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("consecutive_failures", h.ConsecutiveFailures)
	enc.AddInt("alerts", h.Alerts)
	if h.LastSuccess != nil {
		enc.AddTime("last_success", *h.LastSuccess)
	}
	return nil
}

func healthField(st permit.HealthState) healthMarshaler {
	return healthMarshaler(st)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
