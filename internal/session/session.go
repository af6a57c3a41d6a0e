// Package session runs one complete harvest for one target: walking the
// target's adapters in order, paging each until exhaustion, deduplicating
// records, and persisting whatever the first productive adapter yields.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/adapter"
	"github.com/permitstream/harvester/internal/permit"
	"github.com/permitstream/harvester/internal/retry"
)

// Builder turns endpoint configuration into live adapters.
type Builder func(endpoints []permit.EndpointConfig) ([]permit.Adapter, error)

// Scanner finds endpoints embedded in a target's fallback pages.
type Scanner interface {
	Scan(ctx context.Context, cfg permit.DiscoveryConfig) []permit.EndpointConfig
}

// Config controls a Session.
type Config struct {
	// MaxRecords caps how many records one harvest collects; zero means
	// no cap.
	MaxRecords int
	// PagePause is the courtesy wait between page fetches.
	PagePause time.Duration
	// FailureThreshold is the consecutive-page-failure count that aborts
	// the current adapter.
	FailureThreshold int
	// Retry applies to each individual page fetch.
	Retry retry.Config
}

const (
	defaultPagePause        = 500 * time.Millisecond
	defaultFailureThreshold = 3
)

// Session harvests targets one at a time. Rosters persist across harvests
// so discovered endpoints and demotions carry over between cycles.
type Session struct {
	cfg     Config
	build   Builder
	scanner Scanner
	sink    permit.Sink
	logger  *zap.Logger

	mu      sync.Mutex
	rosters map[string]*adapter.Roster

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Session. scanner may be nil when discovery is disabled
// globally.
func New(cfg Config, build Builder, scanner Scanner, sink permit.Sink, logger *zap.Logger) *Session {
	if cfg.PagePause <= 0 {
		cfg.PagePause = defaultPagePause
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:     cfg,
		build:   build,
		scanner: scanner,
		sink:    sink,
		logger:  logger,
		rosters: make(map[string]*adapter.Roster),
		sleep:   sleepContext,
	}
}

// Harvest runs the full adapter chain for target. original is the name the
// result is attributed to, which differs from target.Name when the target
// was routed to a replacement feed. The first adapter that yields at least
// one record wins; its records are written to the sink and the harvest
// stops there. When every source comes up empty the result is empty and
// non-partial, not an error.
func (s *Session) Harvest(ctx context.Context, original string, target permit.Target) (permit.Result, error) {
	roster, err := s.roster(target)
	if err != nil {
		return permit.Result{}, fmt.Errorf("target %s: building adapters: %w", target.Name, err)
	}

	var unproductive []string
	result, done, err := s.tryAdapters(ctx, original, target.Name, roster.Ordered(), &unproductive)
	if err != nil {
		return result, err
	}

	if !done && target.Discovery.Enabled && s.scanner != nil {
		if discovered := s.discover(ctx, target, roster); len(discovered) > 0 {
			result, done, err = s.tryAdapters(ctx, original, target.Name, discovered, &unproductive)
			if err != nil {
				return result, err
			}
		}
	}

	// Every adapter that failed this cycle goes to the back of the order,
	// including configured ones that came up empty before discovery ran.
	roster.Demote(unproductive...)

	if done {
		return result, nil
	}
	s.logger.Warn("all sources exhausted, returning empty result",
		zap.String("target", target.Name))
	return permit.Result{Target: original}, nil
}

// tryAdapters drains adapters in order until one yields records. The bool
// result reports whether a productive adapter was found; adapters tried
// before the winner are appended to unproductive.
func (s *Session) tryAdapters(ctx context.Context, original, resolved string, adapters []permit.Adapter, unproductive *[]string) (permit.Result, bool, error) {
	for _, a := range adapters {
		permits, partial, err := s.drain(ctx, a)
		if ctx.Err() != nil {
			return permit.Result{}, false, ctx.Err()
		}
		if err != nil {
			s.logger.Warn("adapter exhausted without records",
				zap.String("target", resolved),
				zap.String("adapter", a.Name()),
				zap.Error(err))
			*unproductive = append(*unproductive, a.Name())
			continue
		}
		if len(permits) == 0 {
			s.logger.Debug("adapter returned no records",
				zap.String("target", resolved),
				zap.String("adapter", a.Name()))
			*unproductive = append(*unproductive, a.Name())
			continue
		}

		result := permit.Result{
			Target:  original,
			Adapter: a.Name(),
			Permits: permits,
			Partial: partial,
		}
		if err := s.persist(ctx, result); err != nil {
			return result, true, fmt.Errorf("target %s: persisting %d records: %w", original, len(permits), err)
		}
		s.logger.Info("harvest complete",
			zap.String("target", original),
			zap.String("adapter", a.Name()),
			zap.Int("records", len(permits)),
			zap.Bool("partial", partial))
		return result, true, nil
	}
	return permit.Result{}, false, nil
}

// drain pages through one adapter until it reports done, the record cap is
// hit, or the consecutive-failure threshold trips. A threshold trip with
// records already in hand returns them flagged partial instead of failing.
func (s *Session) drain(ctx context.Context, a permit.Adapter) ([]permit.Permit, bool, error) {
	seen := make(map[string]struct{})
	var collected []permit.Permit
	cursor := 0
	failures := 0

	for {
		var page permit.Page
		err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
			p, ferr := a.FetchPage(ctx, cursor)
			page = p
			return ferr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			failures++
			s.logger.Warn("page fetch failed",
				zap.String("adapter", a.Name()),
				zap.Int("cursor", cursor),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
			if failures >= s.cfg.FailureThreshold {
				if len(collected) > 0 {
					s.logger.Warn("saving partial batch before giving up",
						zap.String("adapter", a.Name()),
						zap.Int("records", len(collected)))
					return collected, true, nil
				}
				return nil, false, fmt.Errorf("adapter %s: %d consecutive page failures: %w", a.Name(), failures, err)
			}
			// Skip past the failed page when the adapter gave us a new
			// cursor; otherwise the threshold bounds the re-attempts.
			if page.Next > cursor {
				cursor = page.Next
			}
			if err := s.pause(ctx); err != nil {
				return nil, false, err
			}
			continue
		}

		failures = 0
		for _, p := range page.Permits {
			if _, dup := seen[p.PermitNumber]; dup {
				continue
			}
			seen[p.PermitNumber] = struct{}{}
			collected = append(collected, p)
			if s.cfg.MaxRecords > 0 && len(collected) >= s.cfg.MaxRecords {
				s.logger.Info("record cap reached",
					zap.String("adapter", a.Name()),
					zap.Int("cap", s.cfg.MaxRecords))
				return collected, false, nil
			}
		}
		if page.Done {
			return collected, false, nil
		}
		if page.Next > cursor {
			cursor = page.Next
		} else {
			cursor++
		}
		if err := s.pause(ctx); err != nil {
			return nil, false, err
		}
	}
}

func (s *Session) persist(ctx context.Context, result permit.Result) error {
	if result.Partial {
		return s.sink.WritePartial(ctx, result)
	}
	return s.sink.Write(ctx, result)
}

// discover scans the target's fallback pages and returns only the adapters
// that are new to the roster.
func (s *Session) discover(ctx context.Context, target permit.Target, roster *adapter.Roster) []permit.Adapter {
	endpoints := s.scanner.Scan(ctx, target.Discovery)
	if len(endpoints) == 0 {
		return nil
	}
	built, err := s.build(endpoints)
	if err != nil {
		s.logger.Warn("building discovered adapters failed",
			zap.String("target", target.Name),
			zap.Error(err))
		return nil
	}
	before := roster.Len()
	roster.Append(built...)
	return roster.Ordered()[before:]
}

func (s *Session) roster(target permit.Target) (*adapter.Roster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rosters[target.Name]; ok {
		return r, nil
	}
	adapters, err := s.build(target.Endpoints)
	if err != nil {
		return nil, err
	}
	r := adapter.NewRoster(adapters...)
	s.rosters[target.Name] = r
	return r, nil
}

func (s *Session) pause(ctx context.Context) error {
	return s.sleep(ctx, s.cfg.PagePause)
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
