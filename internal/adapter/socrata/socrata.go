// Package socrata fetches permits from Socrata open-data resources.
package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/permit"
	"github.com/permitstream/harvester/internal/retry"
)

// Config identifies one Socrata resource.
type Config struct {
	Name         string
	URL          string
	PageSize     int
	LookbackDays int
	// DateColumn is the SoQL column used for the lookback window filter.
	DateColumn string
	Fields     permit.FieldMap
	State      string
}

// Adapter implements permit.Adapter over the Socrata SODA API. The cursor is
// the $offset; a short or empty page signals done.
type Adapter struct {
	cfg     Config
	fetcher permit.Fetcher
	clock   permit.Clock
	logger  *zap.Logger
}

// New builds an Adapter.
func New(cfg Config, fetcher permit.Fetcher, clock permit.Clock, logger *zap.Logger) *Adapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.DateColumn == "" {
		cfg.DateColumn = "issue_date"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, fetcher: fetcher, clock: clock, logger: logger}
}

// Name identifies the adapter inside a target's roster.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// FetchPage issues one bounded SoQL query at the given offset.
func (a *Adapter) FetchPage(ctx context.Context, cursor int) (permit.Page, error) {
	query := url.Values{}
	query.Set("$limit", strconv.Itoa(a.cfg.PageSize))
	query.Set("$offset", strconv.Itoa(cursor))
	query.Set("$order", a.cfg.DateColumn+" DESC")
	if a.cfg.LookbackDays > 0 && a.clock != nil {
		end := a.clock.Now()
		start := end.AddDate(0, 0, -a.cfg.LookbackDays)
		query.Set("$where", fmt.Sprintf("%s >= '%s' AND %s <= '%s'",
			a.cfg.DateColumn, start.Format("2006-01-02"),
			a.cfg.DateColumn, end.Format("2006-01-02")))
	}

	resp, err := a.fetcher.Fetch(ctx, permit.FetchRequest{URL: a.cfg.URL, Query: query})
	if err != nil {
		return permit.Page{Next: cursor + a.cfg.PageSize}, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return permit.Page{Next: cursor + a.cfg.PageSize}, retry.Transient(fmt.Errorf("decode socrata response: %w", err))
	}
	if len(rows) == 0 {
		return permit.Page{Next: cursor, Done: true}, nil
	}

	permits := make([]permit.Permit, 0, len(rows))
	for _, row := range rows {
		p, err := a.cfg.Fields.Extract(row)
		if err != nil {
			a.logger.Debug("skipping malformed record", zap.String("adapter", a.cfg.Name), zap.Error(err))
			continue
		}
		if !permit.AddressInState(p.Address, a.cfg.State) {
			continue
		}
		permits = append(permits, p)
	}

	return permit.Page{
		Permits: permits,
		Next:    cursor + a.cfg.PageSize,
		Done:    len(rows) < a.cfg.PageSize,
	}, nil
}
