// Package htmltable parses permits out of fixed-structure HTML tables.
package htmltable

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/permit"
	"github.com/permitstream/harvester/internal/retry"
)

// Config identifies one page carrying a permit table.
type Config struct {
	Name string
	URL  string
	// Selector overrides the default table selectors tried in order.
	Selector string
}

// defaultSelectors are tried in order when no explicit selector is set.
var defaultSelectors = []string{"table.permit-table", "table.resultsTable", "table"}

// Adapter implements permit.Adapter for static HTML tables. There is no
// true pagination; the whole table is one page. A missing or malformed
// table yields zero records, not an error.
type Adapter struct {
	cfg     Config
	fetcher permit.Fetcher
	logger  *zap.Logger
}

// New builds an Adapter.
func New(cfg Config, fetcher permit.Fetcher, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Name identifies the adapter inside a target's roster.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// FetchPage fetches the page and parses its table in one shot.
func (a *Adapter) FetchPage(ctx context.Context, cursor int) (permit.Page, error) {
	if cursor > 0 {
		return permit.Page{Next: cursor, Done: true}, nil
	}
	resp, err := a.fetcher.Fetch(ctx, permit.FetchRequest{URL: a.cfg.URL})
	if err != nil {
		return permit.Page{}, err
	}
	permits, err := Parse(resp.Body, a.cfg.Selector)
	if err != nil {
		return permit.Page{}, err
	}
	if len(permits) == 0 {
		a.logger.Debug("no permit table found", zap.String("adapter", a.cfg.Name), zap.String("url", a.cfg.URL))
	}
	return permit.Page{Permits: permits, Next: len(permits), Done: true}, nil
}

// Parse extracts permits from rendered markup. Column order is fixed:
// permit number, address, type, value, issued date, status; rows with fewer
// than two cells are skipped. An unreadable document is transient (truncated
// responses show up this way); an absent table is simply zero records.
func Parse(markup []byte, selector string) ([]permit.Permit, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("parse document: %w", err))
	}

	selectors := defaultSelectors
	if selector != "" {
		selectors = append([]string{selector}, defaultSelectors...)
	}

	var rows *goquery.Selection
	for _, sel := range selectors {
		rows = doc.Find(sel + " tr")
		if rows.Length() > 1 {
			break
		}
	}
	if rows == nil || rows.Length() <= 1 {
		return nil, nil
	}

	var permits []permit.Permit
	rows.Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			// Header row.
			return
		}
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		cell := func(idx int) string {
			if idx >= cells.Length() {
				return ""
			}
			return strings.TrimSpace(cells.Eq(idx).Text())
		}
		number := cell(0)
		if number == "" {
			return
		}
		p := permit.Permit{
			PermitNumber: number,
			Address:      cell(1),
			Type:         cell(2),
			Value:        permit.ParseValue(cell(3)),
			IssuedDate:   permit.NormalizeDate(cell(4)),
			Status:       cell(5),
		}
		if p.Status == "" {
			p.Status = permit.Unknown
		}
		permits = append(permits, p)
	})
	return permits, nil
}
