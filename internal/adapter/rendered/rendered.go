// Package rendered harvests tables that only exist after browser rendering.
package rendered

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/adapter/htmltable"
	"github.com/permitstream/harvester/internal/permit"
)

// Config identifies one browser-rendered page.
type Config struct {
	Name string
	URL  string
	// Selector is both the element waited for during rendering and the
	// table selector used for parsing.
	Selector string
}

// Adapter implements permit.Adapter by rendering the page headlessly and
// then parsing its table like a static one. A render timeout yields zero
// records rather than an error; the page simply never produced its data.
type Adapter struct {
	cfg      Config
	renderer permit.Renderer
	logger   *zap.Logger
}

// New builds an Adapter.
func New(cfg Config, renderer permit.Renderer, logger *zap.Logger) *Adapter {
	if cfg.Selector == "" {
		cfg.Selector = "table"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, renderer: renderer, logger: logger}
}

// Name identifies the adapter inside a target's roster.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// FetchPage renders the page and parses its table in one shot.
func (a *Adapter) FetchPage(ctx context.Context, cursor int) (permit.Page, error) {
	if cursor > 0 {
		return permit.Page{Next: cursor, Done: true}, nil
	}

	markup, err := a.renderer.Render(ctx, a.cfg.URL, a.cfg.Selector)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("render wait timed out",
				zap.String("adapter", a.cfg.Name), zap.String("url", a.cfg.URL))
			return permit.Page{Done: true}, nil
		}
		return permit.Page{}, err
	}

	permits, err := htmltable.Parse(markup, a.cfg.Selector)
	if err != nil {
		return permit.Page{}, err
	}
	return permit.Page{Permits: permits, Next: len(permits), Done: true}, nil
}
