// Package csvdump fetches permits published as a single bulk CSV download.
package csvdump

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/permit"
	"github.com/permitstream/harvester/internal/retry"
)

// Config identifies one CSV export URL.
type Config struct {
	Name     string
	URL      string
	PageSize int
	Fields   permit.FieldMap
	State    string
}

// Adapter implements permit.Adapter over a full-file CSV export. The file is
// fetched once per session (on cursor 0) and served back in page-size chunks
// so the session's dedup and failure handling stay uniform across adapter
// kinds. The cursor is a row offset into the parsed table.
type Adapter struct {
	cfg     Config
	fetcher permit.Fetcher
	logger  *zap.Logger

	mu   sync.Mutex
	rows []permit.Permit
}

// New builds an Adapter.
func New(cfg Config, fetcher permit.Fetcher, logger *zap.Logger) *Adapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Name identifies the adapter inside a target's roster.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// FetchPage serves one chunk of the parsed table, downloading the file when
// the cursor is at the start.
func (a *Adapter) FetchPage(ctx context.Context, cursor int) (permit.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cursor == 0 || a.rows == nil {
		rows, err := a.download(ctx)
		if err != nil {
			// A failed download consumed no rows, so the cursor must not
			// move; advancing here would drop the head of the file once a
			// later attempt succeeds.
			return permit.Page{Next: cursor}, err
		}
		a.rows = rows
	}

	if cursor >= len(a.rows) {
		return permit.Page{Next: cursor, Done: true}, nil
	}
	end := cursor + a.cfg.PageSize
	if end > len(a.rows) {
		end = len(a.rows)
	}
	return permit.Page{
		Permits: append([]permit.Permit(nil), a.rows[cursor:end]...),
		Next:    end,
		Done:    end == len(a.rows),
	}, nil
}

func (a *Adapter) download(ctx context.Context) ([]permit.Permit, error) {
	resp, err := a.fetcher.Fetch(ctx, permit.FetchRequest{URL: a.cfg.URL})
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(resp.Body))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read csv header: %w", err))
	}

	var rows []permit.Permit
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A torn row does not abort the rest of the file.
			skipped++
			continue
		}
		attrs := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				attrs[col] = record[i]
			}
		}
		p, err := a.cfg.Fields.Extract(attrs)
		if err != nil {
			skipped++
			continue
		}
		if !permit.AddressInState(p.Address, a.cfg.State) {
			skipped++
			continue
		}
		rows = append(rows, p)
	}
	if skipped > 0 {
		a.logger.Debug("skipped csv rows", zap.String("adapter", a.cfg.Name), zap.Int("skipped", skipped))
	}
	return rows, nil
}
