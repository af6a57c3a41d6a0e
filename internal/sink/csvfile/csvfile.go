// Package csvfile writes harvested batches as dated CSV files on the
// local filesystem.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/permit"
)

var header = []string{"permit_number", "address", "type", "value", "issued_date", "status"}

// Config captures the parameters for the CSV sink.
type Config struct {
	// BaseDir is the root directory batches are written under.
	BaseDir string `mapstructure:"base_dir"`
}

// Sink writes one CSV file per batch, named after the target and harvest
// date. Partial batches get a distinct suffix so downstream loaders can
// treat them differently.
type Sink struct {
	baseDir string
	clock   permit.Clock
	logger  *zap.Logger
}

// New creates a CSV sink, creating the base directory if needed.
func New(cfg Config, clock permit.Clock, logger *zap.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{baseDir: cfg.BaseDir, clock: clock, logger: logger}, nil
}

// Write persists a complete batch.
func (s *Sink) Write(_ context.Context, result permit.Result) error {
	return s.write(result, false)
}

// WritePartial persists a batch saved before the session finished.
func (s *Sink) WritePartial(_ context.Context, result permit.Result) error {
	return s.write(result, true)
}

func (s *Sink) write(result permit.Result, partial bool) error {
	path := s.path(result.Target, partial)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close() //nolint:errcheck // already failing
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range result.Permits {
		row := []string{
			p.PermitNumber,
			p.Address,
			p.Type,
			strconv.FormatFloat(p.Value, 'f', 2, 64),
			p.IssuedDate,
			p.Status,
		}
		if err := w.Write(row); err != nil {
			f.Close() //nolint:errcheck // already failing
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close() //nolint:errcheck // already failing
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	s.logger.Info("batch written",
		zap.String("target", result.Target),
		zap.String("path", path),
		zap.Int("records", len(result.Permits)),
		zap.Bool("partial", partial))
	return nil
}

// path builds the output file name. A routed target writes under its
// original name, keeping one file lineage per configured target.
func (s *Sink) path(target string, partial bool) string {
	date := s.clock.Now().Format("2006-01-02")
	name := fmt.Sprintf("%s_permits_%s.csv", sanitize(target), date)
	if partial {
		name = fmt.Sprintf("%s_permits_%s_partial.csv", sanitize(target), date)
	}
	return filepath.Join(s.baseDir, name)
}

func sanitize(target string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, target)
}
