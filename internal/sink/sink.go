// Package sink ships harvested batches to their destinations.
package sink

import (
	"context"

	"github.com/permitstream/harvester/internal/permit"
)

// Multi fans one batch out to several sinks. The first failure aborts the
// fan-out; partial writes to later sinks are preferable to silently
// swallowing a persistence error.
type Multi struct {
	sinks []permit.Sink
}

// NewMulti creates a Multi from the given sinks.
func NewMulti(sinks ...permit.Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Write delivers the batch to every sink in order.
func (m *Multi) Write(ctx context.Context, result permit.Result) error {
	for _, s := range m.sinks {
		if err := s.Write(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// WritePartial delivers an aborted session's batch to every sink in order.
func (m *Multi) WritePartial(ctx context.Context, result permit.Result) error {
	for _, s := range m.sinks {
		if err := s.WritePartial(ctx, result); err != nil {
			return err
		}
	}
	return nil
}
