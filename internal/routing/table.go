// Package routing resolves targets whose feeds have moved to a
// consolidated or regional replacement feed. Resolution is a single hop:
// a destination is never itself re-resolved, so chains and cycles in the
// configuration cannot cause unbounded redirects.
package routing

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/permit"
)

// Table maps retired target names to their replacement feeds. The table
// is immutable after Load.
type Table struct {
	entries map[string]permit.RoutingEntry
	logger  *zap.Logger
}

// Load validates entries against the set of known target names and
// returns the table. Every destination must name a configured target;
// a destination pointing at nothing would silently drop harvests, so
// that is a startup failure rather than a warning.
func Load(entries map[string]permit.RoutingEntry, known map[string]bool, logger *zap.Logger) (*Table, error) {
	for source, entry := range entries {
		if entry.RouteTo == "" {
			return nil, fmt.Errorf("routing entry for %q has no destination", source)
		}
		if !known[entry.RouteTo] {
			return nil, fmt.Errorf("routing entry %q points at unknown target %q", source, entry.RouteTo)
		}
		if source == entry.RouteTo {
			return nil, fmt.Errorf("routing entry %q points at itself", source)
		}
	}

	table := make(map[string]permit.RoutingEntry, len(entries))
	for source, entry := range entries {
		table[source] = entry
	}
	return &Table{entries: table, logger: logger}, nil
}

// Resolve returns the effective target name for name. When name has a
// routing entry the destination is returned along with the entry;
// otherwise name itself comes back unchanged. The destination is taken
// as-is even when it has its own entry.
func (t *Table) Resolve(name string) (string, *permit.RoutingEntry) {
	entry, ok := t.entries[name]
	if !ok {
		return name, nil
	}
	t.logger.Info("target routed to replacement feed",
		zap.String("target", name),
		zap.String("route_to", entry.RouteTo),
		zap.String("reason", entry.Reason),
		zap.Int("fallback_count", entry.FallbackCount))
	copied := entry
	return entry.RouteTo, &copied
}

// Routed reports whether name has a routing entry.
func (t *Table) Routed(name string) bool {
	_, ok := t.entries[name]
	return ok
}

// Len returns the number of routing entries.
func (t *Table) Len() int {
	return len(t.entries)
}
