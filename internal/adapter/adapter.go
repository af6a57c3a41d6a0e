// Package adapter builds and orders the fetch strategies for each target.
package adapter

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/adapter/arcgis"
	"github.com/permitstream/harvester/internal/adapter/csvdump"
	"github.com/permitstream/harvester/internal/adapter/htmltable"
	"github.com/permitstream/harvester/internal/adapter/rendered"
	"github.com/permitstream/harvester/internal/adapter/socrata"
	"github.com/permitstream/harvester/internal/permit"
)

// Deps carries the shared collaborators adapters are built from.
type Deps struct {
	Fetcher  permit.Fetcher
	Renderer permit.Renderer
	Clock    permit.Clock

	DefaultPageSize int
	LookbackDays    int
	State           string

	Logger *zap.Logger
}

// Build constructs one adapter per endpoint, preserving order. Unknown kinds
// are a configuration fault and abort startup.
func Build(endpoints []permit.EndpointConfig, deps Deps) ([]permit.Adapter, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	adapters := make([]permit.Adapter, 0, len(endpoints))
	for _, ep := range endpoints {
		built, err := buildOne(ep, deps)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, built)
	}
	return adapters, nil
}

func buildOne(ep permit.EndpointConfig, deps Deps) (permit.Adapter, error) {
	if ep.URL == "" {
		return nil, fmt.Errorf("endpoint %q: url is required", ep.Name)
	}
	pageSize := ep.PageSize
	if pageSize <= 0 {
		pageSize = deps.DefaultPageSize
	}
	fields := ep.Fields.Merge(permit.DefaultFieldMap())

	switch ep.Kind {
	case permit.KindArcGIS:
		return arcgis.New(arcgis.Config{
			Name:     ep.Name,
			URL:      ep.URL,
			PageSize: pageSize,
			Fields:   fields,
			State:    deps.State,
		}, deps.Fetcher, deps.Logger), nil
	case permit.KindSocrata:
		return socrata.New(socrata.Config{
			Name:         ep.Name,
			URL:          ep.URL,
			PageSize:     pageSize,
			LookbackDays: deps.LookbackDays,
			Fields:       fields,
			State:        deps.State,
		}, deps.Fetcher, deps.Clock, deps.Logger), nil
	case permit.KindCSV:
		return csvdump.New(csvdump.Config{
			Name:     ep.Name,
			URL:      ep.URL,
			PageSize: pageSize,
			Fields:   fields,
			State:    deps.State,
		}, deps.Fetcher, deps.Logger), nil
	case permit.KindHTMLTable:
		return htmltable.New(htmltable.Config{
			Name:     ep.Name,
			URL:      ep.URL,
			Selector: ep.Selector,
		}, deps.Fetcher, deps.Logger), nil
	case permit.KindRendered:
		if deps.Renderer == nil {
			return nil, fmt.Errorf("endpoint %q: browser_rendered endpoint requires headless rendering", ep.Name)
		}
		return rendered.New(rendered.Config{
			Name:     ep.Name,
			URL:      ep.URL,
			Selector: ep.Selector,
		}, deps.Renderer, deps.Logger), nil
	default:
		return nil, fmt.Errorf("endpoint %q: unknown kind %q", ep.Name, ep.Kind)
	}
}
