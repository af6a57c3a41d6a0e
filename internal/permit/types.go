// Package permit defines core types shared across subsystems.
package permit

import (
	"net/http"
	"net/url"
	"time"
)

// Unknown is the sentinel used for absent dates and statuses.
const Unknown = "unknown"

// Permit is one normalized harvested record. Permits are immutable once
// constructed; the dedup key is PermitNumber only.
type Permit struct {
	PermitNumber string  `json:"permit_number"`
	Address      string  `json:"address"`
	Type         string  `json:"type"`
	Value        float64 `json:"value"`
	IssuedDate   string  `json:"issued_date"`
	Status       string  `json:"status"`
}

// Result is the outcome of one harvest session for one target. Permits keep
// the order they were collected in. Partial is true when the session aborted
// before exhausting all pages or endpoints.
type Result struct {
	Target  string   `json:"target"`
	Adapter string   `json:"adapter"`
	Permits []Permit `json:"permits"`
	Partial bool     `json:"partial"`
}

// Target names one external data source to harvest. Identity is stable for
// the process lifetime; the endpoint list may grow via auto-discovery.
type Target struct {
	Name      string           `json:"name"`
	Priority  int              `json:"priority" mapstructure:"priority"`
	Endpoints []EndpointConfig `json:"endpoints" mapstructure:"endpoints"`
	Discovery DiscoveryConfig  `json:"discovery" mapstructure:"discovery"`
	State     string           `json:"state" mapstructure:"state"`
}

// EndpointConfig declares one fetch strategy for a target.
type EndpointConfig struct {
	Name     string   `json:"name" mapstructure:"name"`
	Kind     string   `json:"kind" mapstructure:"kind"`
	URL      string   `json:"url" mapstructure:"url"`
	PageSize int      `json:"page_size" mapstructure:"page_size"`
	Selector string   `json:"selector" mapstructure:"selector"`
	Fields   FieldMap `json:"fields" mapstructure:"fields"`
}

// Supported endpoint kinds.
const (
	KindArcGIS    = "arcgis"
	KindSocrata   = "socrata"
	KindCSV       = "bulk_csv"
	KindHTMLTable = "html_table"
	KindRendered  = "browser_rendered"
)

// DiscoveryConfig lists fallback pages scanned for embedded service URLs
// when a target's configured endpoints stop producing records.
type DiscoveryConfig struct {
	Enabled       bool     `json:"enabled" mapstructure:"enabled"`
	FallbackPages []string `json:"fallback_pages" mapstructure:"fallback_pages"`
}

// Page is the unit returned by one fetch_page call. Next is the cursor for
// the following call; Done signals the adapter has no more data.
type Page struct {
	Permits []Permit
	Next    int
	Done    bool
}

// HealthState is the per-target failure bookkeeping kept by the tracker.
type HealthState struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	Alerts              int        `json:"alerts"`
}

// RoutingEntry redirects a known-broken target to a working substitute.
// FallbackCount is the last known-good record count, informational only.
type RoutingEntry struct {
	RouteTo       string `json:"route_to" mapstructure:"route_to"`
	Reason        string `json:"reason" mapstructure:"reason"`
	FallbackCount int    `json:"fallback_count" mapstructure:"fallback_count"`
}

// FetchRequest captures everything needed to fetch one page of raw bytes.
type FetchRequest struct {
	URL     string
	Query   url.Values
	Headers http.Header
}

// FetchResponse is the raw result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
