package permit

import (
	"context"
	"time"
)

// Adapter fetches one page of raw records from a single endpoint. The cursor
// is a numeric offset owned by the caller; adapters translate it into
// whatever the endpoint understands.
type Adapter interface {
	Name() string
	FetchPage(ctx context.Context, cursor int) (Page, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Renderer produces fully rendered markup for pages that require a browser,
// waiting up to its configured timeout for the given selector to appear.
type Renderer interface {
	Render(ctx context.Context, url string, waitSelector string) ([]byte, error)
}

// Sink persists completed result batches. WritePartial is the only call that
// may happen mid-session, on the partial-abort path.
type Sink interface {
	Write(ctx context.Context, result Result) error
	WritePartial(ctx context.Context, result Result) error
}

// Publisher pushes batch completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Alerter delivers a failure alert. Throttling is the scheduler's concern,
// not the alerter's.
type Alerter interface {
	Alert(ctx context.Context, target string, reason string, failures int) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
