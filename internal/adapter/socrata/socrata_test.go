package socrata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/permitstream/harvester/internal/permit"
	"github.com/permitstream/harvester/internal/retry"
)

type fakeFetcher struct {
	lastQuery map[string]string
	body      string
}

func (f *fakeFetcher) Fetch(_ context.Context, req permit.FetchRequest) (permit.FetchResponse, error) {
	f.lastQuery = map[string]string{}
	for key := range req.Query {
		f.lastQuery[key] = req.Query.Get(key)
	}
	return permit.FetchResponse{StatusCode: 200, Body: []byte(f.body)}, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestFetchPageBuildsLookbackWindow(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{body: `[{"permit_number":"X-1","original_address1":"1 Main St","issue_date":"2026-08-01"}]`}
	clock := fixedClock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	a := New(Config{
		Name:         "austin-soda",
		URL:          "http://soda.test/resource/3syk.json",
		PageSize:     1000,
		LookbackDays: 90,
		Fields:       permit.DefaultFieldMap(),
	}, fetcher, clock, nil)

	page, err := a.FetchPage(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, page.Permits, 1)
	require.Equal(t, "X-1", page.Permits[0].PermitNumber)
	require.Equal(t, "2026-08-01", page.Permits[0].IssuedDate)
	require.True(t, page.Done, "short page ends pagination")

	require.Equal(t, "1000", fetcher.lastQuery["$limit"])
	require.Equal(t, "0", fetcher.lastQuery["$offset"])
	require.Equal(t, "issue_date >= '2026-05-30' AND issue_date <= '2026-08-28'", fetcher.lastQuery["$where"])
}

func TestFetchPageEmptyArrayIsDone(t *testing.T) {
	t.Parallel()

	a := New(Config{Name: "x", URL: "http://soda.test/r.json", Fields: permit.DefaultFieldMap()},
		&fakeFetcher{body: `[]`}, fixedClock{}, nil)

	page, err := a.FetchPage(context.Background(), 3000)
	require.NoError(t, err)
	require.Empty(t, page.Permits)
	require.True(t, page.Done)
	require.Equal(t, 3000, page.Next)
}

func TestFetchPageMalformedBodyIsTransient(t *testing.T) {
	t.Parallel()

	a := New(Config{Name: "x", URL: "http://soda.test/r.json", Fields: permit.DefaultFieldMap()},
		&fakeFetcher{body: `<html>service unavailable</html>`}, fixedClock{}, nil)

	_, err := a.FetchPage(context.Background(), 0)
	require.Error(t, err)
	require.True(t, retry.IsTransient(err), "an HTML error page in place of JSON is a source hiccup")
}
