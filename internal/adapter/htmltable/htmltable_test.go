package htmltable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/permitstream/harvester/internal/permit"
)

type fakeFetcher struct {
	body string
}

func (f *fakeFetcher) Fetch(context.Context, permit.FetchRequest) (permit.FetchResponse, error) {
	return permit.FetchResponse{StatusCode: 200, Body: []byte(f.body)}, nil
}

const tablePage = `<html><body>
<table class="permit-table">
<tr><th>Permit</th><th>Address</th><th>Type</th><th>Value</th><th>Date</th><th>Status</th></tr>
<tr><td>H-1</td><td>1 Elm St</td><td>Residential</td><td>$2,500</td><td>2026-04-01</td><td>issued</td></tr>
<tr><td>H-2</td><td>2 Elm St</td><td>Commercial</td><td>n/a</td><td>bad date</td><td></td></tr>
<tr><td></td><td>no permit number</td></tr>
</table>
</body></html>`

func TestFetchPageParsesTable(t *testing.T) {
	t.Parallel()

	a := New(Config{Name: "albuquerque", URL: "http://city.test/permits"}, &fakeFetcher{body: tablePage}, nil)
	page, err := a.FetchPage(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, page.Done, "html tables are single-page")
	require.Len(t, page.Permits, 2)

	require.Equal(t, "H-1", page.Permits[0].PermitNumber)
	require.InDelta(t, 2500.0, page.Permits[0].Value, 0.001)
	require.Equal(t, "2026-04-01", page.Permits[0].IssuedDate)

	require.InDelta(t, 0.0, page.Permits[1].Value, 0.001)
	require.Equal(t, permit.Unknown, page.Permits[1].IssuedDate)
	require.Equal(t, permit.Unknown, page.Permits[1].Status)
}

func TestFetchPageMissingTableYieldsZeroRecords(t *testing.T) {
	t.Parallel()

	a := New(Config{Name: "x", URL: "http://city.test/permits"}, &fakeFetcher{body: "<html><body><p>maintenance</p></body></html>"}, nil)
	page, err := a.FetchPage(context.Background(), 0)
	require.NoError(t, err, "an absent table is not an error")
	require.Empty(t, page.Permits)
	require.True(t, page.Done)
}

func TestFetchPageNonZeroCursorIsDone(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{body: tablePage}
	a := New(Config{Name: "x", URL: "http://city.test/permits"}, fetcher, nil)
	page, err := a.FetchPage(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, page.Permits)
	require.True(t, page.Done)
}

func TestParseHonorsCustomSelectorFirst(t *testing.T) {
	t.Parallel()

	markup := `<table id="other"><tr><th>h</th></tr><tr><td>IGNORED</td><td>x</td></tr></table>
<table class="wanted"><tr><th>h</th></tr><tr><td>W-1</td><td>1 Main</td></tr></table>`
	permits, err := Parse([]byte(markup), "table.wanted")
	require.NoError(t, err)
	require.Len(t, permits, 1)
	require.Equal(t, "W-1", permits[0].PermitNumber)
}
