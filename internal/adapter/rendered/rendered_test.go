package rendered

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	markup []byte
	err    error
	waited string
}

func (r *fakeRenderer) Render(_ context.Context, _ string, waitSelector string) ([]byte, error) {
	r.waited = waitSelector
	return r.markup, r.err
}

func TestFetchPageParsesRenderedTable(t *testing.T) {
	t.Parallel()

	markup := []byte(`<table><tr><th>h</th></tr><tr><td>R-1</td><td>9 Pine St</td></tr></table>`)
	renderer := &fakeRenderer{markup: markup}
	a := New(Config{Name: "tulsa", URL: "http://city.test/permits"}, renderer, nil)

	page, err := a.FetchPage(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, page.Done)
	require.Len(t, page.Permits, 1)
	require.Equal(t, "R-1", page.Permits[0].PermitNumber)
	require.Equal(t, "table", renderer.waited, "default wait selector")
}

func TestFetchPageTimeoutYieldsZeroRecords(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{err: fmt.Errorf("chromedp run: %w", context.DeadlineExceeded)}
	a := New(Config{Name: "tulsa", URL: "http://city.test/permits"}, renderer, nil)

	page, err := a.FetchPage(context.Background(), 0)
	require.NoError(t, err, "a bounded wait that expires is not an error")
	require.Empty(t, page.Permits)
	require.True(t, page.Done)
}

func TestFetchPagePropagatesRenderFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("browser crashed")
	a := New(Config{Name: "tulsa", URL: "http://city.test/permits"}, &fakeRenderer{err: boom}, nil)

	_, err := a.FetchPage(context.Background(), 0)
	require.ErrorIs(t, err, boom)
}
