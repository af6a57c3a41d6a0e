package headless

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopRenderAlwaysErrors(t *testing.T) {
	t.Parallel()

	r := NewNoop()
	markup, err := r.Render(context.Background(), "https://permits.example.gov/search", "table")
	require.Error(t, err)
	require.Nil(t, markup)
	require.Contains(t, err.Error(), "not configured")
}
