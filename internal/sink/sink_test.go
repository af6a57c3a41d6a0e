package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitstream/harvester/internal/permit"
)

type countingSink struct {
	writes   int
	partials int
	err      error
}

func (s *countingSink) Write(context.Context, permit.Result) error {
	s.writes++
	return s.err
}

func (s *countingSink) WritePartial(context.Context, permit.Result) error {
	s.partials++
	return s.err
}

func TestMultiWritesToAllSinks(t *testing.T) {
	t.Parallel()

	a, b := &countingSink{}, &countingSink{}
	m := NewMulti(a, b)

	require.NoError(t, m.Write(context.Background(), permit.Result{}))
	require.NoError(t, m.WritePartial(context.Background(), permit.Result{}))

	assert.Equal(t, 1, a.writes)
	assert.Equal(t, 1, b.writes)
	assert.Equal(t, 1, a.partials)
	assert.Equal(t, 1, b.partials)
}

func TestMultiStopsOnFirstFailure(t *testing.T) {
	t.Parallel()

	failing := &countingSink{err: errors.New("disk full")}
	after := &countingSink{}
	m := NewMulti(failing, after)

	require.Error(t, m.Write(context.Background(), permit.Result{}))
	assert.Equal(t, 0, after.writes)
}
