package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestFailureStreakGrowsAndResets(t *testing.T) {
	t.Parallel()

	tr := New(fixedClock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)})

	assert.Equal(t, 1, tr.RecordFailure("austin"))
	assert.Equal(t, 2, tr.RecordFailure("austin"))
	assert.Equal(t, 3, tr.RecordFailure("austin"))

	tr.RecordSuccess("austin")
	assert.Equal(t, 0, tr.Failures("austin"))
	assert.Equal(t, 1, tr.RecordFailure("austin"))
}

func TestTargetsTrackedIndependently(t *testing.T) {
	t.Parallel()

	tr := New(fixedClock{now: time.Now()})
	tr.RecordFailure("austin")
	tr.RecordFailure("austin")
	tr.RecordFailure("dallas")

	assert.Equal(t, 2, tr.Failures("austin"))
	assert.Equal(t, 1, tr.Failures("dallas"))
	assert.Equal(t, 0, tr.Failures("houston"))
}

func TestSuccessStampsClockTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	tr := New(fixedClock{now: now})
	tr.RecordSuccess("austin")

	snap := tr.Snapshot()
	require.Contains(t, snap, "austin")
	require.NotNil(t, snap["austin"].LastSuccess)
	assert.Equal(t, now, *snap["austin"].LastSuccess)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	tr := New(fixedClock{now: time.Now()})
	tr.RecordFailure("austin")

	snap := tr.Snapshot()
	st := snap["austin"]
	st.ConsecutiveFailures = 99

	assert.Equal(t, 1, tr.Failures("austin"))
}

func TestAlertCounter(t *testing.T) {
	t.Parallel()

	tr := New(fixedClock{now: time.Now()})
	tr.RecordAlert("austin")
	tr.RecordAlert("austin")

	assert.Equal(t, 2, tr.Snapshot()["austin"].Alerts)
}

func TestConcurrentRecording(t *testing.T) {
	t.Parallel()

	tr := New(fixedClock{now: time.Now()})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordFailure("austin")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Failures("austin"))
}
