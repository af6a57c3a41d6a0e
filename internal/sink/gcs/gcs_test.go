package gcs

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitstream/harvester/internal/permit"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixedIDs struct{ id string }

func (g fixedIDs) NewID() (string, error) { return g.id, nil }

type fakePutter struct {
	paths        []string
	contentTypes []string
	bodies       [][]byte
	err          error
}

func (p *fakePutter) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	p.paths = append(p.paths, path)
	p.contentTypes = append(p.contentTypes, contentType)
	p.bodies = append(p.bodies, body)
	return "gs://bucket/" + path, p.err
}

func testClock() fixedClock {
	return fixedClock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
}

func TestWriteUploadsBatchJSON(t *testing.T) {
	t.Parallel()

	putter := &fakePutter{}
	s := NewSink(putter, "batches", testClock(), fixedIDs{id: "run-1"})

	result := permit.Result{
		Target:  "austin",
		Adapter: "arcgis",
		Permits: []permit.Permit{{PermitNumber: "P-1", Address: "100 Main St"}},
	}
	require.NoError(t, s.Write(context.Background(), result))

	require.Len(t, putter.paths, 1)
	assert.Equal(t, "batches/austin/2026-08-28/run-1.json", putter.paths[0])
	assert.Equal(t, "application/json", putter.contentTypes[0])

	var decoded permit.Result
	require.NoError(t, json.Unmarshal(putter.bodies[0], &decoded))
	assert.Equal(t, result.Target, decoded.Target)
	require.Len(t, decoded.Permits, 1)
	assert.Equal(t, "P-1", decoded.Permits[0].PermitNumber)
}

func TestWritePartialMarksObjectName(t *testing.T) {
	t.Parallel()

	putter := &fakePutter{}
	s := NewSink(putter, "", testClock(), fixedIDs{id: "run-2"})

	result := permit.Result{Target: "dallas", Partial: true}
	require.NoError(t, s.WritePartial(context.Background(), result))

	require.Len(t, putter.paths, 1)
	assert.Equal(t, "batches/dallas/2026-08-28/run-2_partial.json", putter.paths[0])
}

func TestNewBlobStoreRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore(context.Background(), nil, "bucket")
	require.Error(t, err)
}
