// Package gcs ships harvested batches to Google Cloud Storage as JSON
// objects.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/permitstream/harvester/internal/permit"
)

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// NewBlobStore creates a GCS-backed blob store and verifies the bucket is
// reachable, so a misconfigured bucket fails at startup rather than on the
// first harvest.
func NewBlobStore(ctx context.Context, client *storage.Client, bucket string) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("bucket %q attributes: %w", bucket, err)
	}
	return &BlobStore{client: client, bucket: bucket}, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// putter is the slice of BlobStore the sink needs.
type putter interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Sink writes each batch as one JSON object named by target, harvest date
// and run ID.
type Sink struct {
	store  putter
	prefix string
	clock  permit.Clock
	ids    permit.IDGenerator
}

// NewSink creates a Sink writing under prefix.
func NewSink(store putter, prefix string, clock permit.Clock, ids permit.IDGenerator) *Sink {
	if prefix == "" {
		prefix = "batches"
	}
	return &Sink{store: store, prefix: prefix, clock: clock, ids: ids}
}

// Write uploads a complete batch.
func (s *Sink) Write(ctx context.Context, result permit.Result) error {
	return s.put(ctx, result, false)
}

// WritePartial uploads an aborted session's batch.
func (s *Sink) WritePartial(ctx context.Context, result permit.Result) error {
	return s.put(ctx, result, true)
}

func (s *Sink) put(ctx context.Context, result permit.Result, partial bool) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	path, err := s.objectPath(result.Target, partial)
	if err != nil {
		return err
	}
	if _, err := s.store.PutObject(ctx, path, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload batch for %s: %w", result.Target, err)
	}
	return nil
}

func (s *Sink) objectPath(target string, partial bool) (string, error) {
	runID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	name := runID + ".json"
	if partial {
		name = runID + "_partial.json"
	}
	date := s.clock.Now().Format("2006-01-02")
	return fmt.Sprintf("%s/%s/%s/%s", s.prefix, target, date, name), nil
}
