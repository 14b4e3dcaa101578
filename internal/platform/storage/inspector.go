package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// ErrObjectNotFound is returned when the inspected object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectInfo is the subset of object attributes the analysis pipeline relies on.
type ObjectInfo struct {
	Bucket      string
	Name        string
	ContentType string
	Size        int64
	Generation  int64
	CreatedAt   time.Time
	Metadata    map[string]string
}

// IsImage reports whether the stored content type is an image.
func (o ObjectInfo) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(o.ContentType), "image/")
}

// Inspector reads object metadata without downloading content.
type Inspector struct {
	client *gcs.Client
}

// NewInspector constructs an Inspector backed by the provided Cloud Storage client.
func NewInspector(client *gcs.Client) (*Inspector, error) {
	if client == nil {
		return nil, errors.New("storage inspector: client is required")
	}
	return &Inspector{client: client}, nil
}

// Inspect fetches object attributes.
func (i *Inspector) Inspect(ctx context.Context, bucket, object string) (ObjectInfo, error) {
	if i == nil || i.client == nil {
		return ObjectInfo{}, errors.New("storage inspector: client is not initialised")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectInfo{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ObjectInfo{}, errInvalidObject
	}

	attrs, err := i.client.Bucket(bucket).Object(object).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ObjectInfo{}, ErrObjectNotFound
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("storage inspector: attrs %s: %w", object, err)
	}

	return ObjectInfo{
		Bucket:      attrs.Bucket,
		Name:        attrs.Name,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		Generation:  attrs.Generation,
		CreatedAt:   attrs.Created,
		Metadata:    attrs.Metadata,
	}, nil
}
