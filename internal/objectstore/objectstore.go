// Package objectstore provides the presigned-URL side channel used when a
// query response is too large to return inline (§4.5.1) or for CSV report
// downloads (§6). The core never imports a cloud SDK directly; callers
// depend on this interface instead.
package objectstore

import (
	"context"
	"fmt"
	"time"
)

// DefaultPresignExpiry is the presigned URL lifetime specified in §4.5.1/§6.
const DefaultPresignExpiry = 1 * time.Hour

// Client stores a payload and returns a time-limited download URL for it.
type Client interface {
	// Put stores body under bucket/key and returns a presigned GET URL
	// valid for expiry.
	Put(ctx context.Context, bucket, key string, body []byte, contentType string, expiry time.Duration) (presignedURL string, err error)
}

// StubClient is a deterministic in-memory Client for tests and local
// development, standing in for any S3-compatible implementation in
// production.
type StubClient struct {
	objects map[string][]byte
	urlBase string
}

var _ Client = (*StubClient)(nil)

// NewStubClient builds a StubClient whose presigned URLs are formed as
// urlBase/bucket/key.
func NewStubClient(urlBase string) *StubClient {
	return &StubClient{objects: make(map[string][]byte), urlBase: urlBase}
}

func (c *StubClient) Put(_ context.Context, bucket, key string, body []byte, _ string, _ time.Duration) (string, error) {
	c.objects[bucket+"/"+key] = body

	return fmt.Sprintf("%s/%s/%s", c.urlBase, bucket, key), nil
}

// Get returns a previously-stored object, for test assertions.
func (c *StubClient) Get(bucket, key string) ([]byte, bool) {
	body, ok := c.objects[bucket+"/"+key]

	return body, ok
}
