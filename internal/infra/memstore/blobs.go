package memstore

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"
)

// BlobStore is an in-memory Storage. Presigned URLs use the memory://
// scheme and are only meaningful inside this process.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	now   func() time.Time
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte), now: time.Now}
}

func ObjectKey(requestID string, kind domain.BlobKind) string {
	return path.Join("certificates", requestID, string(kind)+".pem")
}

func (b *BlobStore) Put(_ context.Context, content []byte, requestID string, kind domain.BlobKind) (string, error) {
	if requestID == "" || kind == "" {
		return "", fmt.Errorf("%w: request id and kind are required", domain.ErrInvalidArgument)
	}
	key := ObjectKey(requestID, kind)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), content...)
	return key, nil
}

func (b *BlobStore) Get(_ context.Context, location string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.blobs[location]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", domain.ErrNotFound, location)
	}
	return append([]byte(nil), content...), nil
}

func (b *BlobStore) PresignedURL(_ context.Context, location string, ttl time.Duration) (string, error) {
	b.mu.Lock()
	_, ok := b.blobs[location]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: object %s", domain.ErrNotFound, location)
	}
	u := url.URL{Scheme: "memory", Path: "/" + location}
	q := u.Query()
	q.Set("expires", strconv.FormatInt(b.now().Add(ttl).Unix(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *BlobStore) Delete(_ context.Context, location string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[location]; !ok {
		return fmt.Errorf("%w: object %s", domain.ErrNotFound, location)
	}
	delete(b.blobs, location)
	return nil
}
