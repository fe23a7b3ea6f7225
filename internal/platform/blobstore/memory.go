package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore keeps blobs in process memory. Used in development and
// tests when no bucket is configured.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	maxSize int64
	baseURL string
}

// NewInMemoryBlobStore returns a store whose URLs are baseURL + "/" + id.
func NewInMemoryBlobStore(maxSize int64, baseURL string) *InMemoryBlobStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob), maxSize: maxSize, baseURL: baseURL}
}

func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := validate(meta); err != nil {
		return nil, err
	}
	data, hash, err := readLimited(content, s.maxSize)
	if err != nil {
		return nil, err
	}

	meta.ID = uuid.NewString()
	meta.Size = int64(len(data))
	meta.Hash = hash
	meta.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

func (s *InMemoryBlobStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return &meta, nil
}

func (s *InMemoryBlobStore) ListByPatient(ctx context.Context, patientID, category string, limit, offset int) ([]*BlobMetadata, int, error) {
	return s.Search(ctx, SearchParams{PatientID: patientID, Category: category, Limit: limit, Offset: offset})
}

func (s *InMemoryBlobStore) Search(_ context.Context, params SearchParams) ([]*BlobMetadata, int, error) {
	s.mu.RLock()
	var matched []*BlobMetadata
	for _, b := range s.blobs {
		if matches(&b.metadata, params) {
			m := b.metadata
			matched = append(matched, &m)
		}
	}
	s.mu.RUnlock()

	items, total := page(matched, params.Limit, params.Offset)
	return items, total, nil
}

func (s *InMemoryBlobStore) URL(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	_, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return "", ErrBlobNotFound
	}
	return s.baseURL + "/" + id, nil
}
