package evidence

import (
	"context"
	"sync"

	"bitbucket.org/stayshield/disputes_backend/utils"
)

// BlobStore is the evidence object sink. Keys are content-addressed so a
// repeated Put of the same bytes is a no-op.
type BlobStore interface {
	Put(ctx context.Context, objectKey string, data []byte, contentType string) error
	Exists(ctx context.Context, objectKey string) (bool, error)
	Delete(ctx context.Context, objectKey string) error
}

type GCSBlobStore struct{}

func (s *GCSBlobStore) Put(ctx context.Context, objectKey string, data []byte, contentType string) error {
	exists, err := utils.ObjectExistsInGCS(ctx, objectKey)
	if err == nil && exists {
		return nil
	}
	return utils.UploadBytesToGCS(ctx, objectKey, data, contentType)
}

func (s *GCSBlobStore) Exists(ctx context.Context, objectKey string) (bool, error) {
	return utils.ObjectExistsInGCS(ctx, objectKey)
}

func (s *GCSBlobStore) Delete(ctx context.Context, objectKey string) error {
	return utils.DeleteObjectFromGCS(ctx, objectKey)
}

// MemoryBlobStore keeps objects in a map. Used by tests and by local runs
// without GCS credentials.
type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Put(ctx context.Context, objectKey string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[objectKey]; ok {
		return nil
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	s.objects[objectKey] = copied
	return nil
}

func (s *MemoryBlobStore) Delete(ctx context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectKey)
	return nil
}

func (s *MemoryBlobStore) Exists(ctx context.Context, objectKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectKey]
	return ok, nil
}

func (s *MemoryBlobStore) Get(objectKey string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectKey]
	return data, ok
}

func (s *MemoryBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
