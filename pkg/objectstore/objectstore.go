// Package objectstore implements the ObjectStore (C2): a thread-safe,
// event-emitting content cache keyed by object ID, carrying the bytes
// plus Metadata for each object.
package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/5g-mag/mbs-traffic-function/pkg/apperror"
	"github.com/5g-mag/mbs-traffic-function/pkg/events"
	"github.com/5g-mag/mbs-traffic-function/pkg/log"
)

const (
	// EventObjectAdded fires (asynchronously) after an object has been
	// inserted or replaced and the map mutation is visible.
	EventObjectAdded = "ObjectAdded"
	// EventObjectDeleted fires (asynchronously) after an object has been
	// explicitly deleted via Delete.
	EventObjectDeleted = "ObjectDeleted"
	// EventObjectExpired fires (asynchronously) from the optional expiry
	// sweep started by StartExpirySweep.
	EventObjectExpired = "ObjectExpired"

	// defaultCacheExpiry is the original's CACHE_EXPIRES fallback, used
	// when an ingester does not provide one of its own.
	defaultCacheExpiry = 10 * time.Second
)

// ObjectAddedPayload carries the object_id for EventObjectAdded.
type ObjectAddedPayload struct{ ObjectID string }

// ObjectDeletedPayload carries the object_id for EventObjectDeleted.
type ObjectDeletedPayload struct{ ObjectID string }

// ObjectExpiredPayload carries the object_id for EventObjectExpired.
type ObjectExpiredPayload struct{ ObjectID string }

// Metadata describes one stored object. FileDescription is an opaque
// handle owned by the packager (a *transmitter.FileDescription in
// practice) that is carried over between refetches of the same object
// id so the packager can reuse its FDT entry; objectstore never
// interprets it.
type Metadata struct {
	ObjectID               string
	MediaType              string
	OriginalURL            string
	FetchedURL             string
	AcquisitionID          string
	ObjIngestBaseURL       string
	ObjDistributionBaseURL string
	EntityTag              string
	CacheExpires           *time.Time
	Created                time.Time
	Modified               time.Time
	KeepAfterSend          bool
	FileDescription        any
}

// Object is one stored (bytes, Metadata) pair.
type Object struct {
	Data     []byte
	Metadata Metadata
}

// Store is the ObjectStore itself. All operations serialise on a single
// mutex; ObjectAdded/ObjectDeleted/ObjectExpired are delivered through
// the store's own Bus, so handlers execute on the bus's async worker,
// never under the store's mutex.
type Store struct {
	mu      sync.Mutex
	objects map[string]Object
	bus     *events.Bus
}

// NewStore creates an empty object store with its own event bus.
func NewStore(name string) *Store {
	return &Store{
		objects: make(map[string]Object),
		bus:     events.NewBus(name),
	}
}

// Bus returns the store's event bus, so controllers can subscribe to
// ObjectAdded/ObjectDeleted/ObjectExpired.
func (s *Store) Bus() *events.Bus { return s.bus }

// Len returns the number of objects currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Close tears down the store's event bus.
func (s *Store) Close() { s.bus.Close() }

// Add inserts or replaces the object at id, then emits ObjectAdded
// asynchronously once the mutation is visible.
func (s *Store) Add(id string, data []byte, meta Metadata) {
	meta.ObjectID = id
	if meta.Created.IsZero() {
		meta.Created = time.Now()
	}
	meta.Modified = time.Now()

	s.mu.Lock()
	s.objects[id] = Object{Data: data, Metadata: meta}
	s.mu.Unlock()

	ev := events.NewEvent(EventObjectAdded, ObjectAddedPayload{ObjectID: id})
	s.bus.SendAsynchronous(&ev)
}

// GetData returns the bytes for id, or a NotFound apperror.
func (s *Store) GetData(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, apperror.NotFound(fmt.Sprintf("object %q not found", id))
	}
	return obj.Data, nil
}

// GetMetadata returns the Metadata for id, or a NotFound apperror.
func (s *Store) GetMetadata(id string) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return Metadata{}, apperror.NotFound(fmt.Sprintf("object %q not found", id))
	}
	return obj.Metadata, nil
}

// Get returns the full Object for id, or a NotFound apperror.
func (s *Store) Get(id string) (Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return Object{}, apperror.NotFound(fmt.Sprintf("object %q not found", id))
	}
	return obj, nil
}

// Delete removes id and emits ObjectDeleted, or returns a NotFound
// apperror if id is absent.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	_, ok := s.objects[id]
	if ok {
		delete(s.objects, id)
	}
	s.mu.Unlock()

	if !ok {
		return apperror.NotFound(fmt.Sprintf("object %q not found", id))
	}
	ev := events.NewEvent(EventObjectDeleted, ObjectDeletedPayload{ObjectID: id})
	s.bus.SendAsynchronous(&ev)
	return nil
}

// Touch updates id's Metadata in place without emitting ObjectAdded,
// used by the pull ingester's 304 Not Modified handling: the body is
// unchanged, only cache_expires/modified (and anything else the caller
// chooses to carry over in meta) are refreshed.
func (s *Store) Touch(id string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return apperror.NotFound(fmt.Sprintf("object %q not found", id))
	}
	meta.ObjectID = id
	obj.Metadata = meta
	s.objects[id] = obj
	return nil
}

// SetFileDescription stashes the packager's opaque FileDescription
// handle on id's Metadata in place, with no event emitted, so that a
// later pull refetch of the same object id (see PullObjectIngester's
// carry-over of oldMeta.FileDescription) keeps referencing the same FDT
// entry. A no-op if id is absent (the object may have expired out from
// under a still-in-flight send).
func (s *Store) SetFileDescription(id string, fd any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return
	}
	obj.Metadata.FileDescription = fd
	s.objects[id] = obj
}

// Remove silently removes id, reporting whether it was present. Unlike
// Delete it emits no event.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	delete(s.objects, id)
	return ok
}

// RemoveMany silently removes every id in ids, returning the count
// actually removed.
func (s *Store) RemoveMany(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.objects[id]; ok {
			delete(s.objects, id)
			n++
		}
	}
	return n
}

// IsStale reports whether id's CacheExpires is set and in the past.
func (s *Store) IsStale(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return false, apperror.NotFound(fmt.Sprintf("object %q not found", id))
	}
	return isStale(obj.Metadata, time.Now()), nil
}

func isStale(meta Metadata, now time.Time) bool {
	return meta.CacheExpires != nil && meta.CacheExpires.Before(now)
}

// GetStale returns the ids of every object currently stale.
func (s *Store) GetStale() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var ids []string
	for id, obj := range s.objects {
		if isStale(obj.Metadata, now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// FindMetadataByURL returns the Metadata of the first object whose
// original or fetched URL equals url.
func (s *Store) FindMetadataByURL(url string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range s.objects {
		if obj.Metadata.OriginalURL == url || obj.Metadata.FetchedURL == url {
			return obj.Metadata, true
		}
	}
	return Metadata{}, false
}

// DefaultCacheExpiry is the fallback cache lifetime used by ingesters
// that have no more specific expiry (the original's CACHE_EXPIRES).
func DefaultCacheExpiry() time.Duration { return defaultCacheExpiry }

// StartExpirySweep periodically walks the store for stale objects and
// emits ObjectExpired for each, stopping when ctx is cancelled. This is
// a supplement to the query-only staleness API: callers opt in by
// calling this explicitly, matching the original's CHECK_EXPIRY_INTERVAL
// sweep without forcing every store to run one.
func (s *Store) StartExpirySweep(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("objectstore")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, id := range s.GetStale() {
					logger.Debug().Str("object_id", id).Msg("object expired")
					ev := events.NewEvent(EventObjectExpired, ObjectExpiredPayload{ObjectID: id})
					s.bus.SendAsynchronous(&ev)
				}
			}
		}
	}()
}
