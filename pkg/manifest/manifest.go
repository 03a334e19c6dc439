// Package manifest implements the ManifestHandler plug-point (C5):
// media-type-keyed translation of a streaming manifest object into a
// schedule of pull items, plus a priority-ordered Registry mirroring
// the original's ManifestHandlerFactory.
package manifest

import (
	"time"

	"github.com/5g-mag/mbs-traffic-function/pkg/apperror"
	"github.com/5g-mag/mbs-traffic-function/pkg/ingest"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
)

// Handler is the contract every manifest type implements.
type Handler interface {
	// NextIngestItems returns the earliest wall-clock time the caller
	// should next invoke this, plus the items to schedule before then.
	NextIngestItems() (time.Time, []ingest.IngestItem)
	// DefaultDeadline is used when the scheduler has no other bound.
	DefaultDeadline() time.Duration
	// Update is called with a freshly re-fetched copy of the manifest
	// object; it returns true if the manifest's content differs from
	// what this handler currently holds, or returns an *apperror.Error
	// with KindInvalidManifest if data fails to parse/validate.
	Update(data []byte, meta objectstore.Metadata) (bool, error)
}

// Constructor builds a Handler for the given object if it recognises
// it, returning an error if it does not. On an *apperror.Error with
// KindInvalidManifest the Registry stops and returns that error; on any
// other error it tries the next registered constructor.
type Constructor func(obj objectstore.Object) (Handler, error)

type registration struct {
	priority    int
	constructor Constructor
}

// Registry holds constructors in priority order per content type, with
// an empty-string bucket used as the fallback searched after a
// specific content type's bucket is exhausted.
type Registry struct {
	byContentType map[string][]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byContentType: make(map[string][]registration)}
}

// Register adds constructor under contentType (use "" to register a
// fallback usable for any content type), ordered by descending
// priority; equal priorities keep registration order.
func (r *Registry) Register(contentType string, priority int, constructor Constructor) {
	list := r.byContentType[contentType]
	i := 0
	for i < len(list) && list[i].priority >= priority {
		i++
	}
	list = append(list, registration{})
	copy(list[i+1:], list[i:])
	list[i] = registration{priority: priority, constructor: constructor}
	r.byContentType[contentType] = list
}

// Make tries every constructor registered for obj's media type in
// priority order, falling back to the empty-content-type bucket. It
// returns the first Handler a constructor successfully builds, the first
// KindInvalidManifest error a constructor returns, or nil, nil if none
// claim the object.
func (r *Registry) Make(obj objectstore.Object) (Handler, error) {
	for _, contentType := range []string{obj.Metadata.MediaType, ""} {
		for _, reg := range r.byContentType[contentType] {
			h, err := reg.constructor(obj)
			if err == nil {
				return h, nil
			}
			if ae, ok := apperror.As(err); ok && ae.Kind == apperror.KindInvalidManifest {
				return nil, ae
			}
			// Any other error just means this constructor didn't
			// recognise the object; try the next one.
		}
		if contentType == "" {
			break
		}
	}
	return nil, nil
}
