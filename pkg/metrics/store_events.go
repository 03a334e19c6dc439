package metrics

import (
	"github.com/5g-mag/mbs-traffic-function/pkg/events"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
)

// StoreEventRecorder is an events.Subscriber that bumps
// ObjectsAddedTotal/ObjectsExpiredTotal off an ObjectStore's own bus.
// It lives here rather than in pkg/objectstore so that package stays
// free of a dependency on pkg/metrics; cmd/mbstf subscribes one of
// these per store it creates.
type StoreEventRecorder struct{}

// NewStoreEventRecorder returns a recorder ready to subscribe to a
// Store's Bus().
func NewStoreEventRecorder() *StoreEventRecorder { return &StoreEventRecorder{} }

func (r *StoreEventRecorder) ProcessEvent(event *events.Event, _ *events.Bus) {
	switch event.Name {
	case objectstore.EventObjectAdded:
		ObjectsAddedTotal.Inc()
	case objectstore.EventObjectExpired:
		ObjectsExpiredTotal.Inc()
	}
}
