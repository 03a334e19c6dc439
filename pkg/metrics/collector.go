package metrics

import (
	"time"

	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
	"github.com/5g-mag/mbs-traffic-function/pkg/session"
)

// Collector periodically refreshes the gauges that cannot be updated
// incrementally at their point of mutation: the current object count
// per store and the current session count per (operating mode,
// acquisition method) pair.
type Collector struct {
	registry *session.Registry
	stores   func() map[string]*objectstore.Store
	stopCh   chan struct{}
}

// NewCollector creates a collector over registry's live sessions and
// whatever set of named ObjectStores storesFn currently reports (cmd/mbstf
// reports its single shared store under the name "default").
func NewCollector(registry *session.Registry, storesFn func() map[string]*objectstore.Store) *Collector {
	return &Collector{
		registry: registry,
		stores:   storesFn,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectSessionMetrics()
	c.collectObjectMetrics()
}

func (c *Collector) collectSessionMetrics() {
	sessions := c.registry.Snapshot()
	counts := make(map[[2]string]int)
	for _, s := range sessions {
		dd := s.Req.DistSession.ObjDistributionData
		counts[[2]string{dd.OperatingMode, dd.ObjAcquisitionMethod}]++
	}
	SessionsTotal.Reset()
	for key, count := range counts {
		SessionsTotal.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}

func (c *Collector) collectObjectMetrics() {
	if c.stores == nil {
		return
	}
	total := 0
	for _, store := range c.stores() {
		total += store.Len()
	}
	ObjectsStoredTotal.Set(float64(total))
}
