// Package packager implements the ObjectListPackager (C4): a
// single-threaded worker that serialises ObjectStore contents onto a
// Transmitter, one object in flight at a time, in deadline order.
package packager

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/5g-mag/mbs-traffic-function/pkg/events"
	"github.com/5g-mag/mbs-traffic-function/pkg/log"
	"github.com/5g-mag/mbs-traffic-function/pkg/metrics"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
	"github.com/5g-mag/mbs-traffic-function/pkg/transmitter"
)

// EventObjectSendCompleted fires (asynchronously) on the packager's own
// bus once a submitted object's TOI has finished transmitting.
const EventObjectSendCompleted = "ObjectSendCompleted"

// ObjectSendCompletedPayload carries the object_id for
// EventObjectSendCompleted.
type ObjectSendCompletedPayload struct{ ObjectID string }

// defaultExpiry is used for an object's FDT expiry when its Metadata has
// no CacheExpires set (the original's "now + 60s" fallback).
const defaultExpiry = 60 * time.Second

// PackageItem is one queued object id plus optional deadline, ordered by
// (has-deadline, then deadline ascending) like IngestItem.
type PackageItem struct {
	ObjectID string
	Deadline *time.Time
}

// Packager serialises a store's objects onto a Transmitter.
type Packager struct {
	sessionID string
	store     *objectstore.Store
	bus       *events.Bus
	log       zerolog.Logger

	txConfig transmitter.Config
	newTx    func(transmitter.Config) (transmitter.Transmitter, error)

	mu             sync.Mutex
	queue          []PackageItem
	inFlight       bool
	queuedTOI      transmitter.TOI
	queuedObjectID string
	submittedAt    time.Time
	fileDescs      map[string]*transmitter.FileDescription

	tx transmitter.Transmitter

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a packager for sessionID (used only to label the
// mbstf_packager_queue_depth gauge) that will lazily construct its
// Transmitter (via txConfig) on the first iteration once txConfig has a
// destination address, whether or not the queue is empty.
func New(sessionID string, store *objectstore.Store, txConfig transmitter.Config) *Packager {
	return &Packager{
		sessionID: sessionID,
		store:     store,
		bus:       events.NewBus("packager"),
		log:       log.WithComponent("packager"),
		txConfig:  txConfig,
		newTx: func(cfg transmitter.Config) (transmitter.Transmitter, error) {
			return transmitter.NewUDPTransmitter(cfg)
		},
		fileDescs: make(map[string]*transmitter.FileDescription),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Bus returns the packager's event bus.
func (p *Packager) Bus() *events.Bus { return p.bus }

// Start launches the packager's worker goroutine.
func (p *Packager) Start() {
	go p.run()
}

// Stop cancels the worker, joins it, and tears down the transmitter and
// bus.
func (p *Packager) Stop() {
	close(p.stopCh)
	<-p.doneCh
	p.mu.Lock()
	tx := p.tx
	p.mu.Unlock()
	if tx != nil {
		_ = tx.Close()
	}
	p.bus.Close()
}

// Add enqueues item, re-sorting the queue by policy: items with a
// deadline sort earliest-first; items without a deadline sort after all
// items with a deadline.
func (p *Packager) Add(item PackageItem) {
	p.mu.Lock()
	p.queue = append(p.queue, item)
	sortByPolicy(p.queue)
	depth := len(p.queue)
	p.mu.Unlock()
	metrics.PackagerQueueDepth.WithLabelValues(p.sessionID).Set(float64(depth))
}

func sortByPolicy(items []PackageItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Deadline == nil && b.Deadline == nil {
			return false
		}
		if a.Deadline == nil {
			return false
		}
		if b.Deadline == nil {
			return true
		}
		return a.Deadline.Before(*b.Deadline)
	})
}

func (p *Packager) run() {
	defer close(p.doneCh)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.step()
		}
	}
}

func (p *Packager) step() {
	p.ensureTransmitter()

	p.mu.Lock()
	if len(p.queue) == 0 || p.inFlight || p.tx == nil {
		p.mu.Unlock()
		return
	}
	item := p.queue[0]
	p.mu.Unlock()

	obj, err := p.store.Get(item.ObjectID)
	if err != nil {
		// Object vanished (e.g. expired/removed) before it could be sent;
		// drop the stale queue entry.
		p.mu.Lock()
		p.popFront(item.ObjectID)
		p.mu.Unlock()
		return
	}

	fd := p.fileDescriptionFor(item.ObjectID, obj)

	toi, err := p.tx.Send(fd)
	if err != nil {
		p.log.Error().Err(err).Str("object_id", item.ObjectID).Msg("transmitter send failed")
		return
	}

	p.mu.Lock()
	p.inFlight = true
	p.queuedTOI = toi
	p.queuedObjectID = item.ObjectID
	p.submittedAt = time.Now()
	p.popFront(item.ObjectID)
	p.mu.Unlock()

	p.tx.RunOne(context.Background())
}

// popFront removes the head of the queue if it matches objectID. Caller
// holds p.mu.
func (p *Packager) popFront(objectID string) {
	if len(p.queue) > 0 && p.queue[0].ObjectID == objectID {
		p.queue = p.queue[1:]
		metrics.PackagerQueueDepth.WithLabelValues(p.sessionID).Set(float64(len(p.queue)))
	}
}

func (p *Packager) ensureTransmitter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tx != nil || p.txConfig.DestAddr == "" {
		return
	}
	tx, err := p.newTx(p.txConfig)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to construct transmitter")
		return
	}
	tx.OnCompletion(p.onCompletion)
	p.tx = tx
}

func (p *Packager) onCompletion(toi transmitter.TOI) {
	p.mu.Lock()
	if !p.inFlight || toi != p.queuedTOI {
		p.mu.Unlock()
		p.log.Error().Uint64("toi", uint64(toi)).Msg("unscheduled completion")
		return
	}
	objectID := p.queuedObjectID
	submittedAt := p.submittedAt
	p.inFlight = false
	p.mu.Unlock()

	metrics.ObjectsSentTotal.Inc()
	metrics.SendDuration.Observe(time.Since(submittedAt).Seconds())

	p.log.Debug().Str("object_id", objectID).Uint64("toi", uint64(toi)).Msg("object send completed")
	ev := events.NewEvent(EventObjectSendCompleted, ObjectSendCompletedPayload{ObjectID: objectID})
	p.bus.SendAsynchronous(&ev)
}

// fileDescriptionFor reuses the FileDescription already known for
// objectID (first from the packager's own cache, falling back to the
// one carried on obj's Metadata, since both are meant to reference the
// same record per spec 3's FileDescription-ownership invariant) or
// creates a new one; it then refreshes the reused/new record in place
// and stashes it both in the packager's cache and back onto the
// store's Metadata, so a later pull refetch of the same object id (via
// PullObjectIngester's carry-over of oldMeta.FileDescription) keeps
// referencing this same FDT entry.
func (p *Packager) fileDescriptionFor(objectID string, obj objectstore.Object) *transmitter.FileDescription {
	p.mu.Lock()
	fd := p.fileDescs[objectID]
	p.mu.Unlock()

	if fd == nil {
		if existing, ok := obj.Metadata.FileDescription.(*transmitter.FileDescription); ok && existing != nil {
			fd = existing
		} else {
			fd = &transmitter.FileDescription{}
		}
	}

	fd.ContentLocation = contentLocation(obj.Metadata)
	fd.ContentType = obj.Metadata.MediaType
	fd.ETag = obj.Metadata.EntityTag
	fd.Content = obj.Data
	if obj.Metadata.CacheExpires != nil {
		fd.Expires = *obj.Metadata.CacheExpires
	} else {
		fd.Expires = time.Now().Add(defaultExpiry)
	}

	p.mu.Lock()
	p.fileDescs[objectID] = fd
	p.mu.Unlock()
	p.store.SetFileDescription(objectID, fd)

	return fd
}

// contentLocation derives the advertised content-location: if the
// object's fetched URL starts with its ingest base URL, the ingest base
// is substituted for the distribution base; otherwise the fetched URL is
// advertised as-is.
func contentLocation(meta objectstore.Metadata) string {
	if meta.ObjIngestBaseURL != "" && meta.ObjDistributionBaseURL != "" &&
		strings.HasPrefix(meta.FetchedURL, meta.ObjIngestBaseURL) {
		return meta.ObjDistributionBaseURL + strings.TrimPrefix(meta.FetchedURL, meta.ObjIngestBaseURL)
	}
	return meta.FetchedURL
}
