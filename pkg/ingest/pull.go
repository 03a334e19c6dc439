// Package ingest implements the two acquisition methods (C3): pull via
// conditional HTTP GET with deadlines, and push via an embedded HTTP
// upload server.
package ingest

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"github.com/rs/zerolog"

	"github.com/5g-mag/mbs-traffic-function/pkg/log"
	"github.com/5g-mag/mbs-traffic-function/pkg/metrics"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
)

// defaultPullTimeout is the per-request timeout applied when an item has
// no deadline, or its remaining time exceeds this value.
const defaultPullTimeout = 10 * time.Second

// connectTimeout bounds the TCP/TLS handshake phase of each request.
const connectTimeout = 500 * time.Millisecond

// pollInterval bounds how long run waits on an empty queue
// before re-checking for cancellation.
const pollInterval = 500 * time.Millisecond

// IngestItem is one queued pull target.
type IngestItem struct {
	ObjectID               string
	URL                    string
	AcquisitionID          string
	ObjIngestBaseURL       string
	ObjDistributionBaseURL string
	Deadline               *time.Time
}

// PullObjectIngester owns a prioritised fetch queue and a worker
// goroutine that issues conditional HTTP GETs against it.
type PullObjectIngester struct {
	store  *objectstore.Store
	client *http.Client
	log    zerolog.Logger

	mu      sync.Mutex
	queue   []IngestItem
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPullObjectIngester constructs a pull ingester writing into store.
// The HTTP client prefers HTTP/2 (per spec 4.3) and applies a 500ms
// connect timeout.
func NewPullObjectIngester(store *objectstore.Store) *PullObjectIngester {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}
	_ = http2.ConfigureTransport(transport)

	return &PullObjectIngester{
		store: store,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("stopped after 10 redirects")
				}
				return nil // follow redirects (default limit of 10)
			},
		},
		log:    log.WithComponent("pull-ingester"),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (p *PullObjectIngester) Start() {
	go p.run()
}

// Stop cancels the worker and joins it.
func (p *PullObjectIngester) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// Fetch re-queues an existing object id with the given deadline (or
// updates its deadline if already queued), sourcing the rest of the
// IngestItem from the object's existing Metadata.
func (p *PullObjectIngester) Fetch(objectID string, deadline *time.Time) {
	p.mu.Lock()
	for i := range p.queue {
		if p.queue[i].ObjectID == objectID {
			p.queue[i].Deadline = deadline
			sortByPolicy(p.queue)
			p.mu.Unlock()
			p.signal()
			return
		}
	}
	p.mu.Unlock()

	meta, err := p.store.GetMetadata(objectID)
	if err != nil {
		p.log.Warn().Str("object_id", objectID).Msg("fetch requested for unknown object id")
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, IngestItem{
		ObjectID:               objectID,
		URL:                    meta.OriginalURL,
		AcquisitionID:          meta.AcquisitionID,
		ObjIngestBaseURL:       meta.ObjIngestBaseURL,
		ObjDistributionBaseURL: meta.ObjDistributionBaseURL,
		Deadline:               deadline,
	})
	sortByPolicy(p.queue)
	p.mu.Unlock()
	p.signal()
}

// FetchItem enqueues a new IngestItem. If metadata already exists for
// its object id this behaves as a refetch via Fetch (deadline update),
// otherwise it is queued as new work.
func (p *PullObjectIngester) FetchItem(item IngestItem) {
	if _, err := p.store.GetMetadata(item.ObjectID); err == nil {
		p.Fetch(item.ObjectID, item.Deadline)
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, item)
	sortByPolicy(p.queue)
	p.mu.Unlock()
	p.signal()
}

func (p *PullObjectIngester) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func sortByPolicy(items []IngestItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Deadline == nil {
			return false
		}
		if b.Deadline == nil {
			return true
		}
		return a.Deadline.Before(*b.Deadline)
	})
}

func (p *PullObjectIngester) run() {
	defer close(p.doneCh)
	for {
		item, ok := p.popNext()
		if !ok {
			select {
			case <-p.stopCh:
				return
			case <-p.wake:
				continue
			case <-time.After(pollInterval):
				continue
			}
		}
		p.ingestOne(item)

		select {
		case <-p.stopCh:
			return
		default:
		}
	}
}

func (p *PullObjectIngester) popNext() (IngestItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return IngestItem{}, false
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	return item, true
}

func (p *PullObjectIngester) ingestOne(item IngestItem) {
	logger := p.log.With().Str("object_id", item.ObjectID).Str("url", item.URL).Logger()

	timeout := defaultPullTimeout
	if item.Deadline != nil {
		remaining := time.Until(*item.Deadline)
		if remaining <= 0 {
			logger.Debug().Msg("deadline already elapsed, skipping fetch")
			metrics.PullFetchesTotal.WithLabelValues("deadline_elapsed").Inc()
			return
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	var oldMeta *objectstore.Metadata
	if m, err := p.store.GetMetadata(item.ObjectID); err == nil {
		oldMeta = &m
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build request")
		metrics.PullFetchesTotal.WithLabelValues("request_build_error").Inc()
		return
	}
	if oldMeta != nil {
		if oldMeta.EntityTag != "" {
			req.Header.Set("If-None-Match", oldMeta.EntityTag)
		}
		if !oldMeta.Modified.IsZero() {
			req.Header.Set("If-Modified-Since", oldMeta.Modified.UTC().Format(http.TimeFormat))
		}
	}

	timer := metrics.NewTimer()
	resp, err := p.client.Do(req)
	timer.ObserveDuration(metrics.PullFetchDuration)
	if err != nil {
		logger.Warn().Err(err).Msg("transport error")
		outcome := "transport_error"
		if ctx.Err() != nil {
			outcome = "timeout"
		}
		metrics.PullFetchesTotal.WithLabelValues(outcome).Inc()
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		p.handleNotModified(item, oldMeta, logger)
		metrics.PullFetchesTotal.WithLabelValues("not_modified").Inc()
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		p.handleSuccess(item, resp, oldMeta, logger)
		metrics.PullFetchesTotal.WithLabelValues("success").Inc()
	default:
		logger.Warn().Int("status", resp.StatusCode).Msg("unexpected status from origin")
		metrics.PullFetchesTotal.WithLabelValues("unexpected_status").Inc()
	}
}

func (p *PullObjectIngester) handleNotModified(item IngestItem, oldMeta *objectstore.Metadata, logger zerolog.Logger) {
	if oldMeta == nil {
		logger.Warn().Msg("received 304 with no prior metadata")
		return
	}
	meta := *oldMeta
	meta.Modified = time.Now()
	meta.CacheExpires = cacheExpiresPtr(meta.Modified, objectstore.DefaultCacheExpiry())
	if err := p.store.Touch(item.ObjectID, meta); err != nil {
		logger.Warn().Err(err).Msg("failed to refresh metadata after 304")
	}
}

func (p *PullObjectIngester) handleSuccess(item IngestItem, resp *http.Response, oldMeta *objectstore.Metadata, logger zerolog.Logger) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("failed reading response body")
		return
	}

	fetchedURL := resp.Request.URL.String()
	now := time.Now()

	meta := objectstore.Metadata{
		ObjectID:               item.ObjectID,
		MediaType:              resp.Header.Get("Content-Type"),
		OriginalURL:            item.URL,
		FetchedURL:             fetchedURL,
		AcquisitionID:          item.AcquisitionID,
		ObjIngestBaseURL:       item.ObjIngestBaseURL,
		ObjDistributionBaseURL: item.ObjDistributionBaseURL,
		Modified:               now,
		CacheExpires:           cacheExpiresPtr(now, maxAge(resp.Header, objectstore.DefaultCacheExpiry())),
		EntityTag:              resp.Header.Get("ETag"),
	}
	if oldMeta != nil {
		meta.FileDescription = oldMeta.FileDescription
		if meta.EntityTag == "" {
			meta.EntityTag = oldMeta.EntityTag
		}
	}

	p.store.Add(item.ObjectID, body, meta)
}

func cacheExpiresPtr(from time.Time, d time.Duration) *time.Time {
	t := from.Add(d)
	return &t
}

func maxAge(h http.Header, fallback time.Duration) time.Duration {
	cc := h.Get("Cache-Control")
	if cc == "" {
		return fallback
	}
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return fallback
}
