package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/5g-mag/mbs-traffic-function/pkg/events"
	"github.com/5g-mag/mbs-traffic-function/pkg/httputil"
	"github.com/5g-mag/mbs-traffic-function/pkg/log"
	"github.com/5g-mag/mbs-traffic-function/pkg/metrics"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
)

// EventObjectPushStart is sent synchronously before a push request's
// body is accumulated, giving subscribers a chance to reject it via
// Request.SetError or Event.PreventDefault.
const EventObjectPushStart = "ObjectPushStart"

// EventObjectPushBlockReceived and EventObjectPushTrailersReceived are
// supplemented from the original's PushObjectIngester: finer-grained
// progress events a controller may observe, beyond the
// ObjectPushStart the distilled spec requires. Delivered asynchronously
// on a best-effort basis.
const (
	EventObjectPushBlockReceived    = "ObjectPushBlockReceived"
	EventObjectPushTrailersReceived = "ObjectPushTrailersReceived"
)

// maxPushBodyBytes is the hard cap on a single push upload.
const maxPushBodyBytes = 65536

// defaultPushCacheExpiry is the cache lifetime assigned to pushed
// objects (spec 4.4's "default 10 minutes", distinct from the pull
// ingester's 10-second fallback).
const defaultPushCacheExpiry = 10 * time.Minute

// PushStartPayload carries the in-flight Request for EventObjectPushStart.
type PushStartPayload struct{ Request *Request }

// PushProgressPayload carries the object id and bytes seen so far for
// EventObjectPushBlockReceived / EventObjectPushTrailersReceived.
type PushProgressPayload struct {
	ObjectID   string
	BytesSoFar int
}

// Request is the façade a subscriber inspects/mutates when handling
// ObjectPushStart.
type Request struct {
	Method  string
	Path    string
	URL     string
	Headers *httputil.Headers

	mu        sync.Mutex
	completed bool
	status    int
	reason    string
}

// SetError marks the request as rejected with the given status and
// reason, provided the request has not already completed. Returns false
// if it was too late (already completed).
func (r *Request) SetError(status int, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return false
	}
	r.status, r.reason, r.completed = status, reason, true
	return true
}

func (r *Request) errorStatus() (int, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.reason, r.status != 0
}

// PushObjectIngester embeds an HTTP upload server bound to an ephemeral
// port on all interfaces.
type PushObjectIngester struct {
	store *objectstore.Store
	bus   *events.Bus
	log   zerolog.Logger

	srv      *http.Server
	listener net.Listener

	readyOnce sync.Once
	readyCh   chan struct{}
	prefix    string
}

// NewPushObjectIngester constructs a push ingester writing into store.
func NewPushObjectIngester(store *objectstore.Store) *PushObjectIngester {
	p := &PushObjectIngester{
		store:   store,
		bus:     events.NewBus("push-ingester"),
		log:     log.WithComponent("push-ingester"),
		readyCh: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handle)
	p.srv = &http.Server{Handler: mux}
	return p
}

// Bus returns the push ingester's event bus, so a controller can
// subscribe to ObjectPushStart to validate the inbound URL/ID.
func (p *PushObjectIngester) Bus() *events.Bus { return p.bus }

// Start binds the listener and begins serving. It returns once the
// listener is bound so GetIngestServerPrefix can be called immediately
// after.
func (p *PushObjectIngester) Start() error {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return fmt.Errorf("push ingester: listen: %w", err)
	}
	p.listener = ln
	p.readyOnce.Do(func() {
		host, port, _ := net.SplitHostPort(ln.Addr().String())
		if host == "" || host == "::" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		p.prefix = fmt.Sprintf("http://%s:%s/", host, port)
		close(p.readyCh)
	})

	go func() {
		if err := p.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.log.Error().Err(err).Msg("push ingest server stopped unexpectedly")
		}
	}()
	return nil
}

// Stop shuts down the HTTP server and the ingester's bus.
func (p *PushObjectIngester) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.srv.Shutdown(ctx)
	p.bus.Close()
}

// GetIngestServerPrefix blocks until the server is bound, then returns
// "http://<host>:<port>/". This value is written back into the
// session's objDistributionData.objIngestBaseUrl.
func (p *PushObjectIngester) GetIngestServerPrefix() string {
	<-p.readyCh
	return p.prefix
}

func (p *PushObjectIngester) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut, http.MethodPost, "PUSH":
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		metrics.PushUploadsTotal.WithLabelValues("method_not_allowed").Inc()
		return
	}

	headers := httputil.NewHeaders()
	for name, values := range r.Header {
		for _, v := range values {
			headers.Add(name, v)
		}
	}

	ingestBase := p.GetIngestServerPrefix()
	url := ingestBase + strings.TrimPrefix(r.URL.Path, "/")

	req := &Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		URL:     url,
		Headers: headers,
	}

	ev := events.NewEvent(EventObjectPushStart, PushStartPayload{Request: req})
	ok := p.bus.SendSynchronous(&ev)

	if status, reason, set := req.errorStatus(); set {
		http.Error(w, reason, status)
		metrics.PushUploadsTotal.WithLabelValues("rejected_by_subscriber").Inc()
		return
	}
	if !ok {
		http.Error(w, "rejected by subscriber", http.StatusBadRequest)
		metrics.PushUploadsTotal.WithLabelValues("rejected_by_subscriber").Inc()
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBodyBytes+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		metrics.PushUploadsTotal.WithLabelValues("body_read_error").Inc()
		return
	}
	if len(body) > maxPushBodyBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		metrics.PushBodyRejectedTotal.Inc()
		metrics.PushUploadsTotal.WithLabelValues("body_too_large").Inc()
		return
	}

	objectID := strings.TrimPrefix(r.URL.Path, "/")
	progress := events.NewEvent(EventObjectPushBlockReceived, PushProgressPayload{ObjectID: objectID, BytesSoFar: len(body)})
	p.bus.SendAsynchronous(&progress)

	now := time.Now()
	expires := now.Add(defaultPushCacheExpiry)
	meta := objectstore.Metadata{
		MediaType:        r.Header.Get("Content-Type"),
		OriginalURL:      url,
		FetchedURL:       url,
		AcquisitionID:    r.URL.Path,
		ObjIngestBaseURL: ingestBase,
		CacheExpires:     &expires,
		Modified:         now,
	}
	p.store.Add(objectID, body, meta)

	trailers := events.NewEvent(EventObjectPushTrailersReceived, PushProgressPayload{ObjectID: objectID, BytesSoFar: len(body)})
	p.bus.SendAsynchronous(&trailers)

	metrics.PushUploadsTotal.WithLabelValues("success").Inc()
	w.WriteHeader(http.StatusOK)
}
