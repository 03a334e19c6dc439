package controller

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/5g-mag/mbs-traffic-function/pkg/apperror"
	"github.com/5g-mag/mbs-traffic-function/pkg/events"
	"github.com/5g-mag/mbs-traffic-function/pkg/ingest"
	"github.com/5g-mag/mbs-traffic-function/pkg/log"
	"github.com/5g-mag/mbs-traffic-function/pkg/manifest"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
	"github.com/5g-mag/mbs-traffic-function/pkg/packager"
	"github.com/5g-mag/mbs-traffic-function/pkg/session"
)

// defaultPushID is injected for a streaming PUSH session that doesn't
// declare one explicitly.
const defaultPushID = "manifest"

// validateAcquisitionConfig checks the PULL/PUSH shape shared by every
// manifest-driven controller: PULL requires exactly one pull URL and
// no push id; PUSH requires no pull URLs, defaulting the push id to
// defaultPushID when absent. It mutates s to inject that default.
// Returns whether the session uses PUSH (so the caller knows whether
// to subscribe to ObjectPushStart).
func validateAcquisitionConfig(s *session.Session) (isPush bool, err error) {
	dd := &s.Req.DistSession.ObjDistributionData
	switch dd.ObjAcquisitionMethod {
	case session.AcquisitionMethodPull:
		if len(dd.ObjAcquisitionIdsPull) != 1 {
			return false, apperror.New(apperror.KindSessionConfigError,
				"objAcquisitionIdsPull must contain exactly one item when using PULL acquisition")
		}
		if dd.ObjAcquisitionIDPush != "" {
			return false, apperror.New(apperror.KindSessionConfigError,
				"objAcquisitionIdPush must not be present when objAcquisitionMethod is PULL")
		}
		return false, nil
	case session.AcquisitionMethodPush:
		if len(dd.ObjAcquisitionIdsPull) != 0 {
			return false, apperror.New(apperror.KindSessionConfigError,
				"objAcquisitionIdsPull must not be present when objAcquisitionMethod is PUSH")
		}
		if dd.ObjAcquisitionIDPush == "" {
			dd.ObjAcquisitionIDPush = defaultPushID
		}
		return true, nil
	default:
		return false, apperror.New(apperror.KindSessionConfigError,
			"objAcquisitionMethod must be PULL or PUSH, got "+dd.ObjAcquisitionMethod)
	}
}

// validatePushURL reports whether urlPath matches the session's
// declared push id, tolerating a leading-slash mismatch between the
// two the way the original's validate_push_url does.
func validatePushURL(pushID, urlPath string) bool {
	if pushID == "" {
		return true
	}
	a, b := pushID, urlPath
	switch {
	case len(a) > 0 && a[0] == '/' && (len(b) == 0 || b[0] != '/'):
		b = "/" + b
	case len(b) > 0 && b[0] == '/' && (len(a) == 0 || a[0] != '/'):
		a = "/" + a
	}
	return a == b
}

// pushStartValidator subscribes to a push ingester's bus and rejects
// any request whose path does not match the session's declared push
// id, mirroring ObjectManifestController/ObjectStreamingController's
// ObjectPushStart handling.
type pushStartValidator struct {
	pushID string
}

func (v *pushStartValidator) ProcessEvent(event *events.Event, bus *events.Bus) {
	if event.Name != ingest.EventObjectPushStart {
		return
	}
	payload := event.Payload.(ingest.PushStartPayload)
	if !validatePushURL(v.pushID, payload.Request.Path) {
		payload.Request.SetError(http.StatusBadRequest, "push URL does not match declared acquisition id")
		event.PreventDefault()
	}
}

// manifestForwarder subscribes to the store's ObjectAdded and, once
// the manifest object itself has arrived, builds a Handler via the
// registry and schedules the items it reports; every other added
// object (a segment fetched on the handler's instruction) is forwarded
// straight to the packager.
type manifestForwarder struct {
	log       zerolog.Logger
	store     *objectstore.Store
	registry  *manifest.Registry
	pull      *ingest.PullObjectIngester
	pkgr      *packager.Packager
	manifestID string

	mu      sync.Mutex
	handler manifest.Handler
}

func (m *manifestForwarder) ProcessEvent(event *events.Event, bus *events.Bus) {
	if event.Name != objectstore.EventObjectAdded {
		return
	}
	payload := event.Payload.(objectstore.ObjectAddedPayload)

	if payload.ObjectID != m.manifestID {
		m.pkgr.Add(packager.PackageItem{ObjectID: payload.ObjectID})
		return
	}

	obj, err := m.store.Get(payload.ObjectID)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler == nil {
		h, err := m.registry.Make(obj)
		if err != nil {
			m.log.Warn().Err(err).Msg("manifest rejected")
			return
		}
		if h == nil {
			m.log.Warn().Str("media_type", obj.Metadata.MediaType).Msg("no manifest handler recognises this media type")
			return
		}
		m.handler = h
	} else if _, err := m.handler.Update(obj.Data, obj.Metadata); err != nil {
		m.log.Warn().Err(err).Msg("manifest update rejected")
		return
	}

	_, items := m.handler.NextIngestItems()
	if m.pull != nil {
		for _, item := range items {
			m.pull.FetchItem(item)
		}
	}
}

// ObjectStreamingController handles STREAMING-mode sessions: a
// manifest object is ingested, parsed by the appropriate
// manifest.Handler, and used to schedule further segment fetches,
// each of which is forwarded to the packager as it lands.
type ObjectStreamingController struct {
	log       zerolog.Logger
	store     *objectstore.Store
	pkgr      *packager.Packager
	pull      *ingest.PullObjectIngester
	push      *ingest.PushObjectIngester
	forward   *manifestForwarder
	validator *pushStartValidator
}

// ObjectStreamingControllerPriority is this constructor's factory
// priority, higher than ObjectListController's so streaming sessions
// are recognised before falling back to the list controller.
const ObjectStreamingControllerPriority = 20

// NewObjectStreamingController builds an ObjectStreamingController, or
// errNotApplicable if s is not operating in STREAMING mode.
func NewObjectStreamingController(s *session.Session, deps Deps) (session.Controller, error) {
	dd := &s.Req.DistSession.ObjDistributionData
	if dd.OperatingMode != session.OperatingModeStreaming {
		return nil, errNotApplicable
	}

	isPush, err := validateAcquisitionConfig(s)
	if err != nil {
		return nil, err
	}

	txCfg, err := transmitterConfig(s)
	if err != nil {
		return nil, err
	}

	c := &ObjectStreamingController{
		log:   log.WithComponent("object-streaming-controller"),
		store: deps.Store,
		pkgr:  packager.New(s.ID, deps.Store, txCfg),
	}
	c.pkgr.Start()

	manifestID := dd.ObjAcquisitionIDPush
	if !isPush {
		manifestID = dd.ObjAcquisitionIdsPull[0]
	}

	if isPush {
		c.push = ingest.NewPushObjectIngester(deps.Store)
		if err := c.push.Start(); err != nil {
			c.Close()
			return nil, apperror.Wrap(apperror.KindSessionConfigError, "failed to start push ingester", err)
		}
		dd.ObjIngestBaseURL = c.push.GetIngestServerPrefix()
		c.validator = &pushStartValidator{pushID: dd.ObjAcquisitionIDPush}
		c.push.Bus().Subscribe(c.validator)
	} else {
		c.pull = ingest.NewPullObjectIngester(deps.Store)
		c.pull.Start()
		c.pull.FetchItem(ingest.IngestItem{
			ObjectID:               manifestID,
			URL:                    resolveIngestURL(dd.ObjIngestBaseURL, manifestID),
			ObjIngestBaseURL:       dd.ObjIngestBaseURL,
			ObjDistributionBaseURL: dd.ObjDistributionBaseURL,
		})
	}

	c.forward = &manifestForwarder{
		log:        c.log,
		store:      deps.Store,
		registry:   deps.ManifestRegistry,
		pull:       c.pull,
		pkgr:       c.pkgr,
		manifestID: manifestID,
	}
	deps.Store.Bus().Subscribe(c.forward)

	return c, nil
}

// Close tears down the controller's ingesters, packager, and
// subscriptions.
func (c *ObjectStreamingController) Close() {
	if c.forward != nil {
		c.store.Bus().Unsubscribe(c.forward)
	}
	if c.validator != nil && c.push != nil {
		c.push.Bus().Unsubscribe(c.validator)
	}
	if c.pull != nil {
		c.pull.Stop()
	}
	if c.push != nil {
		c.push.Stop()
	}
	c.pkgr.Stop()
}
