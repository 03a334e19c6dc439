// Package controller implements the per-session Controller and its
// factory (C6): interpreting a DistributionSession's operating mode
// and acquisition method to wire up ingesters, a packager, and (for
// streaming sessions) a manifest handler.
//
// The original's inheritance chain (ObjectManifestController ←
// ObjectStreamingController, Controller ← ObjectController ← ...) is
// re-expressed here as a single Controller interface plus shared
// session-validation helpers that each concrete constructor calls;
// composition replaces the base-class relationship.
package controller

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/5g-mag/mbs-traffic-function/pkg/apperror"
	"github.com/5g-mag/mbs-traffic-function/pkg/bitrate"
	"github.com/5g-mag/mbs-traffic-function/pkg/events"
	"github.com/5g-mag/mbs-traffic-function/pkg/ingest"
	"github.com/5g-mag/mbs-traffic-function/pkg/log"
	"github.com/5g-mag/mbs-traffic-function/pkg/manifest"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
	"github.com/5g-mag/mbs-traffic-function/pkg/packager"
	"github.com/5g-mag/mbs-traffic-function/pkg/session"
	"github.com/5g-mag/mbs-traffic-function/pkg/transmitter"
)

// defaultMTU is used when no per-destination MTU discovery is wired in
// (the original's TODO: "get the MTU for the dest_ip_addr").
const defaultMTU = 1500

// errNotApplicable signals "this constructor does not handle this
// session's shape"; the factory tries the next registered constructor.
// Any other error (in particular an *apperror.Error with
// KindSessionConfigError) is fatal and aborts construction.
var errNotApplicable = errors.New("controller: session shape not handled by this constructor")

// Deps are the shared collaborators every Controller constructor needs.
type Deps struct {
	Store            *objectstore.Store
	ManifestRegistry *manifest.Registry
}

// Constructor attempts to build a Controller for s. Returning
// errNotApplicable (or any error that is not an *apperror.Error with
// KindSessionConfigError) means "try the next constructor"; returning
// an *apperror.Error with KindSessionConfigError is fatal.
type Constructor func(s *session.Session, deps Deps) (session.Controller, error)

type registration struct {
	priority int
	name     string
	build    Constructor
}

// Factory holds constructors in descending-priority order.
type Factory struct {
	constructors []registration
}

// NewFactory creates an empty factory.
func NewFactory() *Factory { return &Factory{} }

// Register adds a named constructor at priority (higher runs first).
func (f *Factory) Register(name string, priority int, build Constructor) {
	i := 0
	for i < len(f.constructors) && f.constructors[i].priority >= priority {
		i++
	}
	f.constructors = append(f.constructors, registration{})
	copy(f.constructors[i+1:], f.constructors[i:])
	f.constructors[i] = registration{priority: priority, name: name, build: build}
}

// Make tries each registered constructor in priority order, returning
// the first Controller successfully built. A SessionConfigError from
// any constructor aborts immediately and is returned to the caller
// (the original's runtime_error "fatal misconfiguration" path); any
// other error just means that constructor didn't apply.
func (f *Factory) Make(s *session.Session, deps Deps) (session.Controller, error) {
	for _, reg := range f.constructors {
		c, err := reg.build(s, deps)
		if err == nil {
			return c, nil
		}
		if ae, ok := apperror.As(err); ok && ae.Kind == apperror.KindSessionConfigError {
			return nil, ae
		}
	}
	return nil, apperror.New(apperror.KindSessionConfigError, "no controller recognises this session's objDistributionData")
}

// destAndPort reads the UDP destination address/port a packager
// should send to.
func destAndPort(s *session.Session) (string, int) {
	flow := s.Req.DistSession.UpTrafficFlowInfo
	if flow == nil {
		return "", 0
	}
	addr := ""
	if flow.DestIPAddr != nil {
		addr = flow.DestIPAddr.Ipv4Addr
	}
	return addr, flow.PortNumber
}

// rateLimitBps parses the session's mbr (decimal bits/sec, optionally
// unit-suffixed per the BitRate grammar); an empty value means no cap.
func rateLimitBps(s *session.Session) (float64, error) {
	mbr := s.Req.DistSession.Mbr
	if mbr == "" {
		return 0, nil
	}
	v, err := bitrate.Parse(mbr)
	if err != nil {
		return 0, apperror.Wrap(apperror.KindSessionConfigError, "invalid mbr value", err)
	}
	return v, nil
}

func transmitterConfig(s *session.Session) (transmitter.Config, error) {
	addr, port := destAndPort(s)
	rate, err := rateLimitBps(s)
	if err != nil {
		return transmitter.Config{}, err
	}
	return transmitter.Config{
		DestAddr:     addr,
		Port:         port,
		RateLimitBps: rate,
		MTU:          defaultMTU,
	}, nil
}

// addedForwarder subscribes to an ObjectStore's bus and pushes a
// PackageItem for every ObjectAdded, the wiring ObjectListController
// and ObjectStreamingController share.
type addedForwarder struct {
	pkgr *packager.Packager
}

func (a *addedForwarder) ProcessEvent(event *events.Event, bus *events.Bus) {
	if event.Name != objectstore.EventObjectAdded {
		return
	}
	payload := event.Payload.(objectstore.ObjectAddedPayload)
	a.pkgr.Add(packager.PackageItem{ObjectID: payload.ObjectID})
}

// ObjectListController handles COLLECTION-mode sessions: every object
// added to the store is forwarded to the packager as-is, with no
// manifest in between.
type ObjectListController struct {
	log     zerolog.Logger
	store   *objectstore.Store
	pkgr    *packager.Packager
	pull    *ingest.PullObjectIngester
	push    *ingest.PushObjectIngester
	forward *addedForwarder
}

// ObjectListControllerPriority is this constructor's factory priority.
const ObjectListControllerPriority = 10

// NewObjectListController builds an ObjectListController, or
// errNotApplicable if s is not operating in COLLECTION mode.
func NewObjectListController(s *session.Session, deps Deps) (session.Controller, error) {
	dd := s.Req.DistSession.ObjDistributionData
	if dd.OperatingMode != session.OperatingModeCollection {
		return nil, errNotApplicable
	}

	txCfg, err := transmitterConfig(s)
	if err != nil {
		return nil, err
	}

	c := &ObjectListController{
		log:   log.WithComponent("object-list-controller"),
		store: deps.Store,
		pkgr:  packager.New(s.ID, deps.Store, txCfg),
	}
	c.pkgr.Start()

	c.forward = &addedForwarder{pkgr: c.pkgr}
	deps.Store.Bus().Subscribe(c.forward)

	switch dd.ObjAcquisitionMethod {
	case session.AcquisitionMethodPull:
		c.pull = ingest.NewPullObjectIngester(deps.Store)
		c.pull.Start()
		for _, url := range dd.ObjAcquisitionIdsPull {
			c.pull.FetchItem(ingest.IngestItem{
				ObjectID:               url,
				URL:                    resolveIngestURL(dd.ObjIngestBaseURL, url),
				ObjIngestBaseURL:       dd.ObjIngestBaseURL,
				ObjDistributionBaseURL: dd.ObjDistributionBaseURL,
			})
		}
	case session.AcquisitionMethodPush:
		c.push = ingest.NewPushObjectIngester(deps.Store)
		if err := c.push.Start(); err != nil {
			c.Close()
			return nil, apperror.Wrap(apperror.KindSessionConfigError, "failed to start push ingester", err)
		}
		s.Req.DistSession.ObjDistributionData.ObjIngestBaseURL = c.push.GetIngestServerPrefix()
	default:
		c.Close()
		return nil, apperror.New(apperror.KindSessionConfigError,
			"objAcquisitionMethod must be PULL or PUSH, got "+dd.ObjAcquisitionMethod)
	}

	return c, nil
}

// Close tears down the controller's ingesters, packager, and store
// subscription.
func (c *ObjectListController) Close() {
	if c.forward != nil {
		c.store.Bus().Unsubscribe(c.forward)
	}
	if c.pull != nil {
		c.pull.Stop()
	}
	if c.push != nil {
		c.push.Stop()
	}
	c.pkgr.Stop()
}

// resolveIngestURL mirrors the original's trim_slashes-and-join: a
// pull URL that already looks absolute is used as-is; otherwise it is
// joined onto the ingest base URL.
func resolveIngestURL(ingestBaseURL, url string) string {
	if ingestBaseURL == "" {
		return url
	}
	if hasScheme(url) {
		return url
	}
	base := ingestBaseURL
	if len(base) == 0 || base[len(base)-1] != '/' {
		base += "/"
	}
	return base + trimSlashes(url)
}

func hasScheme(url string) bool {
	return len(url) >= 2 && (startsWith(url, "http:") || startsWith(url, "https:") || startsWith(url, "//"))
}

func startsWith(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func trimSlashes(path string) string {
	start, end := 0, len(path)
	if end > 0 && path[0] == '/' {
		start = 1
	}
	if end > start && path[end-1] == '/' {
		end--
	}
	return path[start:end]
}
