package controller

import (
	"testing"
	"time"

	"github.com/5g-mag/mbs-traffic-function/pkg/manifest"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
	"github.com/5g-mag/mbs-traffic-function/pkg/session"
)

func newSession(t *testing.T, body string) *session.Session {
	t.Helper()
	s, err := session.New([]byte(body))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return s
}

func TestFactoryTriesConstructorsInPriorityOrder(t *testing.T) {
	f := NewFactory()
	var order []string
	f.Register("low", 1, func(s *session.Session, deps Deps) (session.Controller, error) {
		order = append(order, "low")
		return nil, errNotApplicable
	})
	f.Register("high", 100, func(s *session.Session, deps Deps) (session.Controller, error) {
		order = append(order, "high")
		return nil, errNotApplicable
	})

	store := objectstore.NewStore("test")
	defer store.Close()
	s := newSession(t, `{"distSession":{"objDistributionData":{"operatingMode":"COLLECTION","objAcquisitionMethod":"PULL","objAcquisitionIdsPull":["x"]}}}`)

	_, err := f.Make(s, Deps{Store: store, ManifestRegistry: manifest.NewRegistry()})
	if err == nil {
		t.Fatalf("expected no controller to match")
	}
	if len(order) != 2 || order[0] != "high" {
		t.Fatalf("order = %v, want high before low", order)
	}
}

func TestObjectListControllerBuildsForCollectionMode(t *testing.T) {
	store := objectstore.NewStore("test")
	defer store.Close()
	s := newSession(t, `{"distSession":{"objDistributionData":{"operatingMode":"COLLECTION","objAcquisitionMethod":"PULL","objAcquisitionIdsPull":["http://origin/a"]},"upTrafficFlowInfo":{"destIpAddr":{"ipv4Addr":"239.0.0.1"},"portNumber":5000}}}`)

	c, err := NewObjectListController(s, Deps{Store: store})
	if err != nil {
		t.Fatalf("NewObjectListController: %v", err)
	}
	defer c.Close()
}

func TestObjectListControllerRejectsStreamingMode(t *testing.T) {
	store := objectstore.NewStore("test")
	defer store.Close()
	s := newSession(t, `{"distSession":{"objDistributionData":{"operatingMode":"STREAMING","objAcquisitionMethod":"PULL","objAcquisitionIdsPull":["http://origin/a"]}}}`)

	if _, err := NewObjectListController(s, Deps{Store: store}); err != errNotApplicable {
		t.Fatalf("err = %v, want errNotApplicable", err)
	}
}

func TestValidateAcquisitionConfigPullRequiresExactlyOneURL(t *testing.T) {
	s := newSession(t, `{"distSession":{"objDistributionData":{"operatingMode":"STREAMING","objAcquisitionMethod":"PULL","objAcquisitionIdsPull":["a","b"]}}}`)
	if _, err := validateAcquisitionConfig(s); err == nil {
		t.Fatalf("expected error for two pull urls")
	}
}

func TestValidateAcquisitionConfigPushInjectsDefaultID(t *testing.T) {
	s := newSession(t, `{"distSession":{"objDistributionData":{"operatingMode":"STREAMING","objAcquisitionMethod":"PUSH"}}}`)
	isPush, err := validateAcquisitionConfig(s)
	if err != nil || !isPush {
		t.Fatalf("validateAcquisitionConfig = %v, %v", isPush, err)
	}
	if s.Req.DistSession.ObjDistributionData.ObjAcquisitionIDPush != defaultPushID {
		t.Fatalf("push id = %q, want %q", s.Req.DistSession.ObjDistributionData.ObjAcquisitionIDPush, defaultPushID)
	}
}

func TestValidatePushURLTolerantOfLeadingSlash(t *testing.T) {
	if !validatePushURL("manifest", "/manifest") {
		t.Fatalf("expected match despite leading slash mismatch")
	}
	if validatePushURL("manifest", "/other") {
		t.Fatalf("expected mismatch to be rejected")
	}
}

func TestObjectStreamingControllerBuildsForStreamingPullMode(t *testing.T) {
	store := objectstore.NewStore("test")
	defer store.Close()
	registry := manifest.NewRegistry()
	registry.Register(manifest.DASHContentType, manifest.DASHFactoryPriority(), manifest.NewDASHHandler)

	s := newSession(t, `{"distSession":{"objDistributionData":{"operatingMode":"STREAMING","objAcquisitionMethod":"PULL","objAcquisitionIdsPull":["http://origin/manifest.mpd"]}}}`)

	c, err := NewObjectStreamingController(s, Deps{Store: store, ManifestRegistry: registry})
	if err != nil {
		t.Fatalf("NewObjectStreamingController: %v", err)
	}
	defer c.Close()

	time.Sleep(10 * time.Millisecond)
}
