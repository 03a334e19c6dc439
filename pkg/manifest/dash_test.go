package manifest

import (
	"testing"

	"github.com/5g-mag/mbs-traffic-function/pkg/apperror"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
)

const validMPD = `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" profiles="urn:mpeg:dash:profile:isoff-live:2011">
</MPD>`

func TestNewDASHHandlerAcceptsValidMPD(t *testing.T) {
	obj := objectstore.Object{
		Data:     []byte(validMPD),
		Metadata: objectstore.Metadata{MediaType: DASHContentType, FetchedURL: "http://origin/manifest.mpd"},
	}
	h, err := NewDASHHandler(obj)
	if err != nil {
		t.Fatalf("NewDASHHandler: %v", err)
	}
	if h.DefaultDeadline() <= 0 {
		t.Fatalf("expected positive default deadline")
	}
	fetchTime, items := h.NextIngestItems()
	if fetchTime.IsZero() || len(items) == 0 {
		t.Fatalf("expected at least one scheduled item")
	}
}

func TestNewDASHHandlerRejectsWrongRootElement(t *testing.T) {
	obj := objectstore.Object{
		Data:     []byte(`<Foo xmlns="urn:mpeg:dash:schema:mpd:2011"></Foo>`),
		Metadata: objectstore.Metadata{MediaType: DASHContentType},
	}
	_, err := NewDASHHandler(obj)
	ae, ok := apperror.As(err)
	if !ok || ae.Kind != apperror.KindInvalidManifest {
		t.Fatalf("err = %v, want KindInvalidManifest", err)
	}
}

func TestNewDASHHandlerRejectsMissingXmlns(t *testing.T) {
	obj := objectstore.Object{
		Data:     []byte(`<MPD></MPD>`),
		Metadata: objectstore.Metadata{MediaType: DASHContentType},
	}
	_, err := NewDASHHandler(obj)
	ae, ok := apperror.As(err)
	if !ok || ae.Kind != apperror.KindInvalidManifest {
		t.Fatalf("err = %v, want KindInvalidManifest", err)
	}
}

func TestNewDASHHandlerRejectsUnrecognisedNamespace(t *testing.T) {
	obj := objectstore.Object{
		Data:     []byte(`<MPD xmlns="urn:example:not-dash"></MPD>`),
		Metadata: objectstore.Metadata{MediaType: DASHContentType},
	}
	_, err := NewDASHHandler(obj)
	if _, ok := apperror.As(err); !ok {
		t.Fatalf("expected an apperror, got %v", err)
	}
}

func TestNewDASHHandlerRejectsMalformedXML(t *testing.T) {
	obj := objectstore.Object{
		Data:     []byte(`not xml at all`),
		Metadata: objectstore.Metadata{MediaType: DASHContentType},
	}
	_, err := NewDASHHandler(obj)
	if _, ok := apperror.As(err); !ok {
		t.Fatalf("expected an apperror, got %v", err)
	}
}

func TestRegistryFallsBackToEmptyContentType(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("", 1, func(obj objectstore.Object) (Handler, error) {
		called = true
		return NewDASHHandler(obj)
	})

	obj := objectstore.Object{
		Data:     []byte(validMPD),
		Metadata: objectstore.Metadata{MediaType: "application/unknown"},
	}
	h, err := r.Make(obj)
	if err != nil || h == nil {
		t.Fatalf("Make = %v, %v, want a handler", h, err)
	}
	if !called {
		t.Fatalf("expected fallback constructor to be tried")
	}
}

func TestRegistryPrefersHigherPriority(t *testing.T) {
	r := NewRegistry()
	var order []int
	r.Register(DASHContentType, 10, func(obj objectstore.Object) (Handler, error) {
		order = append(order, 10)
		return nil, apperror.New(apperror.KindBadRequest, "not this one")
	})
	r.Register(DASHContentType, 100, func(obj objectstore.Object) (Handler, error) {
		order = append(order, 100)
		return NewDASHHandler(obj)
	})

	obj := objectstore.Object{Data: []byte(validMPD), Metadata: objectstore.Metadata{MediaType: DASHContentType}}
	if _, err := r.Make(obj); err != nil {
		t.Fatalf("Make: %v", err)
	}
	if len(order) == 0 || order[0] != 100 {
		t.Fatalf("priority order = %v, want highest priority tried first", order)
	}
}
