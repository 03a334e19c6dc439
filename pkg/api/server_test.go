package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/5g-mag/mbs-traffic-function/pkg/controller"
	"github.com/5g-mag/mbs-traffic-function/pkg/hashutil"
	"github.com/5g-mag/mbs-traffic-function/pkg/manifest"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
	"github.com/5g-mag/mbs-traffic-function/pkg/session"
)

func newTestServer(t *testing.T) (*Server, *objectstore.Store) {
	t.Helper()
	store := objectstore.NewStore("test")
	t.Cleanup(store.Close)

	factory := controller.NewFactory()
	factory.Register("object-list", controller.ObjectListControllerPriority, controller.NewObjectListController)
	factory.Register("object-streaming", controller.ObjectStreamingControllerPriority, controller.NewObjectStreamingController)

	srv := NewServer(
		Config{
			Info:         ServerInfo{ServerName: "mbstf", APIRelease: "1.0.0", AppName: "mbstf", AppVersion: "0.1.0"},
			CacheControl: CacheControl{DistMaxAge: 60, ObjectMaxAge: 60},
		},
		session.NewRegistry(),
		factory,
		store,
		manifest.NewRegistry(),
	)
	return srv, store
}

const pushCreateBody = `{"distSession":{"objDistributionData":{"operatingMode":"COLLECTION","objAcquisitionMethod":"PUSH"},"upTrafficFlowInfo":{"destIpAddr":{"ipv4Addr":"239.0.0.1"},"portNumber":5000}}}`

func TestCreateGetDeleteRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	createReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/nmbstf-distsession/v1/dist-sessions", strings.NewReader(pushCreateBody))
	createReq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(createReq)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", resp.StatusCode)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag header")
	}
	if want := hashutil.SHA256Hex([]byte(pushCreateBody)); etag != want {
		t.Fatalf("ETag = %q, want %q", etag, want)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		t.Fatalf("missing Location header")
	}

	getResp, err := http.Get(ts.URL + loc)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", getResp.StatusCode)
	}

	delReq, _ := http.NewRequest(http.MethodDelete, ts.URL+loc, nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", delResp.StatusCode)
	}

	getAfterDelete, err := http.Get(ts.URL + loc)
	if err != nil {
		t.Fatalf("GET after delete: %v", err)
	}
	defer getAfterDelete.Body.Close()
	if getAfterDelete.StatusCode != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want 404", getAfterDelete.StatusCode)
	}
	if ct := getAfterDelete.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("Content-Type = %q, want application/problem+json", ct)
	}
}

func TestCreateRejectsWrongContentType(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/nmbstf-distsession/v1/dist-sessions", strings.NewReader(pushCreateBody))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
}

func TestCreateRejectsMissingOperatingMode(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/nmbstf-distsession/v1/dist-sessions", strings.NewReader(`{"distSession":{}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownAPIVersionRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/nmbstf-distsession/v2/dist-sessions/whatever")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMethodNotAllowedOnCollectionPath(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/nmbstf-distsession/v1/dist-sessions", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
