package ingest

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/5g-mag/mbs-traffic-function/pkg/events"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}

func newTestPushIngester(t *testing.T) (*PushObjectIngester, *objectstore.Store) {
	t.Helper()
	store := objectstore.NewStore("test")
	p := NewPushObjectIngester(store)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		p.Stop()
		store.Close()
	})
	return p, store
}

func TestPushAcceptsPutAndStoresObject(t *testing.T) {
	p, store := newTestPushIngester(t)
	prefix := p.GetIngestServerPrefix()

	req, _ := http.NewRequest(http.MethodPut, prefix+"items/one", bytes.NewReader([]byte("payload")))
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	waitFor(t, func() bool {
		_, err := store.GetData("items/one")
		return err == nil
	})
	data, err := store.GetData("items/one")
	if err != nil || string(data) != "payload" {
		t.Fatalf("GetData = %q, %v", data, err)
	}
}

func TestPushRejectsUnsupportedMethod(t *testing.T) {
	p, _ := newTestPushIngester(t)
	prefix := p.GetIngestServerPrefix()

	resp, err := http.Get(prefix + "items/one")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestPushRejectsOversizedBody(t *testing.T) {
	p, store := newTestPushIngester(t)
	prefix := p.GetIngestServerPrefix()

	oversized := bytes.Repeat([]byte("x"), maxPushBodyBytes+4096)
	resp, err := http.Post(prefix+"items/big", "application/octet-stream", bytes.NewReader(oversized))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
	if _, err := store.GetData("items/big"); err == nil {
		t.Fatalf("oversized object should not have been stored")
	}
}

type rejectingSubscriber struct {
	status int
	reason string
}

func (r *rejectingSubscriber) ProcessEvent(event *events.Event, bus *events.Bus) {
	if event.Name != EventObjectPushStart {
		return
	}
	payload := event.Payload.(PushStartPayload)
	payload.Request.SetError(r.status, r.reason)
	event.PreventDefault()
}

func TestPushStartSubscriberCanRejectWithCustomStatus(t *testing.T) {
	p, store := newTestPushIngester(t)
	p.Bus().Subscribe(&rejectingSubscriber{status: http.StatusForbidden, reason: "not allowed"})
	prefix := p.GetIngestServerPrefix()

	resp, err := http.Post(prefix+"items/rejected", "text/plain", strings.NewReader("hi"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if _, err := store.GetData("items/rejected"); err == nil {
		t.Fatalf("rejected object should not have been stored")
	}
}

func TestGetIngestServerPrefixHasHostAndPort(t *testing.T) {
	p, _ := newTestPushIngester(t)
	prefix := p.GetIngestServerPrefix()
	if !strings.HasPrefix(prefix, "http://") || !strings.HasSuffix(prefix, "/") {
		t.Fatalf("prefix %q not in expected form", prefix)
	}
}
