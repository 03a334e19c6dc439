// Package session implements the DistributionSession lifecycle and
// registry (C7): identifier allocation, content-hash ETag, and the
// per-session Controller's lifetime, which is nested inside the
// Session's own.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/5g-mag/mbs-traffic-function/pkg/apperror"
	"github.com/5g-mag/mbs-traffic-function/pkg/hashutil"
)

// IPAddr is the typed view over an OpenAPI IpAddr object: the core only
// ever reads the v4/v6 literal, never anything else on the type.
type IPAddr struct {
	Ipv4Addr string `json:"ipv4Addr,omitempty"`
	Ipv6Addr string `json:"ipv6Addr,omitempty"`
}

// UpTrafficFlowInfo is the typed view over OpenAPI UpTrafficFlowInfo.
type UpTrafficFlowInfo struct {
	DestIPAddr *IPAddr `json:"destIpAddr,omitempty"`
	PortNumber int     `json:"portNumber,omitempty"`
}

// Operating modes recognised in ObjDistributionData.operatingMode.
const (
	OperatingModeCollection = "COLLECTION"
	OperatingModeStreaming  = "STREAMING"
)

// Acquisition methods recognised in ObjDistributionData.objAcquisitionMethod.
const (
	AcquisitionMethodPull = "PULL"
	AcquisitionMethodPush = "PUSH"
)

// ObjDistributionData is the typed view over OpenAPI ObjDistributionData:
// the subset of fields the Controller layer actually reads.
type ObjDistributionData struct {
	OperatingMode          string   `json:"operatingMode"`
	ObjAcquisitionMethod   string   `json:"objAcquisitionMethod"`
	ObjAcquisitionIdsPull  []string `json:"objAcquisitionIdsPull,omitempty"`
	ObjAcquisitionIDPush   string   `json:"objAcquisitionIdPush,omitempty"`
	ObjIngestBaseURL       string   `json:"objIngestBaseUrl,omitempty"`
	ObjDistributionBaseURL string   `json:"objDistributionBaseUrl,omitempty"`
	MediaType              string   `json:"mediaType,omitempty"`
}

// DistSession is the typed view over OpenAPI DistSession.
type DistSession struct {
	DistSessionID       string               `json:"distSessionId,omitempty"`
	ObjDistributionData ObjDistributionData  `json:"objDistributionData"`
	UpTrafficFlowInfo   *UpTrafficFlowInfo   `json:"upTrafficFlowInfo,omitempty"`
	Mbr                 string               `json:"mbr,omitempty"`
}

// CreateReqData is the typed view over OpenAPI CreateReqData, the
// top-level request/response body shape.
type CreateReqData struct {
	DistSession DistSession `json:"distSession"`
}

// Controller is whatever the Controller factory builds for a Session:
// closing it tears down its ingesters and packager. Declared here
// (rather than importing pkg/controller) so pkg/controller can depend
// on pkg/session without a cycle.
type Controller interface {
	Close()
}

// Session is one active DistributionSession.
type Session struct {
	ID         string
	Created    time.Time
	LastUsed   time.Time
	Hash       string
	Req        CreateReqData
	Controller Controller
}

// New decodes body as a CreateReqData, validating it is well-formed
// JSON with a distSession object, and allocates a fresh session id and
// content hash. The caller is responsible for constructing and
// attaching a Controller afterwards.
func New(body []byte) (*Session, error) {
	var req CreateReqData
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperror.BadRequest("malformed JSON body: " + err.Error())
	}
	if req.DistSession.ObjDistributionData.OperatingMode == "" {
		return nil, apperror.WithParams(apperror.KindBadRequest, "distSession.objDistributionData is required",
			apperror.InvalidParam{Param: "distSession.objDistributionData.operatingMode", Reason: "missing"})
	}

	now := time.Now()
	s := &Session{
		ID:       uuid.NewString(),
		Created:  now,
		LastUsed: now,
		Hash:     hashutil.SHA256Hex(body),
		Req:      req,
	}
	return s, nil
}

// AsResponseJSON renders the session back out as a CreateRspData: the
// same distSession body with distSessionId populated.
func (s *Session) AsResponseJSON() ([]byte, error) {
	s.Req.DistSession.DistSessionID = s.ID
	return json.Marshal(s.Req)
}

// Touch updates LastUsed to now.
func (s *Session) Touch() { s.LastUsed = time.Now() }

// Registry is the process-wide map of live sessions, keyed by id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s under id. Overwrites any existing entry at id without
// closing its Controller; callers are expected to allocate ids via
// New, which are effectively unique.
func (r *Registry) Add(id string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
}

// Get returns the session registered at id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Snapshot returns every currently registered session. The slice is a
// copy; mutating it does not affect the registry.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Delete removes and returns the session at id, if any. The caller is
// responsible for closing its Controller.
func (r *Registry) Delete(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}
