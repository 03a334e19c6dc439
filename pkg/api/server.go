package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/5g-mag/mbs-traffic-function/pkg/apperror"
	"github.com/5g-mag/mbs-traffic-function/pkg/bitrate"
	"github.com/5g-mag/mbs-traffic-function/pkg/controller"
	"github.com/5g-mag/mbs-traffic-function/pkg/log"
	"github.com/5g-mag/mbs-traffic-function/pkg/manifest"
	"github.com/5g-mag/mbs-traffic-function/pkg/metrics"
	"github.com/5g-mag/mbs-traffic-function/pkg/objectstore"
	"github.com/5g-mag/mbs-traffic-function/pkg/session"
)

// serviceName, apiVersion and resourceDistSessions are the fixed
// service name, version and resource every request path must carry.
const (
	serviceName    = "nmbstf-distsession"
	apiVersion     = "v1"
	resourceDistSessions = "dist-sessions"
)

// ServerInfo names the fields rendered into the Server response header,
// per spec section 6: "<serverName>/<apiRelease> (info.title=<iface>;
// info.version=<iface-ver>) <appName>/<appVersion>".
type ServerInfo struct {
	ServerName string
	APIRelease string
	AppName    string
	AppVersion string
}

func (si ServerInfo) header() string {
	return fmt.Sprintf("%s/%s (info.title=%s; info.version=%s) %s/%s",
		si.ServerName, si.APIRelease, serviceName, apiVersion, si.AppName, si.AppVersion)
}

// CacheControl holds the max-age values configured under
// mbstf.serverResponseCacheControl.
type CacheControl struct {
	DistMaxAge   int
	ObjectMaxAge int
}

// Config bundles everything the Server needs beyond its registry and
// controller factory.
type Config struct {
	Info         ServerInfo
	CacheControl CacheControl
}

// Server implements the nmbstf-distsession v1 HTTP handler.
type Server struct {
	cfg      Config
	registry *session.Registry
	factory  *controller.Factory
	deps     controller.Deps
	mux      *http.ServeMux
}

// NewServer builds a Server backed by registry, the given controller
// factory, and the shared ObjectStore/ManifestRegistry the factory's
// constructors close over.
func NewServer(cfg Config, registry *session.Registry, factory *controller.Factory, store *objectstore.Store, manifestRegistry *manifest.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		factory:  factory,
		deps:     controller.Deps{Store: store, ManifestRegistry: manifestRegistry},
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/", s.handle)
	return s
}

// Handler returns the http.Handler to mount on a listener.
func (s *Server) Handler() http.Handler { return s.mux }

// handle is the single entry point for every request under the
// nmbstf-distsession service: it validates the resource path shape
// before dispatching to the verb-specific logic, per spec section 4.8.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", s.cfg.Info.header())

	timer := metrics.NewTimer()
	status := http.StatusOK
	defer func() {
		metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprint(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	}()

	parts, err := parsePath(r.URL.Path)
	if err != nil {
		status = err.(*apperror.Error).Status()
		writeAppError(w, r, err)
		return
	}

	switch {
	case len(parts.id) == 0 && r.Method == http.MethodPost:
		status = s.create(w, r)
	case len(parts.id) > 0 && r.Method == http.MethodGet:
		status = s.get(w, r, parts.id)
	case len(parts.id) > 0 && r.Method == http.MethodDelete:
		status = s.delete(w, r, parts.id)
	default:
		status = http.StatusMethodNotAllowed
		writeProblem(w, r, status, "method not supported for this resource", nil)
	}
}

type pathParts struct {
	id string
}

// parsePath validates that p is exactly "/nmbstf-distsession/v1/dist-sessions"
// or "/nmbstf-distsession/v1/dist-sessions/{id}" and returns the id, if any.
func parsePath(p string) (pathParts, error) {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	if len(segments) < 2 || segments[0] == "" {
		return pathParts{}, apperror.New(apperror.KindBadRequest, "missing service name")
	}
	if segments[0] != serviceName {
		return pathParts{}, apperror.New(apperror.KindBadRequest, "unknown service "+segments[0])
	}
	if segments[1] != apiVersion {
		return pathParts{}, apperror.New(apperror.KindBadRequest, "unsupported API version "+segments[1])
	}
	if len(segments) < 3 || segments[2] != resourceDistSessions {
		return pathParts{}, apperror.New(apperror.KindBadRequest, "unknown resource")
	}
	switch len(segments) {
	case 3:
		return pathParts{}, nil
	case 4:
		if segments[3] == "" {
			return pathParts{}, apperror.New(apperror.KindBadRequest, "missing dist session id")
		}
		return pathParts{id: segments[3]}, nil
	default:
		return pathParts{}, apperror.New(apperror.KindBadRequest, "unknown resource component "+segments[4])
	}
}

// create handles POST /nmbstf-distsession/v1/dist-sessions.
func (s *Server) create(w http.ResponseWriter, r *http.Request) int {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		metrics.SessionCreateFailuresTotal.WithLabelValues("unsupported_media_type").Inc()
		writeProblem(w, r, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
		return http.StatusUnsupportedMediaType
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		metrics.SessionCreateFailuresTotal.WithLabelValues("body_read_error").Inc()
		writeAppError(w, r, apperror.Wrap(apperror.KindBadRequest, "failed to read request body", err))
		return http.StatusBadRequest
	}

	timer := metrics.NewTimer()
	sess, err := session.New(body)
	if err != nil {
		metrics.SessionCreateFailuresTotal.WithLabelValues("malformed_request").Inc()
		writeAppError(w, r, err)
		return statusOf(err)
	}

	ctrl, err := s.factory.Make(sess, s.deps)
	if err != nil {
		metrics.SessionCreateFailuresTotal.WithLabelValues("controller_build_failed").Inc()
		writeAppError(w, r, err)
		return statusOf(err)
	}
	sess.Controller = ctrl
	s.registry.Add(sess.ID, sess)
	timer.ObserveDuration(metrics.SessionCreateDuration)

	dd := sess.Req.DistSession.ObjDistributionData
	metrics.SessionsTotal.WithLabelValues(dd.OperatingMode, dd.ObjAcquisitionMethod).Inc()

	respBody, err := sess.AsResponseJSON()
	if err != nil {
		writeAppError(w, r, apperror.Wrap(apperror.KindInternal, "failed to render response", err))
		return http.StatusInternalServerError
	}

	logEvent := log.WithSessionID(sess.ID).Info().
		Str("operating_mode", dd.OperatingMode).
		Str("acquisition_method", dd.ObjAcquisitionMethod)
	if mbrBps, err := bitrate.Parse(sess.Req.DistSession.Mbr); err == nil {
		logEvent = logEvent.Str("mbr", bitrate.Format(mbrBps, bitrate.Auto))
	}
	logEvent.Msg("distribution session created")

	s.writeSessionHeaders(w, sess)
	w.Header().Set("Location", r.URL.Path+"/"+sess.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
	return http.StatusCreated
}

// get handles GET /nmbstf-distsession/v1/dist-sessions/{id}.
func (s *Server) get(w http.ResponseWriter, r *http.Request, id string) int {
	sess, ok := s.registry.Get(id)
	if !ok {
		writeProblem(w, r, http.StatusNotFound, "no such distribution session",
			[]apperror.InvalidParam{{Param: "sessionId", Reason: "not found"}})
		return http.StatusNotFound
	}
	sess.Touch()

	respBody, err := sess.AsResponseJSON()
	if err != nil {
		writeAppError(w, r, apperror.Wrap(apperror.KindInternal, "failed to render response", err))
		return http.StatusInternalServerError
	}

	s.writeSessionHeaders(w, sess)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)
	return http.StatusOK
}

// delete handles DELETE /nmbstf-distsession/v1/dist-sessions/{id}; removing
// the session from the registry and closing its Controller tears down its
// ingesters and packager transitively.
func (s *Server) delete(w http.ResponseWriter, r *http.Request, id string) int {
	sess, ok := s.registry.Delete(id)
	if !ok {
		writeProblem(w, r, http.StatusNotFound, "no such distribution session",
			[]apperror.InvalidParam{{Param: "sessionId", Reason: "not found"}})
		return http.StatusNotFound
	}
	if sess.Controller != nil {
		sess.Controller.Close()
	}
	log.WithSessionID(id).Info().Msg("distribution session deleted")
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent
}

func (s *Server) writeSessionHeaders(w http.ResponseWriter, sess *session.Session) {
	w.Header().Set("ETag", sess.Hash)
	w.Header().Set("Last-Modified", sess.Created.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", s.cfg.CacheControl.DistMaxAge))
}

func statusOf(err error) int {
	if ae, ok := apperror.As(err); ok {
		return ae.Status()
	}
	return http.StatusInternalServerError
}
