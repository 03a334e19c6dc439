/*
Package metrics provides Prometheus metrics collection and exposition, plus
a small component-health registry, for the MBS Traffic Function.

# Metrics

	mbstf_sessions_total{operating_mode, acquisition_method}:
	  Gauge of currently live distribution sessions, refreshed periodically
	  by Collector and bumped on create in pkg/api.

	mbstf_session_create_duration_seconds:
	  Histogram of time taken to construct a session and its controller.

	mbstf_session_create_failures_total{kind}:
	  Counter of rejected POST /dist-sessions requests by failure kind
	  (unsupported_media_type, body_read_error, malformed_request,
	  controller_build_failed).

	mbstf_api_requests_total{method, status}:
	  Counter of nmbstf-distsession API requests.

	mbstf_api_request_duration_seconds{method}:
	  Histogram of request latency.

	mbstf_objects_stored_total:
	  Gauge of objects currently held across all object stores.

	mbstf_objects_added_total / mbstf_objects_expired_total:
	  Counters of ObjectAdded / ObjectExpired events emitted.

	mbstf_pull_fetches_total{outcome} / mbstf_pull_fetch_duration_seconds:
	  Pull ingester fetch attempts and round-trip latency.

	mbstf_push_uploads_total{outcome} / mbstf_push_body_rejected_total:
	  Push ingest request outcomes and body-size-cap rejections.

	mbstf_packager_queue_depth{session_id} / mbstf_objects_sent_total /
	mbstf_send_duration_seconds:
	  Packager queue depth and send-completion counters/latency.

# Health registry

RegisterComponent/GetHealth/GetReadiness track liveness of the
distSessionAPI, objectStore, and pushIngest components; HealthHandler,
ReadyHandler, and LivenessHandler expose them over HTTP for cmd/mbstf.
*/
package metrics
