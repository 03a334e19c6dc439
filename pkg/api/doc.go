/*
Package api implements the nmbstf-distsession v1 REST surface: the HTTP/JSON
interface control-plane clients use to create, inspect, and tear down
Distribution Sessions.

The server is a thin layer over pkg/session and pkg/controller: it decodes
and validates the HTTP envelope (method, path, content type, API version),
delegates session creation/lookup/deletion to a session.Registry, and
builds each session's Controller through a controller.Factory. All
component construction failures and malformed requests are rendered as
application/problem+json documents per the ProblemDetails shape.
*/
package api
