package api

import (
	"encoding/json"
	"net/http"

	"github.com/5g-mag/mbs-traffic-function/pkg/apperror"
)

// ProblemDetails is the application/problem+json document returned for
// every non-2xx response, per spec section 6.
type ProblemDetails struct {
	Type          string         `json:"type,omitempty"`
	Title         string         `json:"title"`
	Status        int            `json:"status"`
	Detail        string         `json:"detail,omitempty"`
	Instance      string         `json:"instance,omitempty"`
	InvalidParams []InvalidParam `json:"invalid_params,omitempty"`
}

// InvalidParam names one request field that failed validation and why.
type InvalidParam struct {
	Param  string `json:"param"`
	Reason string `json:"reason"`
}

func titleForStatus(status int) string {
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "Error"
}

// writeProblem renders status as an application/problem+json document.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string, params []apperror.InvalidParam) {
	pd := ProblemDetails{
		Title:    titleForStatus(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
	for _, p := range params {
		pd.InvalidParams = append(pd.InvalidParams, InvalidParam{Param: p.Param, Reason: p.Reason})
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(pd)
}

// writeAppError renders err as a ProblemDetails document, using its
// *apperror.Error Status, Message and Params if present, otherwise
// treating it as an opaque 500. The error's Kind is not rendered; the
// document's type field is left empty.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := apperror.As(err); ok {
		var params []apperror.InvalidParam
		params = append(params, ae.Params...)
		writeProblem(w, r, ae.Status(), ae.Message, params)
		return
	}
	writeProblem(w, r, http.StatusInternalServerError, err.Error(), nil)
}
