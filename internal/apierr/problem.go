// ABOUTME: RFC 7807 problem documents for HTTP error responses
// ABOUTME: Unknown errors are masked as internal errors so causes never reach the caller

package apierr

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ContentTypeProblem is the media type of problem documents.
const ContentTypeProblem = "application/problem+json"

// TraceHeader carries the per-request trace id.
const TraceHeader = "X-Trace-ID"

const internalMessage = "There was an error. Please contact support."

// Problem is the JSON body written for failed requests.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
	Trace    string `json:"trace,omitempty"`
}

// ProblemFor builds the problem document for err as seen from r.
func ProblemFor(r *http.Request, trace string, err error) Problem {
	e, ok := As(err)
	if !ok {
		e = Wrap(KindInternal, internalMessage, err)
	}
	code := e.Kind.HTTPStatus()
	return Problem{
		Type:     "https://developer.mozilla.org/en-US/docs/Web/HTTP/Status/" + strconv.Itoa(code),
		Title:    e.Kind.String(),
		Status:   code,
		Detail:   e.Message,
		Instance: r.URL.Path,
		Trace:    trace,
	}
}

// WriteProblem writes err as a problem document.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	p := ProblemFor(r, w.Header().Get(TraceHeader), err)
	w.Header().Set("Content-Type", ContentTypeProblem)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
