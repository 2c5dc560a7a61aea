package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/athendat/classical-server-app-sub000/internal/audit"
	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/reqctx"
)

// auditResponseCaptureBodyLimit bounds how much of a response body is
// buffered for the audit join; bodies past this are truncated rather than
// held in full, matching spec §4.8's bound on response size carried in an
// audit event.
const auditResponseCaptureBodyLimit = 64 * 1024

// captureWriter wraps http.ResponseWriter to record the status code and a
// bounded copy of the body written, without altering what the client
// receives.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	if c.body.Len() < auditResponseCaptureBodyLimit {
		remaining := auditResponseCaptureBodyLimit - c.body.Len()
		if remaining > len(b) {
			remaining = len(b)
		}
		c.body.Write(b[:remaining])
	}
	return c.ResponseWriter.Write(b)
}

// AuditResponseCapture wraps every request's ResponseWriter and, once the
// handler completes, emits eventbus.TopicAuditResponseCapture so the Audit
// Pipeline's response-capture join can backfill statusCode/response/
// latencyMs onto the events logAllow/logDeny/logError already recorded for
// this requestId (spec §4.8). Mount after Authenticate so reqctx.Values are
// already bound.
func AuditResponseCapture(bus eventbus.Bus) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cw := &captureWriter{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(cw, r)

			if bus == nil {
				return
			}

			meta := reqctx.GetHTTPMetadata(r.Context())
			bus.Emit(eventbus.TopicAuditResponseCapture, auditResponseCapturePayload(r, meta, cw, start))
		})
	}
}

func auditResponseCapturePayload(r *http.Request, meta reqctx.HTTPMetadata, cw *captureWriter, start time.Time) audit.ResponseCapture {
	method := meta.Method
	if method == "" {
		method = r.Method
	}
	endpoint := meta.Path
	if endpoint == "" {
		endpoint = r.URL.Path
	}

	var body any = cw.body.String()
	var decoded any
	if json.Unmarshal(cw.body.Bytes(), &decoded) == nil {
		body = decoded
	}

	return audit.ResponseCapture{
		RequestID:    requestID(r),
		StatusCode:   cw.status,
		Response:     body,
		ResponseTime: time.Since(start),
		Method:       method,
		Endpoint:     endpoint,
		Headers:      meta.Headers,
	}
}
