// Package audit implements the Audit Pipeline (C8): structured event
// capture, redaction, asynchronous persistence via a bounded dispatcher,
// and the response-capture join on requestId. logAllow/logDeny/logError are
// non-blocking from the caller's perspective — emission never raises.
package audit

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/athendat/classical-server-app-sub000/internal/eventbus"
	"github.com/athendat/classical-server-app-sub000/internal/reqctx"
)

// Result is the outcome classification of an audited decision.
type Result string

const (
	ResultAllow Result = "allow"
	ResultDeny  Result = "deny"
	ResultError Result = "error"
)

// Severity is the escalation level of an audit event.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Changes captures before/after snapshots for mutating operations.
type Changes struct {
	Before map[string]any
	After  map[string]any
}

// ErrorInfo captures the error{code,message,stack} shape from spec §4.8.
type ErrorInfo struct {
	Code    string
	Message string
	Stack   string
}

// Event is the AuditEvent entity from spec §3.
type Event struct {
	ID         string
	RequestID  string
	At         time.Time
	ActorKid   string
	ActorSub   string
	Action     string
	Module     string
	Result     Result
	Reason     string
	ResourceType string
	ResourceRef  string
	Method     string
	Endpoint   string
	Query      map[string][]string
	Headers    map[string][]string
	Payload    map[string]any
	StatusCode int
	LatencyMs  int64
	Response   any
	ChangesBefore map[string]any
	ChangesAfter  map[string]any
	ErrorCode    string
	ErrorMessage string
	Severity   Severity
	Tags       []string
}

// Opts bundles the optional fields accepted by logAllow/logDeny/logError.
type Opts struct {
	Module   string
	Reason   string
	Severity Severity
	Tags     []string
	Changes  *Changes
	Err      *ErrorInfo
}

// Store persists and queries audit events; satisfied by a bun-backed
// repository in production.
type Store interface {
	Insert(ctx context.Context, event Event) error
	Update(ctx context.Context, event Event) error
	Get(ctx context.Context, id string) (*Event, error)
	Query(ctx context.Context, filter QueryFilter) (Page, error)
	RecentUnresolvedByRequestID(ctx context.Context, requestID string, since time.Time, limit int) ([]Event, error)
	ArchiveBefore(ctx context.Context, beforeEpochMs int64) (int, error)
}

// QueryFilter mirrors the equality/$in-style filters spec §4.8 names.
type QueryFilter struct {
	Action       []string
	ActorKid     []string
	ActorSub     []string
	ResourceType []string
	Result       []string
	Severity     []string
	Method       []string
	StatusCode   []int
	AtFrom       *time.Time
	AtTo         *time.Time
	Text         string
	Page         int
	Limit        int
	SortBy       string
	SortOrder    string
}

// Page is a paginated query result.
type Page struct {
	Items      []Event
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// Summary is the result of summarize(range).
type Summary struct {
	Total        int
	ByResult     map[Result]int
	BySeverity   map[Severity]int
	EarliestAt   time.Time
	LatestAt     time.Time
}

const (
	dispatcherQueueSize = 1024
	persistTimeout      = 5 * time.Second
	joinWaitInterval    = 50 * time.Millisecond
	joinLookback        = 5 * time.Second
	joinMaxEvents       = 5
)

var sensitiveFieldNames = []string{"token", "secret", "password", "apikey", "ksn", "pin"}

// Pipeline is the Audit Pipeline (C8).
type Pipeline struct {
	store  Store
	bus    eventbus.Bus
	logger *log.Logger

	queue chan Event
	wg    sync.WaitGroup
}

// New constructs a Pipeline with a bounded dispatcher and starts its drain
// worker. Call Close to stop the worker during shutdown.
func New(store Store, bus eventbus.Bus) *Pipeline {
	p := &Pipeline{
		store:  store,
		bus:    bus,
		logger: log.New(log.Writer(), "audit: ", log.LstdFlags),
		queue:  make(chan Event, dispatcherQueueSize),
	}
	p.wg.Add(1)
	go p.drain()

	if bus != nil {
		bus.Subscribe(eventbus.TopicAuditResponseCapture, func(payload any) {
			if capture, ok := payload.(ResponseCapture); ok {
				go p.applyResponseCapture(capture)
			}
		})
	}

	return p
}

func (p *Pipeline) drain() {
	defer p.wg.Done()
	for event := range p.queue {
		p.persist(event)
	}
}

func (p *Pipeline) persist(event Event) {
	redactEvent(&event)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := p.store.Insert(ctx, event); err != nil {
		// Backpressure/failure: drop with a warning, never block the caller.
		p.logger.Printf("WARN dropped audit event requestId=%s action=%s: %v", event.RequestID, event.Action, err)
		return
	}
	if p.bus != nil {
		p.bus.Emit(eventbus.TopicAuditEventCreated, event.RequestID)
	}
}

// enqueue assembles a PartialAuditEvent from context and caller inputs and
// hands it to the dispatcher. Never blocks the caller beyond a full queue —
// a full queue drops the event, matching spec §5's overflow semantics.
func (p *Pipeline) enqueue(ctx context.Context, action, resourceType, resourceRef string, result Result, opts Opts) {
	actor := reqctx.GetActor(ctx)
	meta := reqctx.GetHTTPMetadata(ctx)

	severity := opts.Severity
	if severity == "" {
		severity = SeverityMedium
	}

	event := Event{
		RequestID:    reqctx.GetRequestID(ctx),
		At:           time.Now().UTC(),
		Action:       action,
		Module:       opts.Module,
		Result:       result,
		Reason:       opts.Reason,
		ResourceType: resourceType,
		ResourceRef:  resourceRef,
		Method:       meta.Method,
		Endpoint:     meta.Path,
		Query:        meta.Query,
		Headers:      meta.Headers,
		Severity:     severity,
		Tags:         opts.Tags,
	}
	if actor != nil {
		event.ActorKid = actor.ID
		event.ActorSub = actor.Sub
	}
	if opts.Changes != nil {
		event.ChangesBefore = opts.Changes.Before
		event.ChangesAfter = opts.Changes.After
	}
	if opts.Err != nil {
		event.ErrorCode = opts.Err.Code
		event.ErrorMessage = opts.Err.Message
	}

	select {
	case p.queue <- event:
	default:
		p.logger.Printf("WARN audit queue full, dropping event action=%s requestId=%s", action, event.RequestID)
	}
}

// LogAllow records an allow decision. Non-blocking.
func (p *Pipeline) LogAllow(ctx context.Context, action, resourceType, resourceRef string, opts Opts) {
	p.enqueue(ctx, action, resourceType, resourceRef, ResultAllow, opts)
}

// LogDeny records a deny decision. Non-blocking.
func (p *Pipeline) LogDeny(ctx context.Context, action, resourceType, resourceRef, reason string, opts Opts) {
	opts.Reason = reason
	p.enqueue(ctx, action, resourceType, resourceRef, ResultDeny, opts)
}

// LogError records an error outcome. Non-blocking.
func (p *Pipeline) LogError(ctx context.Context, action, resourceType, resourceRef string, err error, opts Opts) {
	if opts.Err == nil && err != nil {
		opts.Err = &ErrorInfo{Message: err.Error()}
	}
	p.enqueue(ctx, action, resourceType, resourceRef, ResultError, opts)
}

// ResponseCapture is the payload of audit.response-captured (spec §4.8).
type ResponseCapture struct {
	RequestID    string
	StatusCode   int
	Response     any
	ResponseTime time.Duration
	Method       string
	Endpoint     string
	Headers      map[string][]string
}

// applyResponseCapture implements the response-capture join: wait a short
// bounded interval, then update up to the most recent 5 events for
// requestId created within the last 5 seconds whose statusCode is unset.
func (p *Pipeline) applyResponseCapture(capture ResponseCapture) {
	time.Sleep(joinWaitInterval)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	since := time.Now().Add(-joinLookback)
	events, err := p.store.RecentUnresolvedByRequestID(ctx, capture.RequestID, since, joinMaxEvents)
	if err != nil {
		p.logger.Printf("WARN response-capture join failed requestId=%s: %v", capture.RequestID, err)
		return
	}

	for _, event := range events {
		event.StatusCode = capture.StatusCode
		event.Response = sanitizeResponse(capture.Response, 0)
		event.LatencyMs = capture.ResponseTime.Milliseconds()
		if err := p.store.Update(ctx, event); err != nil {
			p.logger.Printf("WARN response-capture update failed id=%s: %v", event.ID, err)
		}
	}
}

// Query implements the query surface from spec §4.8.
func (p *Pipeline) Query(ctx context.Context, filter QueryFilter) (Page, error) {
	return p.store.Query(ctx, filter)
}

// Get returns a single event by id.
func (p *Pipeline) Get(ctx context.Context, id string) (*Event, error) {
	return p.store.Get(ctx, id)
}

// Summarize returns totals, grouped counts, and the earliest/latest `at`
// within [from, to].
func (p *Pipeline) Summarize(ctx context.Context, from, to time.Time) (Summary, error) {
	// The store pages every query, so a one-row query first learns how many
	// events fall in range and a second query fetches all of them.
	filter := QueryFilter{AtFrom: &from, AtTo: &to, Limit: 1}
	page, err := p.store.Query(ctx, filter)
	if err != nil {
		return Summary{}, err
	}
	if page.Total > len(page.Items) {
		filter.Limit = page.Total
		if page, err = p.store.Query(ctx, filter); err != nil {
			return Summary{}, err
		}
	}

	summary := Summary{
		ByResult:   make(map[Result]int),
		BySeverity: make(map[Severity]int),
	}
	for i, e := range page.Items {
		summary.Total++
		summary.ByResult[e.Result]++
		summary.BySeverity[e.Severity]++
		if i == 0 || e.At.Before(summary.EarliestAt) {
			summary.EarliestAt = e.At
		}
		if i == 0 || e.At.After(summary.LatestAt) {
			summary.LatestAt = e.At
		}
	}
	return summary, nil
}

// Archive implements archive(beforeEpochMs).
func (p *Pipeline) Archive(ctx context.Context, beforeEpochMs int64) (int, error) {
	return p.store.ArchiveBefore(ctx, beforeEpochMs)
}

// Close stops the dispatcher's drain worker once the queue drains.
func (p *Pipeline) Close() {
	close(p.queue)
	p.wg.Wait()
}

const redactedValue = "***REDACTED***"

// redactEvent applies the redaction rule from spec §4.8 recursively over
// payload, response, changesBefore, changesAfter, and headers.
func redactEvent(event *Event) {
	event.Payload = redactMap(event.Payload)
	event.Response = redactAny(event.Response)
	event.ChangesBefore = redactMap(event.ChangesBefore)
	event.ChangesAfter = redactMap(event.ChangesAfter)
	event.Headers = redactHeaders(event.Headers)
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, needle := range sensitiveFieldNames {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

func redactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = redactAny(v)
	}
	return out
}

func redactAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return redactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactAny(item)
		}
		return out
	default:
		return v
	}
}

func redactHeaders(h map[string][]string) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if isSensitiveKey(k) {
			out[k] = []string{redactedValue}
			continue
		}
		out[k] = v
	}
	return out
}

// maxSanitizeDepth bounds recursion so a cyclic or pathologically deep
// response structure cannot hang the join worker; spec §4.8 calls for
// cyclic references to collapse to a sentinel string rather than recurse
// forever.
const maxSanitizeDepth = 16

// sanitizeResponse implements spec §4.8's non-serializable sanitation:
// errors become {name,message}, and structures nested past
// maxSanitizeDepth (the practical symptom of a cycle) collapse to a
// sentinel string.
func sanitizeResponse(v any, depth int) any {
	if depth > maxSanitizeDepth {
		return "[UNSERIALIZABLE]"
	}
	switch val := v.(type) {
	case error:
		return map[string]any{"name": "Error", "message": val.Error()}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = sanitizeResponse(item, depth+1)
		}
		return redactMap(out)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeResponse(item, depth+1)
		}
		return out
	default:
		return v
	}
}
