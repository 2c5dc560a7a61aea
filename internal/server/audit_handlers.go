package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mitchellh/mapstructure"

	"github.com/athendat/classical-server-app-sub000/internal/audit"
)

// auditHandlers implements spec §6's /audit query/summarize/archive surface
// (§4.8).
type auditHandlers struct {
	pipeline *audit.Pipeline
}

func newAuditHandlers(pipeline *audit.Pipeline) *auditHandlers {
	return &auditHandlers{pipeline: pipeline}
}

// decodeQueryFilter maps the /audit query string onto audit.QueryFilter,
// following the teacher's mapstructure.Decode approach to turning loosely
// typed request data into a concrete struct rather than a hand-rolled
// field-by-field switch.
func decodeQueryFilter(r *http.Request) (audit.QueryFilter, error) {
	q := r.URL.Query()
	raw := map[string]any{}
	if v := q["action"]; len(v) > 0 {
		raw["Action"] = v
	}
	if v := q["actorKid"]; len(v) > 0 {
		raw["ActorKid"] = v
	}
	if v := q["actorSub"]; len(v) > 0 {
		raw["ActorSub"] = v
	}
	if v := q["resourceType"]; len(v) > 0 {
		raw["ResourceType"] = v
	}
	if v := q["result"]; len(v) > 0 {
		raw["Result"] = v
	}
	if v := q["severity"]; len(v) > 0 {
		raw["Severity"] = v
	}
	if v := q["method"]; len(v) > 0 {
		raw["Method"] = v
	}
	if v := q["statusCode"]; len(v) > 0 {
		raw["StatusCode"] = v
	}
	if v := q.Get("atFrom"); v != "" {
		raw["AtFrom"] = v
	}
	if v := q.Get("atTo"); v != "" {
		raw["AtTo"] = v
	}
	if v := q.Get("text"); v != "" {
		raw["Text"] = v
	}
	if v := q.Get("page"); v != "" {
		raw["Page"] = v
	}
	if v := q.Get("limit"); v != "" {
		raw["Limit"] = v
	}
	if v := q.Get("sortBy"); v != "" {
		raw["SortBy"] = v
	}
	if v := q.Get("sortOrder"); v != "" {
		raw["SortOrder"] = v
	}

	var filter audit.QueryFilter
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
		Result:           &filter,
	})
	if err != nil {
		return filter, err
	}
	if err := decoder.Decode(raw); err != nil {
		return filter, err
	}
	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}
	return filter, nil
}

func (h *auditHandlers) query(w http.ResponseWriter, r *http.Request) {
	filter, err := decodeQueryFilter(r)
	if err != nil {
		writeBadRequest(w, r, "invalid query parameters")
		return
	}
	page, err := h.pipeline.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePaginated(w, r, page.Items, page.Page, page.Limit, page.Total)
}

func (h *auditHandlers) get(w http.ResponseWriter, r *http.Request) {
	event, err := h.pipeline.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, event)
}

func (h *auditHandlers) summarize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err1 := time.Parse(time.RFC3339, q.Get("from"))
	to, err2 := time.Parse(time.RFC3339, q.Get("to"))
	if err1 != nil || err2 != nil {
		writeBadRequest(w, r, "from and to must be RFC3339 timestamps")
		return
	}
	summary, err := h.pipeline.Summarize(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, summary)
}

type archiveRequest struct {
	BeforeEpochMs int64 `json:"beforeEpochMs"`
}

func (h *auditHandlers) archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body")
		return
	}
	count, err := h.pipeline.Archive(r.Context(), req.BeforeEpochMs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]int{"archived": count})
}
