package server

import (
	"encoding/json"
	"net/http"

	"github.com/athendat/classical-server-app-sub000/internal/apperr"
	"github.com/athendat/classical-server-app-sub000/internal/reqctx"
)

// envelope is the response shape from spec §6: {ok, statusCode, data?,
// errors?, message?, meta?}.
type envelope struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Errors     string `json:"errors,omitempty"`
	Message    string `json:"message,omitempty"`
	Meta       *meta  `json:"meta,omitempty"`
}

type meta struct {
	RequestID  string      `json:"requestId,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
}

type pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	NextPage   *int `json:"nextPage,omitempty"`
	PrevPage   *int `json:"prevPage,omitempty"`
	HasMore    bool `json:"hasMore"`
}

func writeOK(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, envelope{
		OK:         true,
		StatusCode: status,
		Data:       data,
		Meta:       &meta{RequestID: reqctx.GetRequestID(r.Context())},
	})
}

func writePaginated(w http.ResponseWriter, r *http.Request, data any, page, limit, total int) {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	var next, prev *int
	if page < totalPages {
		n := page + 1
		next = &n
	}
	if page > 1 {
		p := page - 1
		prev = &p
	}
	writeJSON(w, http.StatusOK, envelope{
		OK:         true,
		StatusCode: http.StatusOK,
		Data:       data,
		Meta: &meta{
			RequestID: reqctx.GetRequestID(r.Context()),
			Pagination: &pagination{
				Page: page, Limit: limit, Total: total, TotalPages: totalPages,
				NextPage: next, PrevPage: prev, HasMore: next != nil,
			},
		},
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	if appErr, ok := err.(*apperr.Error); ok {
		status = appErr.HTTPStatus()
		message = string(appErr.Code)
	}
	writeJSON(w, status, envelope{
		OK:         false,
		StatusCode: status,
		Errors:     message,
		Meta:       &meta{RequestID: reqctx.GetRequestID(r.Context())},
	})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusBadRequest, envelope{
		OK:         false,
		StatusCode: http.StatusBadRequest,
		Errors:     message,
		Meta:       &meta{RequestID: reqctx.GetRequestID(r.Context())},
	})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
