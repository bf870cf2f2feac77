package api

import (
	"encoding/json"
	"net/http"

	errs "review-analytics/pkg/errors"
	"review-analytics/pkg/logging"
)

// envelope is the uniform success body. Optional fields appear only when the
// handler sets them.
type envelope struct {
	Success    bool `json:"success"`
	Data       any  `json:"data"`
	Count      *int `json:"count,omitempty"`
	Pagination any  `json:"pagination,omitempty"`
	LLMQueued  *int `json:"llm_processing_queued,omitempty"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps error kinds to HTTP statuses. Internal error details are
// hidden when hideInternals is set; validation and not-found messages are
// always safe to show.
func writeError(w http.ResponseWriter, log *logging.Logger, err error, hideInternals bool) {
	switch {
	case errs.Is(err, errs.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errs.Is(err, errs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		log.Error("request failed", logging.Err(err))
		msg := err.Error()
		if hideInternals {
			msg = "internal server error"
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msg})
	}
}

func intPtr(n int) *int { return &n }
