package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"reframe/internal/counseling"
	"reframe/internal/llm"
	"reframe/internal/store"
)

// Wire error codes. Parse failures inside the AI path never surface here;
// they degrade to fallback payloads upstream.
const (
	codeUnauthenticated     = "UNAUTHENTICATED"
	codeInvalidArgument     = "INVALID_ARGUMENT"
	codeNotFound            = "NOT_FOUND"
	codeResourceExhausted   = "RESOURCE_EXHAUSTED"
	codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	codeInternal            = "INTERNAL"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeServiceError maps domain errors onto the wire taxonomy.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *counseling.ValidationError
	var ooo *counseling.OutOfOrderError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "session not found")
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, codeInvalidArgument, ve.Error())
	case errors.As(err, &ooo):
		writeError(w, http.StatusBadRequest, codeInvalidArgument, ooo.Error())
	case errors.Is(err, counseling.ErrSessionCompleted):
		writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
	case errors.Is(err, llm.ErrEmptyResponse):
		writeError(w, http.StatusBadGateway, codeUpstreamUnavailable, "generation backend unavailable")
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
