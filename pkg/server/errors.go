package server

import (
	"encoding/json"
	"net/http"

	"github.com/oceanbase/memstore/pkg/model"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    model.Kind `json:"kind"`
	Message string     `json:"message"`
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind model.Kind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case model.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	writeErrorKind(w, StatusOf(kind), kind, err.Error())
}

func writeErrorKind(w http.ResponseWriter, status int, kind model.Kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
