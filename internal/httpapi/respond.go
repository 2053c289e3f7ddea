package httpapi

import (
	"encoding/json"
	"net/http"
)

// maxRequestBody caps admin and gate request bodies. The largest payload
// is a vehicle upsert at well under 1 KiB, so 64 KiB is generous.
const maxRequestBody = 64 << 10

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
