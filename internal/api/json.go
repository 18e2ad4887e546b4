package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nuetzliches/sbinspect/internal/inspector"
)

const maxBodyBytes = 1 << 20

func decodeJSONBodyStrict(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody, "invalid JSON body: "+err.Error())
		return false
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			writeError(w, http.StatusBadRequest, errInvalidBody, "invalid JSON body: trailing JSON document is not allowed")
			return false
		}
		writeError(w, http.StatusBadRequest, errInvalidBody, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// errorResponse keeps "error" as the human-readable field; the web UI
// reads it directly.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code string, detail string) {
	writeJSON(w, status, errorResponse{Error: detail, Code: code})
}

// writeOpError maps every operation failure to 400.
func writeOpError(w http.ResponseWriter, opErr *inspector.OpError) {
	writeError(w, http.StatusBadRequest, opErr.Code, opErr.Detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
