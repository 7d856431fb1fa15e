package api

import (
	"encoding/json"
	"net/http"
)

// errorResponse is spec §5's required error body shape: {error, message}.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON encodes data as the response body with the given status code.
// Grounded in the example corpus's contract.WriteJSON helper, simplified
// to the plain envelope this spec calls for (no generic data wrapper, no
// RFC 7807 problem-details taxonomy — spec §5 specifies a flat body).
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the {error, message} body spec §5 requires. code is a
// short machine-readable label (e.g. "not_found"); message is free text.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
