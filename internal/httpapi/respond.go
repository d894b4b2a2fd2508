package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jaydenbeard/gotham-party-one/internal/middleware"
	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

func callerCustomerID(r *http.Request) (string, bool) {
	return middleware.GetCustomerID(r.Context())
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError implements the error-status-code rule from the error handling
// design: a *store.StorageError (or any other unclassified failure) is an
// internal error surfaced as 500 with a plain-text body; every other error
// returned by a round handler is a business-logic decision (missing
// precondition, authorization denial, a protocol verification failure) and
// is surfaced as 200 with a JSON error payload, leaving retry policy to the
// caller.
func writeError(w http.ResponseWriter, err error) {
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		apiLog.Printf("internal error: %v", storageErr)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
}
