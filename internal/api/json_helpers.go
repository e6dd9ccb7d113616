package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// envelope is the response shape every endpoint uses.
type envelope struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// writeOK merges extra fields into a success envelope.
func writeOK(w http.ResponseWriter, status int, extra map[string]interface{}) {
	payload := map[string]interface{}{"ok": true}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, status, payload)
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{OK: false, Message: message})
}

func writeFailDetail(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, envelope{OK: false, Message: message, Detail: detail})
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeFail(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
}
