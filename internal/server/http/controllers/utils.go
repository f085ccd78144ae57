package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/relay"
)

// maxBodyBytes bounds request bodies accepted by the admin API.
const maxBodyBytes = 4 << 20

// Helper functions for common HTTP responses

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeNoContent writes a 204 No Content response.
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// writeRelayError maps relay errors to status codes.
func writeRelayError(w http.ResponseWriter, err error) {
	var se *relay.StorageError
	switch {
	case errors.Is(err, relay.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &se):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// allowMethod writes 405 and returns false unless r uses one of methods.
func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// decodePayloads accepts a single payload object or an array of them.
// Missing timestamps are set to now.
func decodePayloads(w http.ResponseWriter, r *http.Request, now time.Time) ([]record.Payload, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}
	// Numbers in context stay exact until the relay normalizes them.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payloads []record.Payload
	if raw[0] == '[' {
		if err := dec.Decode(&payloads); err != nil {
			return nil, err
		}
	} else {
		var p record.Payload
		if err := dec.Decode(&p); err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	for i := range payloads {
		if payloads[i].Message == "" {
			return nil, fmt.Errorf("log %d: message is required", i)
		}
		if payloads[i].Timestamp.IsZero() {
			payloads[i].Timestamp = now
		}
	}
	return payloads, nil
}
