// Package handlers provides HTTP handlers for the juillet API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/9in8/juillet/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps err onto a status code and error body. A request
// body cut short by http.MaxBytesReader is a client error.
func writeDomainError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusBadRequest, "file exceeds max size", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}

	status := statusFor(err)
	message := "internal error"
	detail := ""

	var de *domain.DomainError
	if errors.As(err, &de) {
		message = de.Message
		if de.Err != nil && status < http.StatusInternalServerError {
			detail = de.Err.Error()
		}
	}
	writeError(w, status, message, detail)
}

func statusFor(err error) int {
	switch domain.TypeOf(err) {
	case domain.ErrorTypeValidation, domain.ErrorTypeExtraction, domain.ErrorTypeAmbiguous:
		return http.StatusBadRequest
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	case domain.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// baseURL is the protocol and host the client used to reach the service.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}
