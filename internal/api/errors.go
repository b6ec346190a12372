package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/agentify/agentifyd/pkg/models"
)

// statusFor maps a coded error to its HTTP status. Uncoded errors are
// internal.
func statusFor(err error) int {
	switch models.ErrorCode(err) {
	case "body_too_large":
		return http.StatusRequestEntityTooLarge
	case "missing_prompt", "prompt_too_large", "missing_url", "missing_tabId", "missing_key", "invalid_scope":
		return http.StatusBadRequest
	case "tab_not_found", "profile_not_found":
		return http.StatusNotFound
	case "tab_closed", "max_tabs_reached", "default_tab_protected", "already_generating":
		return http.StatusConflict
	case "max_inflight", "qpm", "tab_gap":
		return http.StatusTooManyRequests
	case "timeout_waiting_for_prompt", "timeout_waiting_for_response":
		return http.StatusGatewayTimeout
	case "missing_prompt_textarea", "type_failed", "send_not_triggered",
		"file_upload_unavailable", "missing_file_input":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string, data map[string]any) {
	body := map[string]any{"error": code}
	if len(data) > 0 {
		body["data"] = data
	}
	writeJSON(w, status, body)
}

// fail renders err. Coded errors keep their code and data; anything
// else becomes internal_error with the message attached.
func fail(w http.ResponseWriter, err error) {
	var coded *models.Error
	if errors.As(err, &coded) {
		status := statusFor(coded)
		if retry, ok := coded.Data["retryAfterMs"].(int64); ok && status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", msToSeconds(retry))
		}
		writeError(w, status, coded.Code, coded.Data)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", map[string]any{"message": err.Error()})
}

func msToSeconds(ms int64) string {
	secs := (ms + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
