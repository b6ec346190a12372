package models

import "errors"

// Error is a coded error. Code is the stable identifier callers match on
// and the HTTP layer maps to a status; Data is an optional diagnostic
// payload (last snapshot, required wait, etc).
type Error struct {
	Code string
	Data map[string]any
}

func (e *Error) Error() string { return e.Code }

// Is matches two coded errors by code, so sentinel values work with
// errors.Is even after With has copied them.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// With returns a copy of the error carrying an extra data field. The
// receiver is not mutated, so sentinels stay clean.
func (e *Error) With(key string, value any) *Error {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	return &Error{Code: e.Code, Data: data}
}

// ErrorCode extracts the code from err, or "" if err is not coded.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ErrorData extracts the diagnostic payload from err, or nil.
func ErrorData(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Data
	}
	return nil
}

// Input validation.
var (
	ErrMissingPrompt  = &Error{Code: "missing_prompt"}
	ErrPromptTooLarge = &Error{Code: "prompt_too_large"}
	ErrMissingURL     = &Error{Code: "missing_url"}
	ErrMissingTabID   = &Error{Code: "missing_tabId"}
	ErrMissingKey     = &Error{Code: "missing_key"}
	ErrBodyTooLarge   = &Error{Code: "body_too_large"}
)

// Session resolution.
var (
	ErrTabNotFound         = &Error{Code: "tab_not_found"}
	ErrTabClosed           = &Error{Code: "tab_closed"}
	ErrMaxTabsReached      = &Error{Code: "max_tabs_reached"}
	ErrDefaultTabProtected = &Error{Code: "default_tab_protected"}
)

// Automation.
var (
	ErrMissingPromptTextarea = &Error{Code: "missing_prompt_textarea"}
	ErrTypeFailed            = &Error{Code: "type_failed"}
	ErrAlreadyGenerating     = &Error{Code: "already_generating"}
	ErrSendNotTriggered      = &Error{Code: "send_not_triggered"}
	ErrFileUploadUnavailable = &Error{Code: "file_upload_unavailable"}
	ErrMissingFileInput      = &Error{Code: "missing_file_input"}
)

// Timeouts. Callers should treat these as "still pending, check status":
// the underlying session keeps going after the caller's deadline.
var (
	ErrTimeoutWaitingForPrompt   = &Error{Code: "timeout_waiting_for_prompt"}
	ErrTimeoutWaitingForResponse = &Error{Code: "timeout_waiting_for_response"}
)

// Admission. Gap rejections carry "retryAfterMs" in Data so callers can
// back off deterministically.
var (
	ErrMaxInflight = &Error{Code: "max_inflight"}
	ErrQPM         = &Error{Code: "qpm"}
	ErrTabGap      = &Error{Code: "tab_gap"}
)

// Profiles.
var ErrProfileNotFound = &Error{Code: "profile_not_found"}
