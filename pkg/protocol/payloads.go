package protocol

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// RuntimeConfig is the INIT payload. Immutable after receipt.
type RuntimeConfig struct {
	SessionID string         `json:"sessionId"`
	Locale    string         `json:"locale,omitempty"`
	Brand     string         `json:"brand,omitempty"`
	FormID    string         `json:"formId,omitempty"`
	Answers   map[string]any `json:"answers,omitempty"`
	Theme     map[string]any `json:"theme,omitempty"`
	EventID   string         `json:"eventId,omitempty"`
	// ResponseID identifies a resumed response; empty for a fresh one.
	ResponseID  string `json:"responseId,omitempty"`
	CurrentPage int    `json:"currentPage,omitempty"`
}

type PageLoadedPayload struct {
	Ready     bool   `json:"ready"`
	Timestamp int64  `json:"timestamp"`
	Brand     string `json:"brand,omitempty"`
}

type ReadyPayload struct {
	PageCount   int    `json:"pageCount"`
	CurrentPage int    `json:"currentPage"`
	SessionID   string `json:"sessionId"`
}

type PageChangedPayload struct {
	PageNo     int    `json:"pageNo"`
	TotalPages int    `json:"totalPages"`
	PageName   string `json:"pageName,omitempty"`
}

type ValueChangedPayload struct {
	Name     string `json:"name"`
	Value    any    `json:"value"`
	Question string `json:"question,omitempty"`
}

// ProgressSnapshot is sent as SAVE_PROGRESS. Never read back.
type ProgressSnapshot struct {
	Answers     map[string]any `json:"answers"`
	CurrentPage int            `json:"currentPage"`
	IsCompleted bool           `json:"isCompleted"`
	CompletedAt int64          `json:"completedAt,omitempty"`
	EventID     string         `json:"eventId,omitempty"`
	ResponseID  string         `json:"responseId,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

type CompletePayload struct {
	Answers         map[string]any `json:"answers"`
	EventID         string         `json:"eventId,omitempty"`
	ResponseID      string         `json:"responseId,omitempty"`
	CompletedAt     int64          `json:"completedAt"`
	Duration        int64          `json:"duration"`
	DeviceSessionID string         `json:"deviceSessionId"`
}

// ErrorPayload is used both for the outbound lifecycle ERROR announcement
// and for inbound provider errors, which also carry a requestId.
type ErrorPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error"`
	Stack     string `json:"stack,omitempty"`
}

// RequestIDOf returns the requestId carried by raw, or "" if none. Only
// the one field is read; the rest of the payload is left to its owner.
func RequestIDOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	id := gjson.GetBytes(raw, "requestId")
	if id.Type != gjson.String {
		return ""
	}
	return id.Str
}
