// Package models defines the core data structures for CoachPipe.
//
// It includes slot-filling state, member profile snapshots, clarification and
// generation envelopes, and the JSON API response shape shared across modules.
package models

// APIStatus is the outcome tag of an HTTP API envelope.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
	// APIStatusQuotaExceeded is a normal outcome: the member has no generation
	// calls left in the current window.
	APIStatusQuotaExceeded APIStatus = "quota_exceeded"
)

// APIResponse is the envelope every HTTP endpoint returns.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success wraps result in an ok envelope.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// SuccessWithMessage wraps result in an ok envelope carrying a human-readable message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Message: message, Result: result}
}

// Error builds an error envelope. Error envelopes never carry a result.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}

// QuotaExceeded builds the envelope for a denied generation, echoing the
// dispatcher response so clients can branch on its kind.
func QuotaExceeded(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusQuotaExceeded, Message: message, Result: result}
}
