// Package types holds the JSON envelopes shared by every HTTP response.
package types

// SuccessEnvelope wraps a 2xx body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public part of a failure. Details are only set for codes
// that allow them.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
