package client

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassDecode: the body did not match the expected shape.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassAPI: the API answered 4xx with a structured error payload.
	ErrorClassAPI ErrorClass = "api"

	// ErrorClassTransport: connection failure or a status outside 2xx/4xx.
	ErrorClassTransport ErrorClass = "transport"
)

// APIErrorPayload is the error object the API returns with 4xx responses.
// Fields beyond Status are optional and owned by the remote API.
type APIErrorPayload struct {
	Object   string   `json:"object,omitempty"`
	Status   int      `json:"status"`
	Code     string   `json:"code,omitempty"`
	Type     string   `json:"type,omitempty"`
	Details  string   `json:"details,omitempty"`
	Message  string   `json:"message,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Text returns the human-readable part of the payload.
func (p APIErrorPayload) Text() string {
	if p.Details != "" {
		return p.Details
	}
	return p.Message
}

// APIError is an application-level error signalled by the API.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	URL        string
	Payload    APIErrorPayload
}

// Error implements the error interface.
func (e *APIError) Error() string {
	status := e.Payload.Status
	if status == 0 {
		status = e.StatusCode
	}
	if e.Payload.Code != "" {
		return fmt.Sprintf("api error (status %d, %s): %s", status, e.Payload.Code, e.Payload.Text())
	}
	return fmt.Sprintf("api error (status %d): %s", status, e.Payload.Text())
}

// DecodeError means a response body could not be decoded into the target type.
type DecodeError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s (status %d): %v", e.URL, e.StatusCode, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TransportError is a network failure or an unexpected HTTP status.
// Exactly one of Err or StatusCode is set.
type TransportError struct {
	URL        string
	StatusCode int
	Status     string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("request %s: unexpected status %s", e.URL, e.Status)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Classify returns the class of err, or "" if err is not a fetch error.
func Classify(err error) ErrorClass {
	var (
		apiErr       *APIError
		decodeErr    *DecodeError
		transportErr *TransportError
	)
	switch {
	case errors.As(err, &apiErr):
		return ErrorClassAPI
	case errors.As(err, &decodeErr):
		return ErrorClassDecode
	case errors.As(err, &transportErr):
		return ErrorClassTransport
	default:
		return ""
	}
}
