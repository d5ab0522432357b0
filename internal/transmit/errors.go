package transmit

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies failures that happen before a response is read.
type ErrorKind string

const (
	MissingDestination ErrorKind = "missing_destination"
	EmptyPayload       ErrorKind = "empty_payload"
	Timeout            ErrorKind = "timeout"
	NetworkError       ErrorKind = "network_error"
)

var kindMessages = map[ErrorKind]string{
	MissingDestination: "No destination URL is configured.",
	EmptyPayload:       "The recording is empty; nothing to send.",
	Timeout:            "Request timeout: the endpoint did not respond in time.",
	NetworkError:       "Network error: could not reach the endpoint.",
}

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return kindMessages[e.Kind]
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrMissingDestination = &Error{Kind: MissingDestination}
	ErrEmptyPayload       = &Error{Kind: EmptyPayload}
	ErrTimeout            = &Error{Kind: Timeout}
	ErrNetwork            = &Error{Kind: NetworkError}
)

// StatusClass groups non-success HTTP responses.
type StatusClass string

const (
	ClientError StatusClass = "client_error"
	ServerError StatusClass = "server_error"
	OtherError  StatusClass = "unexpected_status"
)

// StatusError describes a response outside 2xx.
type StatusError struct {
	Status  int
	Class   StatusClass
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

var statusMessages = map[int]string{
	http.StatusBadRequest:            "Bad request: the endpoint rejected the upload.",
	http.StatusUnauthorized:          "Unauthorized: the endpoint requires authentication.",
	http.StatusForbidden:             "Forbidden: the endpoint refused the upload.",
	http.StatusNotFound:              "Endpoint not found: check the destination URL.",
	http.StatusRequestEntityTooLarge: "Payload too large: the recording exceeds the endpoint's size limit.",
	http.StatusUnprocessableEntity:   "Unprocessable entity: the endpoint could not process the audio.",
	http.StatusTooManyRequests:       "Too many requests: the endpoint is rate limiting uploads.",
	http.StatusInternalServerError:   "Server error: the endpoint failed while handling the upload.",
	http.StatusBadGateway:            "Bad gateway: the endpoint's upstream server failed.",
	http.StatusServiceUnavailable:    "Service unavailable: the endpoint is temporarily down.",
	http.StatusGatewayTimeout:        "Gateway timeout: the endpoint's upstream server timed out.",
}

func classOf(status int) StatusClass {
	switch {
	case status >= 400 && status < 500:
		return ClientError
	case status >= 500 && status < 600:
		return ServerError
	default:
		return OtherError
	}
}

// explain returns the fixed message for well-known failure codes, otherwise
// the server's own message, otherwise a generic one.
func explain(status int, serverMessage, statusLine string) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	if serverMessage != "" {
		return serverMessage
	}
	if statusLine != "" {
		return "Upload failed: " + statusLine
	}
	return fmt.Sprintf("Upload failed with HTTP %d.", status)
}
