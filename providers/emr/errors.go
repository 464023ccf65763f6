package emr

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingRegion is returned when a region is explicitly set to empty.
// Omitting the region falls back to DefaultRegion instead.
var ErrMissingRegion = errors.New("region must not be empty")

// ErrMissingOperation is returned by Submit when the parameter tree names no operation
var ErrMissingOperation = errors.New("request has no operation")

// ErrUnsupportedSignature is returned by Client operations over a V2 session.
// Legacy-signed requests are answered in XML, which Client does not decode, so
// the request is refused before it is sent.
var ErrUnsupportedSignature = errors.New("typed operations require signature version v4")

// ThrottlingError is a rate-limit rejection. Callers may back off and retry.
type ThrottlingError struct {
	Type       string
	Message    string
	StatusCode int
}

func (e *ThrottlingError) Error() string {
	return fmt.Sprintf("request throttled (%d %s): %s", e.StatusCode, e.Type, e.Message)
}

// InvalidRequestError is any other client-side rejection. It is not retryable.
type InvalidRequestError struct {
	Type       string
	Message    string
	StatusCode int
}

func (e *InvalidRequestError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid request (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("invalid request (%d %s): %s", e.StatusCode, e.Type, e.Message)
}

// ServiceError is a server-side failure of the control plane
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error (%d): %s", e.StatusCode, e.Body)
}

// IsThrottling reports whether err is, or wraps, a ThrottlingError
func IsThrottling(err error) bool {
	var throttled *ThrottlingError
	return errors.As(err, &throttled)
}

var throttlingTypes = map[string]bool{
	"ThrottlingException": true,
	"Throttling":          true,
}

// classifyResponse turns a non-2xx response into a typed error
func classifyResponse(status int, body []byte) error {
	if status >= http.StatusInternalServerError {
		return &ServiceError{StatusCode: status, Body: strings.TrimSpace(string(body))}
	}

	errType, message := parseErrorBody(body)
	if throttlingTypes[errType] {
		return &ThrottlingError{Type: errType, Message: message, StatusCode: status}
	}
	return &InvalidRequestError{Type: errType, Message: message, StatusCode: status}
}

type jsonErrorBody struct {
	Type         string `json:"__type"`
	Message      string `json:"message"`
	MessageUpper string `json:"Message"`
}

type xmlErrorBody struct {
	Error struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"Error"`
}

// parseErrorBody extracts the error type token and message from either
// a JSON document ({"__type", "message"}) or an XML ErrorResponse.
func parseErrorBody(body []byte) (string, string) {
	trimmed := strings.TrimSpace(string(body))

	if strings.HasPrefix(trimmed, "{") {
		var doc jsonErrorBody
		if err := json.Unmarshal(body, &doc); err == nil {
			message := doc.Message
			if message == "" {
				message = doc.MessageUpper
			}
			errType := doc.Type
			// "com.amazonaws.elasticmapreduce#ThrottlingException"
			if i := strings.LastIndex(errType, "#"); i >= 0 {
				errType = errType[i+1:]
			}
			return errType, message
		}
	}

	if strings.HasPrefix(trimmed, "<") {
		var doc xmlErrorBody
		if err := xml.Unmarshal(body, &doc); err == nil {
			return doc.Error.Code, doc.Error.Message
		}
	}

	return "", trimmed
}
