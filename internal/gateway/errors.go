package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

// APIError is a non-2xx response from the API. It unwraps to ticketing.ErrTransport.
type APIError struct {
	StatusCode int
	Detail     string
	Code       string
}

// Error returns the server detail when present, else the HTTP status text.
func (apiError *APIError) Error() string {
	detail := apiError.Detail
	if detail == "" {
		detail = http.StatusText(apiError.StatusCode)
	}
	return fmt.Sprintf("api status %d: %s", apiError.StatusCode, detail)
}

// Unwrap ties every API failure to the transport category.
func (apiError *APIError) Unwrap() error {
	return ticketing.ErrTransport
}

type detailEnvelope struct {
	Detail json.RawMessage `json:"detail"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

type validationIssue struct {
	Msg string `json:"msg"`
}

func newAPIError(statusCode int, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode}
	var envelope detailEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		apiError.Detail = strings.TrimSpace(string(body))
		return apiError
	}
	apiError.Detail = decodeDetail(envelope.Detail)
	if envelope.Error != nil {
		apiError.Code = envelope.Error.Code
		if apiError.Detail == "" {
			apiError.Detail = envelope.Error.Message
		}
	}
	if apiError.Detail == "" {
		apiError.Detail = envelope.Message
	}
	return apiError
}

// decodeDetail accepts a string detail or a list of validation issues.
func decodeDetail(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var issues []validationIssue
	if err := json.Unmarshal(raw, &issues); err == nil {
		messages := make([]string, 0, len(issues))
		for _, issue := range issues {
			if issue.Msg != "" {
				messages = append(messages, issue.Msg)
			}
		}
		return strings.Join(messages, "; ")
	}
	return string(raw)
}
