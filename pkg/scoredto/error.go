package scoredto

import "fmt"

// APIError is returned by the score backend client for non-2xx responses.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("score api error: status=%d %s", e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("score api error: status=%d code=%s", e.Status, e.Code)
	}
	return fmt.Sprintf("score api error: status=%d", e.Status)
}

// ErrorBody is the JSON error envelope the backend may send.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
