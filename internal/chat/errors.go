package chat

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// FailureKind categorizes transport and model failures.
type FailureKind int

const (
	// FailureUnknown indicates an error that matched no known pattern.
	FailureUnknown FailureKind = iota
	// FailureInvalidRequest indicates the request was rejected as malformed.
	FailureInvalidRequest
	// FailureAuth indicates the API key is invalid, expired or lacks permissions.
	FailureAuth
	// FailureQuota indicates the quota was exceeded or the caller was rate limited.
	FailureQuota
	// FailureServer indicates a 5xx from the Gemini API.
	FailureServer
	// FailureNetwork indicates a connectivity problem before a response arrived.
	FailureNetwork
)

func (k FailureKind) String() string {
	switch k {
	case FailureInvalidRequest:
		return "invalid_request"
	case FailureAuth:
		return "auth"
	case FailureQuota:
		return "quota"
	case FailureServer:
		return "server"
	case FailureNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// GenerationFailure is returned when the model call itself failed: the
// request never produced a response body to interpret.
type GenerationFailure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *GenerationFailure) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GenerationFailure) Unwrap() error {
	return e.Err
}

// MalformedResponse is returned when the model answered but the text is not
// JSON of the expected shape. Raw keeps the response for diagnosis.
type MalformedResponse struct {
	Raw string
	Err error
}

func (e *MalformedResponse) Error() string {
	return fmt.Sprintf("malformed model response: %v", e.Err)
}

func (e *MalformedResponse) Unwrap() error {
	return e.Err
}

// Preview returns at most n bytes of the raw response, for logging.
func (e *MalformedResponse) Preview(n int) string {
	if len(e.Raw) <= n {
		return e.Raw
	}
	return e.Raw[:n] + "..."
}

// ClassifyError wraps err in a GenerationFailure. Typed Gemini API errors are
// classified by HTTP status; anything else by well-known message fragments.
func ClassifyError(err error) *GenerationFailure {
	if err == nil {
		return nil
	}

	var failure *GenerationFailure
	if errors.As(err, &failure) {
		return failure
	}

	// The SDK returns APIError by value; older code paths wrap a pointer.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyAPIError(apiErrPtr.Code, apiErrPtr.Message, err)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &GenerationFailure{Kind: FailureAuth, Message: "API key is invalid or has been revoked", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &GenerationFailure{Kind: FailureQuota, Message: "API quota exceeded or rate limited", Err: err}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return &GenerationFailure{Kind: FailureNetwork, Message: "Network error reaching the Gemini API", Err: err}

	default:
		return &GenerationFailure{Kind: FailureUnknown, Message: "Gemini API call failed", Err: err}
	}
}

func classifyAPIError(code int, message string, err error) *GenerationFailure {
	switch {
	case code == 400:
		return &GenerationFailure{Kind: FailureInvalidRequest, Message: "Bad request rejected by the Gemini API", Err: err}
	case code == 401 || code == 403:
		return &GenerationFailure{Kind: FailureAuth, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case code == 429:
		return &GenerationFailure{Kind: FailureQuota, Message: "API rate limit exceeded - try again later", Err: err}
	case code >= 500 && code <= 599:
		return &GenerationFailure{Kind: FailureServer, Message: "Gemini API server error - try again later", Err: err}
	default:
		if message == "" {
			message = "Gemini API error"
		}
		return &GenerationFailure{Kind: FailureUnknown, Message: message, Err: err}
	}
}
