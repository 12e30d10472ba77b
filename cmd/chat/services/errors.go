package services

import (
	"errors"
	"net/http"

	"nutriwise/cmd/chat/clients/chatclient"
	"nutriwise/cmd/chat/identity"
)

// Error codes surfaced to the UI layer. The UI shows a dismissable notice
// keyed off these; none of them is fatal to the service.
const (
	ErrCodeNetworkFailed    = "network_failed"
	ErrCodeNotFound         = "not_found"
	ErrCodeIdentityNotReady = "identity_not_ready"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeChatUnavailable  = "chat_unavailable"
)

// ChatError is the single error type crossing the service boundary.
// Raw client errors are normalized into it; stores never see errors at all.
type ChatError struct {
	Op        string
	ErrorCode string
	Cause     error
}

func (e *ChatError) Error() string {
	if e == nil {
		return ErrCodeNetworkFailed
	}
	return e.Op + ": " + e.ErrorCode
}

func (e *ChatError) Unwrap() error {
	return e.Cause
}

// normalizeClientError converts chatclient failures into a ChatError with a
// stable error code.
func normalizeClientError(op string, err error) *ChatError {
	if errors.Is(err, identity.ErrNotReady) {
		return &ChatError{Op: op, ErrorCode: ErrCodeIdentityNotReady, Cause: err}
	}
	if errors.Is(err, chatclient.ErrNotFound) {
		return &ChatError{Op: op, ErrorCode: ErrCodeNotFound, Cause: err}
	}

	var httpErr *chatclient.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests:
			return &ChatError{Op: op, ErrorCode: ErrCodeRateLimited, Cause: err}
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return &ChatError{Op: op, ErrorCode: ErrCodeChatUnavailable, Cause: err}
		}
	}
	return &ChatError{Op: op, ErrorCode: ErrCodeNetworkFailed, Cause: err}
}
