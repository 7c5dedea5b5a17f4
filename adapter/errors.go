package adapter

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	// ErrCodeNotConnected means there is no usable credential for the
	// account: the connection row is missing, marked disconnected, or has
	// no access token. No network call is attempted.
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"

	// ErrCodeRemoteAPI means the platform returned a non-2xx status or an
	// error envelope. The upstream message is surfaced verbatim.
	ErrCodeRemoteAPI ErrorCode = "REMOTE_API_ERROR"

	// ErrCodeMalformedRequest means a required param was missing or the
	// action is unknown.
	ErrCodeMalformedRequest ErrorCode = "MALFORMED_REQUEST"
)

// AdapterError is the failure taxonomy shared by every platform adapter.
// There are no retries, no backoff and no circuit breaking: each call either
// succeeds or surfaces the raw upstream error to the caller.
type AdapterError struct {
	Code           ErrorCode
	Message        string
	UpstreamStatus int
}

func (e *AdapterError) Error() string {
	if e.UpstreamStatus != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.UpstreamStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func notConnected(accountID, platform string) *AdapterError {
	return &AdapterError{
		Code:    ErrCodeNotConnected,
		Message: fmt.Sprintf("no usable %s credential for account %s", platform, accountID),
	}
}

func remoteAPIError(status int, body string) *AdapterError {
	return &AdapterError{
		Code:           ErrCodeRemoteAPI,
		Message:        body,
		UpstreamStatus: status,
	}
}

func malformedRequest(detail string) *AdapterError {
	return &AdapterError{
		Code:    ErrCodeMalformedRequest,
		Message: detail,
	}
}

// IsNotConnected reports whether err carries the NotConnected code.
func IsNotConnected(err error) bool {
	return hasCode(err, ErrCodeNotConnected)
}

// IsMalformedRequest reports whether err carries the MalformedRequest code.
func IsMalformedRequest(err error) bool {
	return hasCode(err, ErrCodeMalformedRequest)
}

// IsRemoteAPIError reports whether err carries the RemoteAPIError code.
func IsRemoteAPIError(err error) bool {
	return hasCode(err, ErrCodeRemoteAPI)
}

func hasCode(err error, code ErrorCode) bool {
	var adapterErr *AdapterError
	return errors.As(err, &adapterErr) && adapterErr.Code == code
}
